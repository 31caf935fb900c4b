package service

import (
	"regexp"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/atrium/internal/tenant/domain"
)

const (
	slugMinLen = 3
	slugMaxLen = 63
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Subdomains that can never become tenant slugs.
var reservedSlugs = map[string]struct{}{
	"www":     {},
	"api":     {},
	"app":     {},
	"admin":   {},
	"mail":    {},
	"static":  {},
	"status":  {},
	"catalog": {},
	"public":  {},
	"billing": {},
}

// NormalizeSlug lowercases and transliterates the raw input, then validates
// it as a routing slug: lowercase alnum/hyphen, length-bounded, not reserved.
func NormalizeSlug(raw string) (string, error) {
	normalized := slug.Make(strings.TrimSpace(raw))
	if len(normalized) < slugMinLen || len(normalized) > slugMaxLen {
		return "", domain.ErrInvalidSlug
	}
	if !slugRe.MatchString(normalized) {
		return "", domain.ErrInvalidSlug
	}
	if _, ok := reservedSlugs[normalized]; ok {
		return "", domain.ErrReservedSlug
	}
	return normalized, nil
}

// SchemaForSlug derives the partition schema name from a validated slug.
func SchemaForSlug(validated string) string {
	return "tenant_" + strings.ReplaceAll(validated, "-", "_")
}
