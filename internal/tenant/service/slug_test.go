package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/smallbiznis/atrium/internal/tenant/domain"
)

func TestNormalizeSlug(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: "acme", want: "acme"},
		{name: "mixed case and spaces", raw: "  Acme Rockets  ", want: "acme-rockets"},
		{name: "unicode transliterated", raw: "Café Olé", want: "cafe-ole"},
		{name: "too short", raw: "ab", wantErr: domain.ErrInvalidSlug},
		{name: "too long", raw: strings.Repeat("a", 70), wantErr: domain.ErrInvalidSlug},
		{name: "reserved", raw: "API", wantErr: domain.ErrReservedSlug},
		{name: "reserved www", raw: "www", wantErr: domain.ErrReservedSlug},
		{name: "empty", raw: "", wantErr: domain.ErrInvalidSlug},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeSlug(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("NormalizeSlug(%q) err = %v, want %v", tc.raw, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSlug(%q) returned error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeSlug(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestSchemaForSlug(t *testing.T) {
	if got := SchemaForSlug("acme-rockets"); got != "tenant_acme_rockets" {
		t.Fatalf("SchemaForSlug = %q, want tenant_acme_rockets", got)
	}
}
