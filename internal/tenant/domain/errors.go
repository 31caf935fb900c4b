package domain

import "errors"

var (
	ErrInvalidSlug    = errors.New("invalid tenant slug")
	ErrReservedSlug   = errors.New("tenant slug is reserved")
	ErrSlugTaken      = errors.New("tenant slug already taken")
	ErrDomainTaken    = errors.New("domain already taken")
	ErrTenantNotFound = errors.New("tenant not found")
)
