package code

import (
	"fmt"
	"strings"
	"time"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/id"
)

// PrefixFields are the administrator-controlled parts of a prefix.
// ISRC uses CountryCode + RegistrantCode, UPC uses ManufacturerCode.
type PrefixFields struct {
	CountryCode      string
	RegistrantCode   string
	ManufacturerCode string
}

// Normalize trims whitespace and upper-cases alphabetic segments.
func (f PrefixFields) Normalize() PrefixFields {
	return PrefixFields{
		CountryCode:      strings.ToUpper(strings.TrimSpace(f.CountryCode)),
		RegistrantCode:   strings.ToUpper(strings.TrimSpace(f.RegistrantCode)),
		ManufacturerCode: strings.TrimSpace(f.ManufacturerCode),
	}
}

// PrefixConfig is the active prefix of a kind at a point in time.
// Changing any prefix field or the period starts a new SequenceKey.
type PrefixConfig struct {
	ID               id.ID      `db:"id"`
	Kind             Kind       `db:"kind"`
	CountryCode      string     `db:"country_code"`
	RegistrantCode   string     `db:"registrant_code"`
	ManufacturerCode string     `db:"manufacturer_code"`
	Period           string     `db:"period"`
	Version          int        `db:"version"`
	CreatedBy        string     `db:"created_by"`
	Reason           string     `db:"reason"`
	CreatedAt        time.Time  `db:"created_at"`
	SupersededAt     *time.Time `db:"superseded_at"`

	// LastSequence is the counter value of Key() when the config was read.
	// It is informational only and never persisted with the config.
	LastSequence uint64 `db:"-"`
}

// NewPrefixConfig builds a config for kind with the given fields and period.
func NewPrefixConfig(kind Kind, fields PrefixFields, period string) PrefixConfig {
	f := fields.Normalize()
	cfg := PrefixConfig{
		ID:     id.New(),
		Kind:   kind,
		Period: period,
	}
	switch kind {
	case KindISRC:
		cfg.CountryCode = f.CountryCode
		cfg.RegistrantCode = f.RegistrantCode
	case KindUPC:
		cfg.ManufacturerCode = f.ManufacturerCode
	}
	return cfg
}

// Fields returns the prefix fields of cfg.
func (c PrefixConfig) Fields() PrefixFields {
	return PrefixFields{
		CountryCode:      c.CountryCode,
		RegistrantCode:   c.RegistrantCode,
		ManufacturerCode: c.ManufacturerCode,
	}
}

// Prefix returns the code prefix segment used in sequence keys.
func (c PrefixConfig) Prefix() string {
	if c.Kind == KindISRC {
		return c.CountryCode + "-" + c.RegistrantCode
	}
	return c.ManufacturerCode
}

// Key derives the counter identity of cfg.
func (c PrefixConfig) Key() SequenceKey {
	return SequenceKey{Kind: c.Kind, Prefix: c.Prefix(), Period: c.Period}
}

// WithPeriod returns a successor of c that differs only in period.
func (c PrefixConfig) WithPeriod(period string) PrefixConfig {
	next := NewPrefixConfig(c.Kind, c.Fields(), period)
	next.Reason = "period rollover"
	return next
}

// ValidatePrefixFields checks the shape of administrator supplied fields.
func ValidatePrefixFields(kind Kind, fields PrefixFields) error {
	f := fields.Normalize()
	switch kind {
	case KindISRC:
		if len(f.CountryCode) != 2 || !isUpperAlpha(f.CountryCode) {
			return apperror.NewInvalidFormat("country code must be 2 letters").
				WithDetail("countryCode", fields.CountryCode)
		}
		if len(f.RegistrantCode) != 3 || !isUpperAlnum(f.RegistrantCode) {
			return apperror.NewInvalidFormat("registrant code must be 3 alphanumerics").
				WithDetail("registrantCode", fields.RegistrantCode)
		}
	case KindUPC:
		n := len(f.ManufacturerCode)
		if n < MinManufacturerDigits || n > MaxManufacturerDigits || !isDigits(f.ManufacturerCode) {
			return apperror.NewInvalidFormat(fmt.Sprintf(
				"manufacturer code must be %d-%d digits", MinManufacturerDigits, MaxManufacturerDigits)).
				WithDetail("manufacturerCode", fields.ManufacturerCode)
		}
	default:
		return apperror.NewInvalidKind(string(kind))
	}
	return nil
}

// ValidatePrefix checks fields and period token of cfg.
func ValidatePrefix(cfg PrefixConfig) error {
	if err := ValidatePrefixFields(cfg.Kind, cfg.Fields()); err != nil {
		return err
	}
	switch cfg.Kind {
	case KindISRC:
		if len(cfg.Period) != 2 || !isDigits(cfg.Period) {
			return apperror.NewInvalidFormat("ISRC period must be a two-digit year").
				WithDetail("period", cfg.Period)
		}
	case KindUPC:
		if cfg.Period != NoPeriod {
			return apperror.NewInvalidFormat("UPC prefixes do not roll over").
				WithDetail("period", cfg.Period)
		}
	}
	return nil
}
