package code

import (
	"strings"

	"codealloc/internal/core/apperror"
)

// SequenceKey identifies one independent monotonic counter.
type SequenceKey struct {
	Kind   Kind
	Prefix string
	Period string
}

// String renders the storage form KIND/PREFIX/PERIOD, e.g. ISRC/US-ABC/24.
func (k SequenceKey) String() string {
	return string(k.Kind) + "/" + k.Prefix + "/" + k.Period
}

// ParseSequenceKey parses the output of SequenceKey.String.
func ParseSequenceKey(s string) (SequenceKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return SequenceKey{}, apperror.NewInvalidFormat("sequence key must look like KIND/PREFIX/PERIOD").
			WithDetail("sequenceKey", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return SequenceKey{}, err
	}
	key := SequenceKey{Kind: kind, Prefix: parts[1], Period: parts[2]}
	if _, err := key.Config(); err != nil {
		return SequenceKey{}, err
	}
	return key, nil
}

// Config rebuilds the prefix configuration a key was derived from.
func (k SequenceKey) Config() (PrefixConfig, error) {
	cfg := PrefixConfig{Kind: k.Kind, Period: k.Period}
	switch k.Kind {
	case KindISRC:
		country, registrant, ok := strings.Cut(k.Prefix, "-")
		if !ok {
			return PrefixConfig{}, apperror.NewInvalidFormat("ISRC key prefix must be CC-XXX").
				WithDetail("prefix", k.Prefix)
		}
		cfg.CountryCode, cfg.RegistrantCode = country, registrant
	case KindUPC:
		cfg.ManufacturerCode = k.Prefix
	default:
		return PrefixConfig{}, apperror.NewInvalidKind(string(k.Kind))
	}
	if err := ValidatePrefix(cfg); err != nil {
		return PrefixConfig{}, err
	}
	return cfg, nil
}
