package code

import (
	"fmt"
	"regexp"
	"strconv"

	"codealloc/internal/core/apperror"
)

const (
	// ISRCSequenceWidth is the fixed width of the ISRC designation code.
	ISRCSequenceWidth = 5

	// UPCLength is the total length of a UPC-A code including the check digit.
	UPCLength = 12

	// MinManufacturerDigits and MaxManufacturerDigits bound the GS1 company prefix.
	MinManufacturerDigits = 6
	MaxManufacturerDigits = 10
)

var isrcPattern = regexp.MustCompile(`^([A-Z]{2})-([A-Z0-9]{3})-([0-9]{2})-([0-9]{5})$`)

// Capacity returns the largest sequence number representable under cfg.
func Capacity(cfg PrefixConfig) uint64 {
	switch cfg.Kind {
	case KindISRC:
		return pow10(ISRCSequenceWidth) - 1
	case KindUPC:
		width := UPCLength - 1 - len(cfg.ManufacturerCode)
		if width <= 0 {
			return 0
		}
		return pow10(width) - 1
	}
	return 0
}

// Format renders sequence seq under cfg.
//
//	ISRC: CC-XXX-YY-NNNNN, e.g. US-ABC-24-00124
//	UPC:  manufacturer + zero-padded item reference + GS1 check digit
func Format(cfg PrefixConfig, seq uint64) (string, error) {
	if err := ValidatePrefix(cfg); err != nil {
		return "", err
	}
	if seq == 0 {
		return "", apperror.NewInvalidFormat("sequence numbers start at 1")
	}
	if limit := Capacity(cfg); seq > limit {
		return "", apperror.NewSequenceOverflow(cfg.Key().String(), limit).
			WithDetail("sequence", seq)
	}

	f := cfg.Fields().Normalize()
	switch cfg.Kind {
	case KindISRC:
		return fmt.Sprintf("%s-%s-%s-%0*d", f.CountryCode, f.RegistrantCode, cfg.Period, ISRCSequenceWidth, seq), nil
	case KindUPC:
		width := UPCLength - 1 - len(f.ManufacturerCode)
		payload := fmt.Sprintf("%s%0*d", f.ManufacturerCode, width, seq)
		check, err := CheckDigit(payload)
		if err != nil {
			return "", err
		}
		return payload + strconv.Itoa(check), nil
	}
	return "", apperror.NewInvalidKind(string(cfg.Kind))
}

// Derive re-creates the code issued as seq under key.
func Derive(key SequenceKey, seq uint64) (string, error) {
	cfg, err := key.Config()
	if err != nil {
		return "", err
	}
	return Format(cfg, seq)
}

// Validate reports whether value is a well-formed code of the given kind.
func Validate(value string, kind Kind) bool {
	return Check(value, kind) == nil
}

// Check is Validate with a reason: it returns an InvalidFormat error
// describing the first rule value breaks.
func Check(value string, kind Kind) error {
	switch kind {
	case KindISRC:
		if !isrcPattern.MatchString(value) {
			return apperror.NewInvalidFormat("ISRC must match CC-XXX-YY-NNNNN").WithDetail("code", value)
		}
		return nil
	case KindUPC:
		if len(value) != UPCLength || !isDigits(value) {
			return apperror.NewInvalidFormat("UPC must be 12 digits").WithDetail("code", value)
		}
		check, err := CheckDigit(value[:UPCLength-1])
		if err != nil {
			return err
		}
		if int(value[UPCLength-1]-'0') != check {
			return apperror.NewInvalidFormat("UPC check digit mismatch").
				WithDetail("code", value).
				WithDetail("expected", check)
		}
		return nil
	}
	return apperror.NewInvalidKind(string(kind))
}

// CheckDigit computes the GS1 mod-10 check digit of payload.
// Digits are weighted 3 and 1 alternately, starting with 3 at the rightmost
// payload digit; the check digit brings the sum to a multiple of 10.
func CheckDigit(payload string) (int, error) {
	if payload == "" || !isDigits(payload) {
		return 0, apperror.NewInvalidFormat("check digit payload must be numeric").WithDetail("payload", payload)
	}
	sum := 0
	for i := 0; i < len(payload); i++ {
		d := int(payload[len(payload)-1-i] - '0')
		if i%2 == 0 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10, nil
}

// ParseISRC splits a valid ISRC into its sequence key and sequence number.
func ParseISRC(value string) (SequenceKey, uint64, error) {
	m := isrcPattern.FindStringSubmatch(value)
	if m == nil {
		return SequenceKey{}, 0, apperror.NewInvalidFormat("ISRC must match CC-XXX-YY-NNNNN").WithDetail("code", value)
	}
	seq, _ := strconv.ParseUint(m[4], 10, 64)
	return SequenceKey{Kind: KindISRC, Prefix: m[1] + "-" + m[2], Period: m[3]}, seq, nil
}

// ParseUPC splits a valid UPC whose manufacturer code has manufacturerDigits
// digits into its sequence key and item reference.
func ParseUPC(value string, manufacturerDigits int) (SequenceKey, uint64, error) {
	if err := Check(value, KindUPC); err != nil {
		return SequenceKey{}, 0, err
	}
	if manufacturerDigits < MinManufacturerDigits || manufacturerDigits > MaxManufacturerDigits {
		return SequenceKey{}, 0, apperror.NewInvalidFormat("manufacturer length out of range").
			WithDetail("manufacturerDigits", manufacturerDigits)
	}
	seq, _ := strconv.ParseUint(value[manufacturerDigits:UPCLength-1], 10, 64)
	return SequenceKey{Kind: KindUPC, Prefix: value[:manufacturerDigits], Period: NoPeriod}, seq, nil
}

// Parse splits a valid code of the given kind into its sequence key and
// sequence number. manufacturerDigits is only read for UPC.
func Parse(value string, kind Kind, manufacturerDigits int) (SequenceKey, uint64, error) {
	switch kind {
	case KindISRC:
		return ParseISRC(value)
	case KindUPC:
		return ParseUPC(value, manufacturerDigits)
	}
	return SequenceKey{}, 0, apperror.NewInvalidKind(string(kind))
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return s != ""
}

func isUpperAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return s != ""
}
