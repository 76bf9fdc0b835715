// Package code defines the identifier kinds issued by the service and the
// pure formatting and validation rules for them.
//
// Nothing in this package touches storage: the same inputs always produce
// the same output, so any issued code can be re-derived from its sequence
// key and sequence number.
package code

import (
	"strconv"
	"strings"
	"time"

	"codealloc/internal/core/apperror"
)

// Kind identifies a family of codes with its own format and prefix shape.
type Kind string

const (
	// KindISRC is the International Standard Recording Code (tracks).
	KindISRC Kind = "ISRC"
	// KindUPC is the 12-digit Universal Product Code (releases).
	KindUPC Kind = "UPC"
)

// NoPeriod is the period token of kinds that never roll over.
const NoPeriod = "-"

// Kinds returns all supported kinds.
func Kinds() []Kind {
	return []Kind{KindISRC, KindUPC}
}

// ParseKind converts user input into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", apperror.NewInvalidKind(s)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindISRC || k == KindUPC
}

func (k Kind) String() string {
	return string(k)
}

// PeriodFor returns the rollover token for t.
// ISRC codes embed the two-digit reference year, so their counters restart
// every year. UPC codes carry no period and a single counter lives forever.
func (k Kind) PeriodFor(t time.Time) string {
	switch k {
	case KindISRC:
		return t.UTC().Format("06")
	default:
		return NoPeriod
	}
}

// PeriodAfter reports whether period a is later than b. Two-digit year
// tokens wrap at the century: a is later when it is 1 to 49 years ahead of
// b modulo 100, so "00" follows "99" and "23" does not follow "24".
func PeriodAfter(a, b string) bool {
	if len(a) != len(b) || a == b {
		return false
	}
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA != nil || errB != nil || len(a) != 2 {
		return a > b
	}
	ahead := (x - y + 100) % 100
	return ahead > 0 && ahead < 50
}
