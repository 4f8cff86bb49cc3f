// Package ean validates and manipulates the global trade numbers used as
// the cross-store product linking key: GTIN-8, GTIN-12 (UPC-A) and GTIN-13
// (EAN-13), plus the temporary store-scoped identifiers synthesized for
// stores that expose no real number.
package ean

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Standard names a supported numbering standard.
type Standard string

const (
	GTIN8  Standard = "GTIN-8"
	GTIN12 Standard = "GTIN-12"
	GTIN13 Standard = "GTIN-13"
)

// Result is the outcome of validating a candidate value.
type Result struct {
	Valid      bool
	Standard   Standard
	Payload    string // digits without the check digit
	CheckDigit int
	Temporary  bool
}

// candidateRe matches maximal digit runs of plausible GTIN length.
// The lookarounds need regexp2; stdlib regexp has no lookbehind.
var candidateRe = regexp2.MustCompile(`(?<!\d)\d{8,14}(?!\d)`, regexp2.None)

// CheckDigit computes the mod-10 check digit for the payload digits
// (weights alternate 3/1 starting from the rightmost payload digit).
func CheckDigit(payload string) (int, error) {
	if payload == "" {
		return 0, fmt.Errorf("empty payload")
	}
	sum := 0
	weight := 3
	for i := len(payload) - 1; i >= 0; i-- {
		c := payload[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit %q in payload", c)
		}
		sum += int(c-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - sum%10) % 10, nil
}

// Validate checks value against the three supported standards.
func Validate(value string) Result {
	value = strings.TrimSpace(value)

	var std Standard
	switch len(value) {
	case 8:
		std = GTIN8
	case 12:
		std = GTIN12
	case 13:
		std = GTIN13
	default:
		return Result{}
	}

	payload := value[:len(value)-1]
	want, err := CheckDigit(payload)
	if err != nil {
		return Result{}
	}
	got := int(value[len(value)-1] - '0')
	if got != want {
		return Result{}
	}

	return Result{
		Valid:      true,
		Standard:   std,
		Payload:    payload,
		CheckDigit: want,
		Temporary:  IsTemporary(value),
	}
}

// IsValid reports whether value is a well-formed trade number.
func IsValid(value string) bool {
	return Validate(value).Valid
}

// IsTemporary reports whether value looks like a synthesized identifier:
// 13 digits with the reserved in-store prefix 2.
func IsTemporary(value string) bool {
	return len(value) == 13 && value[0] == '2'
}

// Synthesize builds a temporary 13-digit identifier for a store item that
// carries no real trade number: prefix 2, three digits derived from the
// store code, eight digits hashed from the internal id, and a valid check
// digit. The value is stable for a given (store, internal id) pair, so
// re-scrapes of the same item merge onto the same variant; two different
// synthesized values are only ever equal by exact string match.
func Synthesize(storeCode, internalID string) string {
	var b strings.Builder
	b.WriteByte('2')

	code := strings.ToLower(storeCode)
	for len(code) < 3 {
		code += "x"
	}
	for i := 0; i < 3; i++ {
		c := code[i]
		if c < 'a' || c > 'z' {
			c = 'x'
		}
		b.WriteByte('0' + (c-'a')%10)
	}

	h := sha1.Sum([]byte(internalID))
	b.WriteString(fmt.Sprintf("%04d", binary.BigEndian.Uint32(h[:4])%10000))
	b.WriteString(fmt.Sprintf("%04d", binary.BigEndian.Uint32(h[4:8])%10000))

	payload := b.String()
	check, _ := CheckDigit(payload)
	return payload + strconv.Itoa(check)
}

// Format renders a valid identifier with conventional digit grouping.
// Invalid values come back unchanged.
func Format(value string) string {
	res := Validate(value)
	if !res.Valid {
		return value
	}
	switch res.Standard {
	case GTIN8:
		return value[:4] + " " + value[4:]
	case GTIN12:
		return value[:1] + " " + value[1:6] + " " + value[6:11] + " " + value[11:]
	case GTIN13:
		return value[:1] + " " + value[1:7] + " " + value[7:]
	}
	return value
}

// ExtractCandidates scans free text and returns every digit run that
// validates as a trade number, in order of appearance, deduplicated.
func ExtractCandidates(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	m, err := candidateRe.FindStringMatch(text)
	for err == nil && m != nil {
		v := m.String()
		if IsValid(v) {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
		m, err = candidateRe.FindNextMatch(m)
	}

	return out
}
