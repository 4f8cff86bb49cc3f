package ean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDigit(t *testing.T) {
	cases := []struct {
		payload string
		want    int
	}{
		{"779007050100", 4},
		{"400638133393", 1},
		{"1234567", 0},
		{"03600029145", 2},
	}
	for _, c := range cases {
		got, err := CheckDigit(c.payload)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "payload %s", c.payload)
	}

	_, err := CheckDigit("")
	assert.Error(t, err)
	_, err = CheckDigit("12a4")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	res := Validate("7790070501004")
	require.True(t, res.Valid)
	assert.Equal(t, GTIN13, res.Standard)
	assert.Equal(t, "779007050100", res.Payload)
	assert.Equal(t, 4, res.CheckDigit)
	assert.False(t, res.Temporary)

	res = Validate("12345670")
	require.True(t, res.Valid)
	assert.Equal(t, GTIN8, res.Standard)

	res = Validate("036000291452")
	require.True(t, res.Valid)
	assert.Equal(t, GTIN12, res.Standard)

	// wrong check digit
	assert.False(t, Validate("7790070501001").Valid)
	// unsupported lengths
	assert.False(t, Validate("1234567").Valid)
	assert.False(t, Validate("12345678901234").Valid)
	// non-digits
	assert.False(t, Validate("77900705ABCD4").Valid)
	// surrounding whitespace is tolerated
	assert.True(t, Validate(" 7790070501004 ").Valid)
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary("2016123456786"))
	assert.False(t, IsTemporary("7790070501004"))
	assert.False(t, IsTemporary("21234567"))
}

func TestSynthesize(t *testing.T) {
	got := Synthesize("jum", "12345:1")

	require.Len(t, got, 13)
	assert.Equal(t, byte('2'), got[0])
	assert.True(t, IsValid(got), "synthesized value must carry a valid check digit")
	assert.True(t, IsTemporary(got))

	// stable across calls
	assert.Equal(t, got, Synthesize("jum", "12345:1"))

	// sensitive to both store and id
	assert.NotEqual(t, got, Synthesize("cot", "12345:1"))
	assert.NotEqual(t, got, Synthesize("jum", "12345:2"))

	// short or odd store codes still produce well-formed values
	odd := Synthesize("x1", "abc")
	require.Len(t, odd, 13)
	assert.True(t, IsValid(odd))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "7 790070 501004", Format("7790070501004"))
	assert.Equal(t, "1234 5670", Format("12345670"))
	assert.Equal(t, "0 36000 29145 2", Format("036000291452"))
	// invalid values pass through untouched
	assert.Equal(t, "7790070501001", Format("7790070501001"))
}

func TestExtractCandidates(t *testing.T) {
	text := "cod 7790070501004 / upc 036000291452 y basura 99999999"
	got := ExtractCandidates(text)
	assert.Equal(t, []string{"7790070501004", "036000291452"}, got)

	// runs longer than 14 digits never match, shorter than 8 neither
	assert.Empty(t, ExtractCandidates("123456789012345678"))
	assert.Empty(t, ExtractCandidates("1234567"))

	// duplicates collapse to the first appearance
	got = ExtractCandidates("7790070501004 otra vez 7790070501004")
	assert.Equal(t, []string{"7790070501004"}, got)
}
