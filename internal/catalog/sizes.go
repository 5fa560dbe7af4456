package catalog

import "strings"

// sizeOrder maps EC2 size tokens to ordinals. Larger ordinal = larger
// instance. The table covers the published size ladder; unknown tokens are
// rejected rather than guessed at.
var sizeOrder = map[string]int{
	"nano":     0,
	"micro":    1,
	"small":    2,
	"medium":   3,
	"large":    4,
	"xlarge":   5,
	"2xlarge":  6,
	"3xlarge":  7,
	"4xlarge":  8,
	"6xlarge":  9,
	"8xlarge":  10,
	"9xlarge":  11,
	"10xlarge": 12,
	"12xlarge": 13,
	"16xlarge": 14,
	"18xlarge": 15,
	"24xlarge": 16,
	"32xlarge": 17,
	"48xlarge": 18,
	"metal":    19,
}

// SizeOrdinal returns the ordinal for a size token.
func SizeOrdinal(size string) (int, bool) {
	n, ok := sizeOrder[strings.ToLower(size)]
	return n, ok
}

// ParseInstanceType splits a "family.size" token like "t3.large".
// Returns ok=false when the token does not have exactly one dot or names an
// unknown size.
func ParseInstanceType(instanceType string) (family, size string, ok bool) {
	family, size, found := strings.Cut(instanceType, ".")
	if !found || family == "" || size == "" {
		return "", "", false
	}
	if _, known := SizeOrdinal(size); !known {
		return "", "", false
	}
	return family, strings.ToLower(size), true
}

// SizeWithin reports whether size is at or below max on the ordinal ladder.
// Unknown tokens on either side report false.
func SizeWithin(size, max string) bool {
	s, ok := SizeOrdinal(size)
	if !ok {
		return false
	}
	m, ok := SizeOrdinal(max)
	if !ok {
		return false
	}
	return s <= m
}
