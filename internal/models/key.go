package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RecommendationKey is the durable identity of a tracked option position:
// (symbol, source strike, source expiration date, option type, account).
// It is re-derivable from position data alone, so repeated evaluations of the
// same position always resolve to the same stored recommendation.
type RecommendationKey struct {
	Symbol     string
	Strike     float64
	Expiration time.Time
	Type       OptionType
	Account    string
}

// Encode renders the key as ACCOUNT:TICKER[YYMMDD][C/P][STRIKE*1000 padded to
// 8 digits], following OPRA option symbology for the contract part.
// Example: ACC123:SPY260918C00450000
func (k RecommendationKey) Encode() string {
	cp := "C"
	if k.Type == OptionTypePut {
		cp = "P"
	}
	strikeInt := int64(math.Round(k.Strike * 1000))
	return fmt.Sprintf("%s:%s%s%s%08d",
		k.Account,
		strings.ToUpper(k.Symbol),
		k.Expiration.UTC().Format("060102"),
		cp,
		strikeInt,
	)
}

// String implements fmt.Stringer.
func (k RecommendationKey) String() string { return k.Encode() }

// DecodeKey parses an encoded recommendation key back into its components.
// The contract part is OPRA format: a run of six digits (YYMMDD) marks the
// expiration, followed by C or P and an 8-digit strike in mills.
func DecodeKey(encoded string) (RecommendationKey, error) {
	var k RecommendationKey

	sep := strings.IndexByte(encoded, ':')
	if sep <= 0 || sep == len(encoded)-1 {
		return k, fmt.Errorf("key %q: missing account separator", encoded)
	}
	k.Account = encoded[:sep]
	symbol := encoded[sep+1:]

	// Scan for six consecutive digits (YYMMDD) to split ticker from contract.
	datePos := -1
	for i := 1; i <= len(symbol)-6; i++ {
		if isAllDigits(symbol[i : i+6]) {
			datePos = i
			break
		}
	}
	if datePos == -1 {
		return k, fmt.Errorf("key %q: no YYMMDD expiration found", encoded)
	}
	k.Symbol = symbol[:datePos]

	exp, err := time.ParseInLocation("060102", symbol[datePos:datePos+6], time.UTC)
	if err != nil {
		return k, fmt.Errorf("key %q: invalid expiration: %w", encoded, err)
	}
	k.Expiration = exp

	typePos := datePos + 6
	if typePos >= len(symbol) {
		return k, fmt.Errorf("key %q: truncated after expiration", encoded)
	}
	switch symbol[typePos] {
	case 'C':
		k.Type = OptionTypeCall
	case 'P':
		k.Type = OptionTypePut
	default:
		return k, fmt.Errorf("key %q: invalid option type %q", encoded, symbol[typePos])
	}

	strikeStr := symbol[typePos+1:]
	if len(strikeStr) != 8 || !isAllDigits(strikeStr) {
		return k, fmt.Errorf("key %q: strike must be 8 digits, got %q", encoded, strikeStr)
	}
	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return k, fmt.Errorf("key %q: parsing strike: %w", encoded, err)
	}
	k.Strike = float64(strikeInt) / 1000.0

	return k, nil
}

// isAllDigits checks if a string contains only digits.
func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
