package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

func HMACSHA512Hex(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func HMACSHA256Hex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHex compares two hex digests in constant time, ignoring case.
func EqualHex(expected, got string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(got)))
}

// NormalizeAmount parses a provider amount expressed in units of 1/scale of a
// subunit and returns whole subunits. Fractions are rejected rather than rounded.
func NormalizeAmount(raw string, scale int64) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrMalformedPayload
	}
	if scale > 1 {
		d = d.Div(decimal.NewFromInt(scale))
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, ErrMalformedPayload
	}
	return d.IntPart(), nil
}
