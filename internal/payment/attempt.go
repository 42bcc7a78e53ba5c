package payment

import (
	"strconv"
	"strings"
	"time"
)

const attemptSeparator = "_"

// AttemptRef returns the merchant reference for one payment attempt. Providers
// reject reused references, so every attempt gets a fresh millisecond suffix.
func AttemptRef(orderID string, at time.Time) string {
	return orderID + attemptSeparator + strconv.FormatInt(at.UnixMilli(), 10)
}

// OrderIDFromAttemptRef strips the suffix added by AttemptRef. References
// without a suffix are returned unchanged.
func OrderIDFromAttemptRef(ref string) string {
	if i := strings.LastIndex(ref, attemptSeparator); i > 0 {
		return ref[:i]
	}
	return ref
}
