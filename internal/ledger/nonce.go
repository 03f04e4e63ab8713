// nonce.go - Per-address replay protection.

package ledger

import (
	"fmt"
	"math"
)

// CheckAndAdvance accepts submitted only if it equals current and returns the next nonce.
// It never writes: the caller stages the result with the rest of the transition so a
// rejected operation cannot consume a nonce.
func CheckAndAdvance(current, submitted uint64) (uint64, error) {
	if submitted != current {
		rel := "stale"
		if submitted > current {
			rel = "future"
		}
		return 0, reject(ErrReplay, fmt.Sprintf("%s nonce %d, expected %d", rel, submitted, current))
	}
	if current == math.MaxUint64 {
		return 0, reject(ErrMalformedParameters, "nonce space exhausted")
	}
	return current + 1, nil
}
