package confirm

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
)

var (
	// ErrInvalidTransactionRef is returned for a zero transaction hash.
	ErrInvalidTransactionRef = errors.New("invalid transaction reference")

	// ErrStillPending is returned by a polling pass that exhausted its policy without a receipt.
	ErrStillPending = errors.New("transaction not mined")
)

// timeoutMarkers are message fragments RPC providers use for "no receipt yet" conditions.
var timeoutMarkers = []string{
	"still pending after",
	"not found",
	"timeout",
}

// IsTimeout reports whether err is a timeout-classified failure, the only kind retried in CI.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStillPending) || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range timeoutMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
