package confirm

import (
	"time"

	"github.com/settlemint/txconfirm/confirm/artifacts"
	"github.com/settlemint/txconfirm/confirm/decoder"
	"github.com/settlemint/txconfirm/confirm/policy"
	"github.com/settlemint/txconfirm/pkg/logger"
)

const (
	// DefaultCIRetries is the number of extra polling passes after a timeout in CI.
	DefaultCIRetries = 2
	// DefaultRetryDelay is the pause between CI polling passes.
	DefaultRetryDelay = 2 * time.Second
)

// Option configures a Confirmer.
type Option func(*Confirmer)

// WithLogger sets the logger.
func WithLogger(lggr logger.Logger) Option {
	return func(c *Confirmer) {
		c.lggr = lggr
	}
}

// WithResolver sets the policy resolver. The resolver also decides whether CI retries apply.
func WithResolver(r *policy.Resolver) Option {
	return func(c *Confirmer) {
		c.resolver = r
	}
}

// WithPolicy pins the polling policy instead of resolving it from the chain id.
func WithPolicy(p policy.Policy) Option {
	return func(c *Confirmer) {
		c.pinned = &p
	}
}

// WithIndex decodes reverts with the artifact index as fallback ABI source.
func WithIndex(idx *artifacts.Index) Option {
	return func(c *Confirmer) {
		c.index = idx
	}
}

// WithDecoder replaces the revert decoder. It takes precedence over WithIndex.
func WithDecoder(d *decoder.Decoder) Option {
	return func(c *Confirmer) {
		c.decoder = d
	}
}

// WithCIRetries sets the number of extra polling passes after a timeout in CI.
func WithCIRetries(n int) Option {
	return func(c *Confirmer) {
		c.ciRetries = max(n, 0)
	}
}

// WithRetryDelay sets the pause between CI polling passes.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Confirmer) {
		c.retryDelay = d
	}
}
