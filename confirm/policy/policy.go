// Package policy resolves how long and how often the confirmation engine polls for a
// transaction receipt on a given chain.
package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"

	chainsel "github.com/smartcontractkit/chain-selectors"
)

// Well known local development chain ids (Hardhat / Anvil and Geth/Besu dev mode).
const (
	ChainIDHardhat uint64 = 31337
	ChainIDDevnet  uint64 = 1337
)

const customPollInterval = 100 * time.Millisecond

// NetworkClass groups chains by the confirmation behaviour they need.
type NetworkClass string

const (
	NetworkClassLocal      NetworkClass = "local"
	NetworkClassTestnet    NetworkClass = "testnet"
	NetworkClassProduction NetworkClass = "production"
)

// Policy describes the receipt polling cadence for a single confirmation attempt.
type Policy struct {
	PollInterval time.Duration
	MaxAttempts  int
	Description  string
}

// Timeout is the total time a single polling pass can take.
func (p Policy) Timeout() time.Duration {
	return p.PollInterval * time.Duration(p.MaxAttempts)
}

func (p Policy) String() string {
	return fmt.Sprintf("%s (%d attempts every %s)", p.Description, p.MaxAttempts, p.PollInterval)
}

// Classify returns the network class of an EVM chain id. Chains unknown to chain-selectors
// are treated as production. chain-selectors names every public test network with a
// "testnet" segment, e.g. "ethereum-testnet-sepolia".
func Classify(chainID uint64) NetworkClass {
	if chainID == ChainIDHardhat || chainID == ChainIDDevnet {
		return NetworkClassLocal
	}

	ch, ok := chainsel.ChainByEvmChainID(chainID)
	if !ok {
		return NetworkClassProduction
	}
	if slices.Contains(strings.Split(ch.Name, "-"), "testnet") {
		return NetworkClassTestnet
	}

	return NetworkClassProduction
}

// Resolve returns the polling policy for chainID. A positive overrideSeconds takes precedence
// over the chain based defaults; non-positive overrides are ignored.
func Resolve(chainID uint64, isCI bool, overrideSeconds *int) Policy {
	if overrideSeconds != nil && *overrideSeconds > 0 {
		seconds := *overrideSeconds
		attempts := int(time.Duration(seconds) * time.Second / customPollInterval)

		return Policy{
			PollInterval: customPollInterval,
			MaxAttempts:  attempts,
			Description:  fmt.Sprintf("%d seconds (custom)", seconds),
		}
	}

	switch Classify(chainID) {
	case NetworkClassLocal:
		if isCI {
			// CI runners are often starved of CPU, so the local node mines slower.
			return Policy{PollInterval: 100 * time.Millisecond, MaxAttempts: 1200, Description: "2 minutes"}
		}

		return Policy{PollInterval: 50 * time.Millisecond, MaxAttempts: 500, Description: "25 seconds"}
	case NetworkClassTestnet:
		return Policy{PollInterval: 500 * time.Millisecond, MaxAttempts: 120, Description: "1 minute"}
	case NetworkClassProduction:
	}

	return Policy{PollInterval: time.Second, MaxAttempts: 300, Description: "5 minutes"}
}

// Config holds the environment derived inputs of a Resolver. It is read once at the process
// boundary (see the config package) and never from inside the resolver.
type Config struct {
	IsCI            bool
	OverrideSeconds *int
}

// Resolver resolves policies for a fixed environment.
type Resolver struct {
	cfg Config
}

// NewResolver returns a Resolver bound to cfg.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the policy for chainID under the resolver's environment.
func (r *Resolver) Resolve(chainID uint64) Policy {
	return Resolve(chainID, r.cfg.IsCI, r.cfg.OverrideSeconds)
}

// IsCI reports whether the resolver was configured for a CI environment.
func (r *Resolver) IsCI() bool {
	return r.cfg.IsCI
}
