// Package simulation replays a reverted transaction with eth_call at several chain states to
// recover a decodable revert reason.
package simulation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"golang.org/x/sync/errgroup"

	"github.com/settlemint/txconfirm/confirm/decoder"
	"github.com/settlemint/txconfirm/pkg/logger"
)

// ContractCaller is the static-call primitive of the chain client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Anchor identifies the chain state a simulation attempt is pinned to.
type Anchor int

const (
	// AnchorPreviousBlock replays against the state right before the inclusion block.
	AnchorPreviousBlock Anchor = iota
	// AnchorInclusionBlock replays against the state at the end of the inclusion block.
	AnchorInclusionBlock
	// AnchorLatest replays against the latest state.
	AnchorLatest
	// AnchorLatestWithGas replays against the latest state with the original gas limit.
	AnchorLatestWithGas
)

func (a Anchor) String() string {
	switch a {
	case AnchorPreviousBlock:
		return "previous block"
	case AnchorInclusionBlock:
		return "inclusion block"
	case AnchorLatest:
		return "latest"
	case AnchorLatestWithGas:
		return "latest with original gas"
	}

	return fmt.Sprintf("anchor(%d)", int(a))
}

// Attempt is the result of one simulated call.
type Attempt struct {
	Anchor Anchor
	// Block is the pinned block number, nil for the latest state.
	Block *big.Int
	// Err is the error returned by the client; nil when the call unexpectedly succeeded.
	Err error
	// RevertData is the payload extracted from Err, if the client surfaced one.
	RevertData []byte
}

// Succeeded reports whether the call did not revert.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Diagnosis is the combined outcome of all simulation attempts.
type Diagnosis struct {
	Attempts []Attempt
	// Decoded is the first decodable revert, in anchor order.
	Decoded *decoder.DecodedError
	// DecodedAt is the anchor Decoded was recovered from.
	DecodedAt Anchor
	// Notes are human readable observations, e.g. anomalous successes.
	Notes []string
	// FirstError is the raw message of the first failing attempt, kept for undecodable reverts.
	FirstError string
	// UndecodedData is the first revert payload that no ABI could decode.
	UndecodedData []byte
}

// Simulator re-executes calls and decodes their reverts.
type Simulator struct {
	caller ContractCaller
	dec    *decoder.Decoder
	lggr   logger.Logger
}

// New returns a Simulator.
func New(caller ContractCaller, dec *decoder.Decoder, lggr logger.Logger) *Simulator {
	if lggr == nil {
		lggr = logger.Nop()
	}

	return &Simulator{caller: caller, dec: dec, lggr: lggr}
}

type plannedCall struct {
	anchor Anchor
	block  *big.Int
	msg    ethereum.CallMsg
}

func plan(call ethereum.CallMsg, blockNumber *big.Int) []plannedCall {
	withoutGas := call
	withoutGas.Gas = 0

	var calls []plannedCall
	if blockNumber != nil {
		if blockNumber.Sign() > 0 {
			prev := new(big.Int).Sub(blockNumber, big.NewInt(1))
			calls = append(calls, plannedCall{anchor: AnchorPreviousBlock, block: prev, msg: withoutGas})
		}
		calls = append(calls, plannedCall{anchor: AnchorInclusionBlock, block: new(big.Int).Set(blockNumber), msg: withoutGas})
	}
	calls = append(calls, plannedCall{anchor: AnchorLatest, msg: withoutGas})
	if call.Gas > 0 {
		calls = append(calls, plannedCall{anchor: AnchorLatestWithGas, msg: call})
	}

	return calls
}

// Simulate runs every anchored call concurrently and returns the attempts in anchor order.
// A failing attempt is a normal result; only context cancellation is returned as an error.
func (s *Simulator) Simulate(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]Attempt, error) {
	calls := plan(call, blockNumber)
	attempts := make([]Attempt, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, pc := range calls {
		g.Go(func() error {
			_, err := s.caller.CallContract(gctx, pc.msg, pc.block)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			attempt := Attempt{Anchor: pc.anchor, Block: pc.block, Err: err}
			if data, ok := decoder.ExtractRevertData(err); ok {
				attempt.RevertData = data
			}
			attempts[i] = attempt

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return attempts, nil
}

// Diagnose simulates the call and decodes the first decodable revert.
func (s *Simulator) Diagnose(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int, prioritized []abi.ABI) (Diagnosis, error) {
	attempts, err := s.Simulate(ctx, call, blockNumber)
	if err != nil {
		return Diagnosis{}, err
	}

	diag := Diagnosis{Attempts: attempts}
	for _, a := range attempts {
		if a.Succeeded() {
			s.lggr.Warnw("Simulation succeeded although the transaction reverted", "anchor", a.Anchor.String(), "block", a.Block)
			diag.Notes = append(diag.Notes,
				fmt.Sprintf("simulation at %s succeeded although the transaction reverted; the revert likely depended on state that has since changed", a.Anchor))

			continue
		}

		if diag.FirstError == "" {
			diag.FirstError = a.Err.Error()
		}
		if diag.Decoded != nil || len(a.RevertData) == 0 {
			continue
		}

		if decoded, ok := s.dec.Decode(a.RevertData, prioritized); ok {
			diag.Decoded = decoded
			diag.DecodedAt = a.Anchor
			s.lggr.Debugw("Decoded revert from simulation", "anchor", a.Anchor.String(), "error", decoded.Name)

			continue
		}
		if diag.UndecodedData == nil {
			diag.UndecodedData = a.RevertData
		}
	}

	return diag, nil
}
