package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/settlemint/txconfirm/chain/evm"
	"github.com/settlemint/txconfirm/confirm"
)

// ConfirmFunctor is an interface for creating a confirmation function for transactions on the
// EVM chain.
type ConfirmFunctor interface {
	// Generate returns a function that confirms transactions on the EVM chain.
	Generate(ctx context.Context, client evm.OnchainClient, from common.Address) (evm.ConfirmFunc, error)
}

// ConfirmFuncDiagnosing returns a ConfirmFunctor backed by a confirm.Confirmer. Failed
// transactions are returned as an *OutcomeError carrying the diagnosis.
func ConfirmFuncDiagnosing(opts ...func(*confirmFuncDiagnosing)) ConfirmFunctor {
	cf := &confirmFuncDiagnosing{}
	for _, o := range opts {
		o(cf)
	}

	return cf
}

// WithConfirmOptions configures the underlying Confirmer.
func WithConfirmOptions(opts ...confirm.Option) func(*confirmFuncDiagnosing) {
	return func(o *confirmFuncDiagnosing) {
		o.confirmOpts = append(o.confirmOpts, opts...)
	}
}

// WithPrioritizedABIs sets the ABIs tried first when decoding reverts.
func WithPrioritizedABIs(abis ...abi.ABI) func(*confirmFuncDiagnosing) {
	return func(o *confirmFuncDiagnosing) {
		o.prioritized = append(o.prioritized, abis...)
	}
}

// confirmFuncDiagnosing implements the ConfirmFunctor interface which generates a confirmation
// function that diagnoses failed transactions.
type confirmFuncDiagnosing struct {
	confirmOpts []confirm.Option
	prioritized []abi.ABI
}

// Generate returns a function that confirms transactions sent from the given address.
func (g *confirmFuncDiagnosing) Generate(
	ctx context.Context, client evm.OnchainClient, from common.Address,
) (evm.ConfirmFunc, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}

	confirmer := confirm.New(client, g.confirmOpts...)

	return func(tx *types.Transaction) (uint64, error) {
		if tx == nil {
			return 0, errors.New("tx was nil, nothing to confirm")
		}

		outcome, err := confirmer.Confirm(ctx, tx.Hash(), confirm.Request{
			PrioritizedABIs: g.prioritized,
			From:            &from,
		})
		if err != nil {
			return 0, fmt.Errorf("tx %s failed to confirm: %w", tx.Hash().Hex(), err)
		}

		return blockNumber(outcome), outcomeErr(outcome)
	}, nil
}

// OutcomeError is returned by a generated ConfirmFunc for every outcome but success.
type OutcomeError struct {
	Outcome confirm.Outcome
}

func (e *OutcomeError) Error() string {
	return e.Outcome.Narrative()
}

// Unwrap exposes confirm.ErrStillPending for timeouts and the context error for cancellations.
func (e *OutcomeError) Unwrap() error {
	switch o := e.Outcome.(type) {
	case *confirm.TimedOut:
		return confirm.ErrStillPending
	case *confirm.Cancelled:
		return o.Err
	}

	return nil
}

func outcomeErr(o confirm.Outcome) error {
	if _, ok := o.(*confirm.Success); ok {
		return nil
	}

	return &OutcomeError{Outcome: o}
}

// blockNumber returns the inclusion block of mined outcomes and 0 otherwise.
func blockNumber(o confirm.Outcome) uint64 {
	var receipt *types.Receipt
	switch o := o.(type) {
	case *confirm.Success:
		receipt = o.Receipt
	case *confirm.Reverted:
		receipt = o.Receipt
	case *confirm.OtherFailure:
		receipt = o.Receipt
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return 0
	}

	return receipt.BlockNumber.Uint64()
}
