// Package confirm waits for submitted EVM transactions to be mined and explains the ones that
// fail. A confirmation polls for the receipt under a network dependent policy, retries timeouts
// in CI, and diagnoses reverts by re-simulating the call and decoding the revert payload.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/settlemint/txconfirm/confirm/artifacts"
	"github.com/settlemint/txconfirm/confirm/config"
	"github.com/settlemint/txconfirm/confirm/decoder"
	"github.com/settlemint/txconfirm/confirm/gasprice"
	"github.com/settlemint/txconfirm/confirm/policy"
	"github.com/settlemint/txconfirm/confirm/simulation"
	"github.com/settlemint/txconfirm/pkg/logger"
)

// ChainClient is the chain access a Confirmer needs. *ethclient.Client, *evm.MultiClient and the
// go-ethereum simulated backend client satisfy it.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Request carries the per transaction diagnosis inputs.
type Request struct {
	// PrioritizedABIs are the ABIs of the contracts involved in the call, tried before the index.
	PrioritizedABIs []abi.ABI
	// From overrides the sender used for simulation. When nil it is recovered from the signature.
	From *common.Address
	// RevertData is a revert payload the caller already holds. When set, simulation is skipped.
	RevertData []byte
}

// Confirmer runs confirmations. It is safe for concurrent use.
type Confirmer struct {
	client     ChainClient
	lggr       logger.Logger
	resolver   *policy.Resolver
	pinned     *policy.Policy
	index      *artifacts.Index
	decoder    *decoder.Decoder
	simulator  *simulation.Simulator
	ciRetries  int
	retryDelay time.Duration
}

// New returns a Confirmer reading the chain through client.
func New(client ChainClient, opts ...Option) *Confirmer {
	c := &Confirmer{
		client:     client,
		ciRetries:  DefaultCIRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.lggr == nil {
		c.lggr = logger.Nop()
	}
	if c.resolver == nil {
		c.resolver = policy.NewResolver(policy.Config{})
	}
	if c.decoder == nil {
		var fallback decoder.ABISource
		if c.index != nil {
			fallback = c.index
		}
		c.decoder = decoder.New(fallback, c.lggr.Named("decoder"))
	}
	c.simulator = simulation.New(client, c.decoder, c.lggr.Named("simulation"))

	return c
}

// Confirm waits for the transaction to be mined and returns its outcome. Reverts, timeouts and
// cancellation are outcomes; an error is only returned for a malformed hash.
func (c *Confirmer) Confirm(ctx context.Context, hash common.Hash, req Request) (Outcome, error) {
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: zero transaction hash", ErrInvalidTransactionRef)
	}

	lggr := c.lggr.With("confirmationID", uuid.New().String(), "tx", hash.Hex())
	pol := c.resolvePolicy(ctx, lggr)

	retries := 0
	if c.resolver.IsCI() {
		retries = c.ciRetries
	}
	lggr.Infow("Waiting for transaction", "policy", pol.String(), "ci", c.resolver.IsCI(), "retries", retries)

	passes := 0
	receipt, err := retry.DoWithData(
		func() (*types.Receipt, error) {
			passes++
			return c.poll(ctx, hash, pol, lggr)
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return retry.IsRecoverable(err) && IsTimeout(err) }),
		retry.OnRetry(func(n uint, err error) {
			// retry-go also reports the final failed attempt, which is not followed by a retry.
			if int(n) >= retries {
				return
			}
			lggr.Warnw("Transaction not mined yet, retrying in CI", "retry", n+1, "of", retries, "error", err)
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		lggr.Warnw("Confirmation cancelled", "error", ctxErr)

		return &Cancelled{Hash: hash, Err: ctxErr}, nil
	}
	if err != nil {
		return c.timedOut(ctx, hash, pol, passes, retries, err, lggr), nil
	}

	switch receipt.Status {
	case types.ReceiptStatusSuccessful:
		lggr.Infow("Transaction confirmed", "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)

		return &Success{Receipt: receipt}, nil
	case types.ReceiptStatusFailed:
		diag := c.diagnoseRevert(ctx, hash, receipt, req, lggr)
		lggr.Warnw("Transaction reverted", "block", receipt.BlockNumber, "reason", diag.Narrative)

		return &Reverted{Receipt: receipt, Diagnosis: diag}, nil
	}

	label := fmt.Sprintf("status %d", receipt.Status)
	lggr.Warnw("Transaction finished with unexpected status", "status", label, "block", receipt.BlockNumber)

	return &OtherFailure{Receipt: receipt, StatusLabel: label}, nil
}

// resolvePolicy uses the pinned policy, or resolves one from the chain id. An unknown chain id
// resolves the production policy.
func (c *Confirmer) resolvePolicy(ctx context.Context, lggr logger.Logger) policy.Policy {
	if c.pinned != nil {
		return *c.pinned
	}

	var chainID uint64
	id, err := c.client.ChainID(ctx)
	switch {
	case err != nil:
		lggr.Warnw("Could not read chain id, using the production policy", "error", err)
	case id.IsUint64():
		chainID = id.Uint64()
	}

	return c.resolver.Resolve(chainID)
}

// poll runs one polling pass. Receipt errors other than cancellation mean "not yet".
func (c *Confirmer) poll(ctx context.Context, hash common.Hash, pol policy.Policy, lggr logger.Logger) (*types.Receipt, error) {
	ticker := time.NewTicker(pol.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, retry.Unrecoverable(ctx.Err())
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lggr.Debugw("Receipt lookup failed", "attempt", attempt, "error", err)
		}
		if attempt >= pol.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, retry.Unrecoverable(ctx.Err())
		case <-ticker.C:
		}
	}

	return nil, fmt.Errorf("%w: %s still pending after %s", ErrStillPending, hash.Hex(), pol.Description)
}

// timedOut builds the timeout narrative from the pending transaction's gas price.
func (c *Confirmer) timedOut(
	ctx context.Context, hash common.Hash, pol policy.Policy, passes, retries int, cause error, lggr logger.Logger,
) Outcome {
	out := &TimedOut{Hash: hash, Policy: pol, Passes: passes}
	parts := []string{fmt.Sprintf("Transaction %s was not mined within %s", hash.Hex(), pol.Description)}
	if !IsTimeout(cause) {
		parts = append(parts, "Polling stopped: "+cause.Error())
	}

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	switch {
	case ctx.Err() != nil:
		return &Cancelled{Hash: hash, Err: ctx.Err()}
	case errors.Is(err, ethereum.NotFound):
		parts = append(parts, "The node does not know the transaction, it may have been dropped from the mempool")
	case err != nil:
		lggr.Warnw("Could not load the pending transaction", "error", err)
		parts = append(parts, "The pending transaction could not be loaded: "+err.Error())
	default:
		network, err := c.client.SuggestGasPrice(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &Cancelled{Hash: hash, Err: ctx.Err()}
			}
			lggr.Warnw("Could not read the network gas price", "error", err)
			network = nil
		}
		verdict := gasprice.Analyze(tx.GasPrice(), network)
		out.Verdict = &verdict
		parts = append(parts, verdict.String())
	}

	if c.resolver.IsCI() {
		parts = append(parts, fmt.Sprintf(
			"Running in CI: gave up after %d polling passes (%d retries). Set %s to allow more time, "+
				"deploy in smaller batches, or check the resource limits of the CI runner and the node",
			passes, retries, config.EnvTimeoutSeconds))
	}

	out.Diagnosis = strings.Join(parts, ". ")
	lggr.Warnw("Transaction timed out", "passes", passes, "diagnosis", out.Diagnosis)

	return out
}

// diagnoseRevert explains a reverted receipt. Failures of the diagnosis itself, cancellation
// included, only degrade the narrative.
func (c *Confirmer) diagnoseRevert(
	ctx context.Context, hash common.Hash, receipt *types.Receipt, req Request, lggr logger.Logger,
) RevertDiagnosis {
	var (
		diag       RevertDiagnosis
		undecoded  []byte
		firstError string
		cancelled  error
	)

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		if cancelled = ctx.Err(); cancelled == nil {
			lggr.Warnw("Could not load the reverted transaction", "error", err)
		}
		tx = nil
	}

	switch {
	case len(req.RevertData) > 0:
		if decoded, ok := c.decoder.Decode(req.RevertData, req.PrioritizedABIs); ok {
			diag.Decoded = decoded
		} else {
			undecoded = req.RevertData
		}
	case cancelled != nil:
	case tx == nil:
		diag.Notes = append(diag.Notes, "the transaction could not be loaded, so it was not simulated")
	default:
		call, err := callFromTx(tx, req.From)
		if err != nil {
			lggr.Warnw("Could not build the simulation call", "error", err)
			diag.Notes = append(diag.Notes, "the transaction could not be simulated: "+err.Error())

			break
		}

		sim, err := c.simulator.Diagnose(ctx, call, receipt.BlockNumber, req.PrioritizedABIs)
		if err != nil {
			cancelled = err

			break
		}
		diag.Decoded = sim.Decoded
		diag.Notes = append(diag.Notes, sim.Notes...)
		undecoded = sim.UndecodedData
		firstError = sim.FirstError
	}

	if tx != nil && tx.Gas() > 0 && receipt.GasUsed >= tx.Gas() {
		diag.Notes = append(diag.Notes,
			fmt.Sprintf("the transaction used its entire gas limit of %d, it most likely ran out of gas", tx.Gas()))
	}

	if cancelled != nil {
		lggr.Warnw("Revert diagnosis cancelled", "error", cancelled)
		diag.Notes = append(diag.Notes, "diagnosis cancelled: "+cancelled.Error())
	}

	switch {
	case diag.Decoded != nil:
		diag.Narrative = diag.Decoded.Narrative()
	case len(undecoded) >= 4:
		diag.Narrative = "unknown custom error " + hexutil.Encode(undecoded[:4])
	case cancelled != nil:
		diag.Narrative = "reason unknown, diagnosis cancelled"
	case firstError != "":
		diag.Narrative = "reverted without a decodable reason: " + firstError
	default:
		diag.Narrative = "reverted without a reason"
	}

	return diag
}

// callFromTx rebuilds the original call. The sender is recovered from the signature unless from
// is given.
func callFromTx(tx *types.Transaction, from *common.Address) (ethereum.CallMsg, error) {
	call := ethereum.CallMsg{
		To:       tx.To(),
		Data:     tx.Data(),
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
	}

	if from != nil {
		call.From = *from

		return call, nil
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("failed to recover sender of tx %s: %w", tx.Hash().Hex(), err)
	}
	call.From = sender

	return call, nil
}
