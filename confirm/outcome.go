package confirm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/settlemint/txconfirm/confirm/decoder"
	"github.com/settlemint/txconfirm/confirm/gasprice"
	"github.com/settlemint/txconfirm/confirm/policy"
)

// Outcome is the terminal result of a confirmation. It is one of *Success, *Reverted, *TimedOut,
// *OtherFailure or *Cancelled and is never mutated after it is returned.
type Outcome interface {
	// Narrative is a one paragraph explanation suitable for direct display.
	Narrative() string

	outcome()
}

// Success is a mined transaction with status 1.
type Success struct {
	Receipt *types.Receipt
}

func (*Success) outcome() {}

func (o *Success) Narrative() string {
	return fmt.Sprintf("Transaction %s confirmed in block %s (gas used %d)",
		o.Receipt.TxHash.Hex(), o.Receipt.BlockNumber, o.Receipt.GasUsed)
}

// RevertDiagnosis explains a reverted transaction.
type RevertDiagnosis struct {
	// Decoded is the structured revert reason, nil when no ABI matched.
	Decoded *decoder.DecodedError
	// Narrative is the human readable reason, always set.
	Narrative string
	// Notes are additional observations such as anomalous simulations or a likely out-of-gas.
	Notes []string
}

// Reverted is a mined transaction with status 0.
type Reverted struct {
	Receipt   *types.Receipt
	Diagnosis RevertDiagnosis
}

func (*Reverted) outcome() {}

func (o *Reverted) Narrative() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %s reverted in block %s: %s", o.Receipt.TxHash.Hex(), o.Receipt.BlockNumber, o.Diagnosis.Narrative)
	for _, n := range o.Diagnosis.Notes {
		sb.WriteString(". ")
		sb.WriteString(n)
	}

	return sb.String()
}

// TimedOut is a transaction for which no receipt appeared within the policy, retries included.
type TimedOut struct {
	Hash   common.Hash
	Policy policy.Policy
	// Passes is the number of polling passes run, 1 plus the CI retries.
	Passes int
	// Verdict is the gas price assessment, nil when the pending transaction could not be loaded.
	Verdict *gasprice.Verdict
	// Diagnosis is the full narrative, including CI remediation hints.
	Diagnosis string
}

func (*TimedOut) outcome() {}

func (o *TimedOut) Narrative() string {
	return o.Diagnosis
}

// OtherFailure is a mined transaction whose status is neither success nor reverted.
type OtherFailure struct {
	Receipt     *types.Receipt
	StatusLabel string
}

func (*OtherFailure) outcome() {}

func (o *OtherFailure) Narrative() string {
	return fmt.Sprintf("Transaction %s finished with %s in block %s (%s)",
		o.Receipt.TxHash.Hex(), o.StatusLabel, o.Receipt.BlockNumber, o.Receipt.BlockHash.Hex())
}

// Cancelled is a confirmation abandoned because its context was done.
type Cancelled struct {
	Hash common.Hash
	Err  error
}

func (*Cancelled) outcome() {}

func (o *Cancelled) Narrative() string {
	return fmt.Sprintf("Confirmation of transaction %s cancelled: %v", o.Hash.Hex(), o.Err)
}
