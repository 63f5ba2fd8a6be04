package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/settlemint/txconfirm/confirm"
	"github.com/settlemint/txconfirm/confirm/policy"
	"github.com/settlemint/txconfirm/internal/pointer"
)

// ErrNotConfirmed is returned by wait for every outcome but success.
var ErrNotConfirmed = errors.New("transaction not confirmed")

var (
	waitShort = "Wait for a transaction to be mined and diagnose failures"

	waitLong = longDesc(`
		Polls for the receipt of the given transaction under the confirmation policy of the
		connected network and prints the outcome.

		A reverted transaction is simulated again at the surrounding blocks to recover its
		revert reason, which is decoded with the --abi files first and the artifacts index next.
		A transaction that is not mined in time is compared with the network gas price.

		The command exits with an error for every outcome but a successful confirmation.
	`)

	waitExample = examples(`
		# Wait using the RPC endpoints from the environment
		ATK_RPC_URLS=http://localhost:8545 txconfirm wait 0x5c50...2060

		# Decode reverts with the token ABI first and allow two minutes
		txconfirm wait 0x5c50...2060 --abi ./out/Token.json --timeout-seconds 120
	`)
)

type waitFlags struct {
	hash           common.Hash
	abis           []string
	rpcURLs        []string
	from           string
	timeoutSeconds int
}

// newWaitCmd creates the "wait" subcommand.
func newWaitCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wait <tx-hash>",
		Short:   waitShort,
		Long:    waitLong,
		Example: waitExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}

			f := waitFlags{
				hash:           hash,
				abis:           mustStrings(cmd.Flags().GetStringSlice("abi")),
				rpcURLs:        mustStrings(cmd.Flags().GetStringSlice("rpc-url")),
				from:           mustString(cmd.Flags().GetString("from")),
				timeoutSeconds: mustInt(cmd.Flags().GetInt("timeout-seconds")),
			}

			return runWait(cmd, cfg, f)
		},
	}

	// Flags
	abiFlag(cmd)
	timeoutFlag(cmd)
	artifactsFlag(cmd)
	cmd.Flags().StringSlice("rpc-url", nil, "JSON-RPC endpoint, primary first (repeatable, default from config)")
	cmd.Flags().String("from", "", "Sender used for simulation (default: recovered from the signature)")

	return cmd
}

// runWait executes the wait command logic.
func runWait(cmd *cobra.Command, cfg Config, f waitFlags) error {
	ctx := cmd.Context()

	// --- Load all data first ---

	e, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}
	if f.timeoutSeconds > 0 {
		e.cfg.Confirmation.TimeoutSeconds = pointer.To(f.timeoutSeconds)
	}
	urls := e.cfg.RPC.URLs
	if len(f.rpcURLs) > 0 {
		urls = f.rpcURLs
	}
	if len(urls) == 0 {
		return errors.New("no RPC endpoint configured, use --rpc-url or set ATK_RPC_URLS")
	}

	req := confirm.Request{}
	if req.PrioritizedABIs, err = loadABIs(f.abis); err != nil {
		return err
	}
	if f.from != "" {
		if !common.IsHexAddress(f.from) {
			return fmt.Errorf("invalid --from address %q", f.from)
		}
		req.From = pointer.To(common.HexToAddress(f.from))
	}

	client, release, err := cfg.Deps.DialClient(ctx, e.lggr, urls)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer release()

	// --- Execute logic with loaded data ---

	confirmer := confirm.New(client,
		confirm.WithLogger(e.lggr.Named("confirm")),
		confirm.WithResolver(policy.NewResolver(e.cfg.PolicyConfig())),
		confirm.WithIndex(e.index(cmd)),
		confirm.WithCIRetries(e.cfg.Confirmation.CIRetries),
	)

	outcome, err := confirmer.Confirm(ctx, f.hash, req)
	if err != nil {
		return err
	}
	cmd.Println(outcome.Narrative())

	if _, ok := outcome.(*confirm.Success); ok {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrNotConfirmed, outcomeKind(outcome))
}

func outcomeKind(o confirm.Outcome) string {
	switch o.(type) {
	case *confirm.Success:
		return "success"
	case *confirm.Reverted:
		return "reverted"
	case *confirm.TimedOut:
		return "timed out"
	case *confirm.OtherFailure:
		return "unexpected status"
	case *confirm.Cancelled:
		return "cancelled"
	}

	return fmt.Sprintf("%T", o)
}

// parseHash accepts a 0x prefixed 32 byte hex hash.
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is not a 32 byte hex hash", confirm.ErrInvalidTransactionRef, s)
	}

	return common.BytesToHash(b), nil
}
