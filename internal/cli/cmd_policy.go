package cli

import (
	"github.com/spf13/cobra"

	"github.com/settlemint/txconfirm/confirm/policy"
	"github.com/settlemint/txconfirm/internal/pointer"
)

var (
	policyShort = "Show the confirmation policy of a network"

	policyLong = longDesc(`
		Prints the receipt polling policy that applies to the given chain id, taking the CI
		environment and the configured timeout override into account.
	`)

	policyExample = examples(`
		# Policy of a local Hardhat node inside CI
		txconfirm policy --chain-id 31337 --ci

		# Policy of Sepolia
		txconfirm policy --chain-id 11155111
	`)
)

type policyFlags struct {
	chainID        uint64
	timeoutSeconds int
	ci             *bool
}

// newPolicyCmd creates the "policy" subcommand.
func newPolicyCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "policy",
		Short:   policyShort,
		Long:    policyLong,
		Example: policyExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := policyFlags{
				chainID:        mustUint64(cmd.Flags().GetUint64("chain-id")),
				timeoutSeconds: mustInt(cmd.Flags().GetInt("timeout-seconds")),
			}
			if cmd.Flags().Changed("ci") {
				f.ci = pointer.To(mustBool(cmd.Flags().GetBool("ci")))
			}

			return runPolicy(cmd, cfg, f)
		},
	}

	// Flags
	cmd.Flags().Uint64("chain-id", 0, "EVM chain id (required)")
	_ = cmd.MarkFlagRequired("chain-id")
	cmd.Flags().Bool("ci", false, "Force the CI policy on or off (default: detected from the environment)")
	timeoutFlag(cmd)

	return cmd
}

// runPolicy executes the policy command logic.
func runPolicy(cmd *cobra.Command, cfg Config, f policyFlags) error {
	e, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}

	pc := e.cfg.PolicyConfig()
	if f.ci != nil {
		pc.IsCI = *f.ci
	}
	if f.timeoutSeconds > 0 {
		pc.OverrideSeconds = pointer.To(f.timeoutSeconds)
	}

	p := policy.NewResolver(pc).Resolve(f.chainID)

	cmd.Printf("Chain ID: %d\n", f.chainID)
	cmd.Printf("Network: %s\n", policy.Classify(f.chainID))
	cmd.Printf("CI: %t\n", pc.IsCI)
	cmd.Printf("Policy: %s\n", p)
	cmd.Printf("Timeout: %s\n", p.Timeout())

	return nil
}
