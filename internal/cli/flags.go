package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// mustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func mustString(s string, _ error) string { return s }

// mustStrings returns the string slice value, ignoring the error.
func mustStrings(s []string, _ error) []string { return s }

// mustInt returns the int value, ignoring the error.
func mustInt(i int, _ error) int { return i }

// mustUint64 returns the uint64 value, ignoring the error.
func mustUint64(i uint64, _ error) uint64 { return i }

// mustBool returns the bool value, ignoring the error.
func mustBool(b bool, _ error) bool { return b }

// abiFlag adds the repeatable --abi flag listing prioritized ABI files.
// Retrieve the value with cmd.Flags().GetStringSlice("abi").
func abiFlag(cmd *cobra.Command) {
	cmd.Flags().StringSlice("abi", nil, "ABI or compiled artifact JSON tried before the artifacts index (repeatable)")
	aliasFlag(cmd, "abi-file", "abi")
}

// timeoutFlag adds the --timeout-seconds flag overriding the network policy.
// Retrieve the value with cmd.Flags().GetInt("timeout-seconds"); 0 means not set.
func timeoutFlag(cmd *cobra.Command) {
	cmd.Flags().Int("timeout-seconds", 0, "Override the confirmation timeout of every network, in seconds")
	aliasFlag(cmd, "timeout", "timeout-seconds")
}

// artifactsFlag adds the --artifacts-dir flag overriding the configured artifacts root.
func artifactsFlag(cmd *cobra.Command) {
	cmd.Flags().String("artifacts-dir", "", "Root of the compiled contract artifacts (default from config)")
}

// aliasFlag silently accepts --alias as --name, chaining any normalize func already set.
func aliasFlag(cmd *cobra.Command, alias, name string) {
	existingNormalize := cmd.Flags().GetNormalizeFunc()
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, flagName string) pflag.NormalizedName {
		if flagName == alias {
			return pflag.NormalizedName(name)
		}
		if existingNormalize != nil {
			return existingNormalize(f, flagName)
		}

		return pflag.NormalizedName(flagName)
	})
}
