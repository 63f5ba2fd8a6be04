// Package cli implements the txconfirm command tree.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/spf13/cobra"

	"github.com/settlemint/txconfirm/chain/evm"
	"github.com/settlemint/txconfirm/confirm"
	"github.com/settlemint/txconfirm/confirm/artifacts"
	"github.com/settlemint/txconfirm/confirm/config"
	"github.com/settlemint/txconfirm/pkg/logger"
)

var (
	rootShort = "Wait for EVM transactions and explain the ones that fail"

	rootLong = longDesc(`
		Waits for submitted EVM transactions to be mined and diagnoses failures.

		Reverted transactions are re-simulated and their revert payload is decoded against the
		given ABIs and every compiled artifact found under the artifacts directory. Transactions
		that are not mined in time are explained by comparing their gas price with the network.

		Configuration is read from the file given with --config and from ATK_* environment
		variables, which take precedence.
	`)
)

// ClientDialer connects to the configured RPC endpoints. The returned func releases the client.
type ClientDialer func(ctx context.Context, lggr logger.Logger, urls []string) (confirm.ChainClient, func(), error)

// ConfigLoader loads the configuration from path, or from the environment only when path is empty.
type ConfigLoader func(path string) (*config.Config, error)

// Deps holds optional dependencies that can be overridden for testing.
type Deps struct {
	DialClient ClientDialer
	LoadConfig ConfigLoader
}

// applyDefaults fills in nil fields with production implementations.
func (d *Deps) applyDefaults() {
	if d.DialClient == nil {
		d.DialClient = dialMultiClient
	}
	if d.LoadConfig == nil {
		d.LoadConfig = loadConfig
	}
}

// Config holds the configuration of the command tree.
type Config struct {
	// Logger is used by every command. When nil, a logger at the configured level is created.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	Deps Deps
}

// NewCommand creates the root command with all subcommands.
func NewCommand(cfg Config) *cobra.Command {
	cfg.Deps.applyDefaults()

	cmd := &cobra.Command{
		Use:           "txconfirm",
		Short:         rootShort,
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "Path to the YAML config file")

	cmd.AddCommand(newWaitCmd(cfg))
	cmd.AddCommand(newDecodeCmd(cfg))
	cmd.AddCommand(newPolicyCmd(cfg))
	cmd.AddCommand(newErrorsCmd(cfg))

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadEnv()
	}

	return config.Load(path)
}

func dialMultiClient(_ context.Context, lggr logger.Logger, urls []string) (confirm.ChainClient, func(), error) {
	mc, err := evm.NewMultiClient(lggr, evm.NewRPCConfig("", urls))
	if err != nil {
		return nil, nil, err
	}

	return mc, mc.Close, nil
}

// env is the per invocation state shared by the subcommands.
type env struct {
	cfg  *config.Config
	lggr logger.Logger
}

// loadEnv reads the --config flag, loads the configuration and resolves the logger.
func loadEnv(cmd *cobra.Command, c Config) (*env, error) {
	path := mustString(cmd.Flags().GetString("config"))

	cfg, err := c.Deps.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lggr := c.Logger
	if lggr == nil {
		if lggr, err = logger.NewWithLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}

	return &env{cfg: cfg, lggr: lggr}, nil
}

// artifactsRoot prefers the --artifacts-dir flag over the config.
func (e *env) artifactsRoot(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("artifacts-dir"); f != nil && f.Changed {
		return f.Value.String()
	}

	return e.cfg.Confirmation.ArtifactsDir
}

// index returns the artifact index under artifactsRoot.
func (e *env) index(cmd *cobra.Command) *artifacts.Index {
	return artifacts.NewIndex(e.artifactsRoot(cmd), artifacts.WithLogger(e.lggr.Named("artifacts")))
}

// loadABIs reads every --abi file. All failures are reported together.
func loadABIs(paths []string) ([]abi.ABI, error) {
	var (
		abis []abi.ABI
		errs []error
	)
	for _, p := range paths {
		parsed, err := artifacts.LoadABI(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("abi %s: %w", p, err))
			continue
		}
		abis = append(abis, parsed)
	}

	return abis, errors.Join(errs...)
}
