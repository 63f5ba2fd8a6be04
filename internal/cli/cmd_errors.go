package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/settlemint/txconfirm/confirm/artifacts"
)

var (
	errorsShort = "List the custom errors found in the compiled artifacts"

	errorsLong = longDesc(`
		Scans the artifacts directory and lists every custom error declared by a compiled
		contract, with its 4 byte selector and the artifact it was found in. Files that are
		skipped are reported with --verbose.
	`)

	errorsExample = examples(`
		# List every known error
		txconfirm errors --artifacts-dir ./artifacts

		# Find which contracts declare a selector
		txconfirm errors --selector 0xcf479181
	`)
)

type errorsFlags struct {
	selector string
	verbose  bool
}

// newErrorsCmd creates the "errors" subcommand.
func newErrorsCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "errors",
		Short:   errorsShort,
		Long:    errorsLong,
		Example: errorsExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := errorsFlags{
				selector: mustString(cmd.Flags().GetString("selector")),
				verbose:  mustBool(cmd.Flags().GetBool("verbose")),
			}

			return runErrors(cmd, cfg, f)
		},
	}

	// Flags
	artifactsFlag(cmd)
	cmd.Flags().String("selector", "", "Only list errors with this 4 byte selector")
	cmd.Flags().BoolP("verbose", "v", false, "Report skipped artifact files")

	return cmd
}

// runErrors executes the errors command logic.
func runErrors(cmd *cobra.Command, cfg Config, f errorsFlags) error {
	e, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}

	var filter *[4]byte
	if f.selector != "" {
		b, err := hexutil.Decode(f.selector)
		if err != nil || len(b) != 4 {
			return fmt.Errorf("invalid selector %q, expected 0x followed by 8 hex digits", f.selector)
		}
		filter = (*[4]byte)(b)
	}

	root := e.artifactsRoot(cmd)

	opts := []artifacts.Option{artifacts.WithLogger(e.lggr.Named("artifacts"))}
	if f.verbose {
		opts = append(opts, artifacts.WithSkipHook(func(path string, reason error) {
			cmd.PrintErrf("skipped %s: %v\n", relTo(root, path), reason)
		}))
	}
	idx := artifacts.NewIndex(root, opts...)

	sigs := idx.Signatures()
	if filter != nil {
		sigs = idx.SignaturesFor(*filter)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, s := range sigs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", hexutil.Encode(s.Selector[:]), s.Sig, relTo(root, s.SourcePath))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	cmd.Printf("%d errors in %d artifacts\n", len(sigs), len(idx.All()))

	return nil
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}

	return path
}
