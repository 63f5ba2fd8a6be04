package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/settlemint/txconfirm/confirm/decoder"
)

// ErrUndecodable is returned when no ABI matches the revert payload.
var ErrUndecodable = errors.New("revert data could not be decoded")

var (
	decodeShort = "Decode raw revert data"

	decodeLong = longDesc(`
		Decodes a hex encoded revert payload.

		Standard Error(string) and Panic(uint256) payloads are always recognized. Custom errors
		are matched against the --abi files first and every artifact under the artifacts
		directory next. Errors wrapping another revert payload are decoded recursively.
	`)

	decodeExample = examples(`
		# Decode a standard Error(string) payload or a custom error from the artifacts index
		txconfirm decode 0x08c379a0...

		# Try a specific ABI first
		txconfirm decode 0xcf479181... --abi ./out/Token.json
	`)
)

type decodeFlags struct {
	data []byte
	abis []string
}

// newDecodeCmd creates the "decode" subcommand.
func newDecodeCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "decode <revert-data>",
		Short:   decodeShort,
		Long:    decodeLong,
		Example: decodeExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hexutil.Decode(args[0])
			if err != nil {
				return fmt.Errorf("invalid revert data %q: %w", args[0], err)
			}

			f := decodeFlags{
				data: data,
				abis: mustStrings(cmd.Flags().GetStringSlice("abi")),
			}

			return runDecode(cmd, cfg, f)
		},
	}

	// Flags
	abiFlag(cmd)
	artifactsFlag(cmd)

	return cmd
}

// runDecode executes the decode command logic.
func runDecode(cmd *cobra.Command, cfg Config, f decodeFlags) error {
	e, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}
	prioritized, err := loadABIs(f.abis)
	if err != nil {
		return err
	}

	dec := decoder.New(e.index(cmd), e.lggr.Named("decoder"))
	decoded, ok := dec.Decode(f.data, prioritized)
	if !ok {
		if len(f.data) >= 4 {
			cmd.Printf("Revert Reason: unknown custom error %s\n", hexutil.Encode(f.data[:4]))
		} else {
			cmd.Println("Revert Reason: (empty or truncated payload)")
		}

		return ErrUndecodable
	}

	cmd.Printf("Revert Reason: %s\n", decoded.Narrative())
	cmd.Printf("Selector: %s\n", decoded.SelectorHex())
	cmd.Printf("Source: %s\n", decoded.Source)
	for inner := decoded.Inner; inner != nil; inner = inner.Inner {
		cmd.Printf("Wrapped: %s (%s)\n", inner.Narrative(), inner.Source)
	}

	return nil
}
