package decoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlemint/txconfirm/confirm/artifacts"
)

// --- helpers ---

const tokenABI = `[
	{"type":"error","name":"InsufficientBalance","inputs":[
		{"name":"available","type":"uint256"},
		{"name":"required","type":"uint256"}]}
]`

const vaultABI = `[
	{"type":"error","name":"Unauthorized","inputs":[{"name":"caller","type":"address"}]},
	{"type":"error","name":"CallFailed","inputs":[{"name":"reason","type":"bytes"}]},
	{"type":"error","name":"Paused","inputs":[]}
]`

func mustABI(t *testing.T, js string) abi.ABI {
	t.Helper()

	a, err := abi.JSON(strings.NewReader(js))
	require.NoError(t, err)

	return a
}

func mustType(t *testing.T, typ string) abi.Type {
	t.Helper()

	ty, err := abi.NewType(typ, "", nil)
	require.NoError(t, err)

	return ty
}

func errorSelector(name string, args abi.Arguments) []byte {
	ts := make([]string, len(args))
	for i, a := range args {
		ts[i] = a.Type.String()
	}
	sig := fmt.Sprintf("%s(%s)", name, strings.Join(ts, ","))

	return crypto.Keccak256([]byte(sig))[:4]
}

func buildCustomErrorRevert(t *testing.T, name string, args abi.Arguments, vals ...any) []byte {
	t.Helper()

	enc, err := args.Pack(vals...)
	require.NoError(t, err)

	return append(errorSelector(name, args), enc...)
}

func buildStdErrorRevert(t *testing.T, msg string) []byte {
	t.Helper()

	args := abi.Arguments{{Type: mustType(t, "string")}}
	enc, err := args.Pack(msg)
	require.NoError(t, err)
	sel, _ := hex.DecodeString("08c379a0")

	return append(sel, enc...)
}

func insufficientBalance(t *testing.T, available, required int64) []byte {
	t.Helper()

	u256 := mustType(t, "uint256")

	return buildCustomErrorRevert(t, "InsufficientBalance",
		abi.Arguments{{Type: u256}, {Type: u256}}, big.NewInt(available), big.NewInt(required))
}

type staticSource []artifacts.Entry

func (s staticSource) All() []artifacts.Entry { return s }

// --- tests ---

func Test_Decoder_Decode(t *testing.T) {
	t.Parallel()

	token := mustABI(t, tokenABI)
	vault := mustABI(t, vaultABI)
	caller := common.HexToAddress("0x000000000000000000000000000000000000bEEF")

	fallback := staticSource{{SourcePath: "artifacts/Vault.json", ABI: vault}}

	tests := []struct {
		name            string
		giveData        []byte
		givePrioritized []abi.ABI
		giveFallback    ABISource
		wantName        string
		wantSource      string
		wantNarrative   string
		wantOK          bool
	}{
		{
			name:            "prioritized ABI match",
			giveData:        insufficientBalance(t, 5, 10),
			givePrioritized: []abi.ABI{token},
			giveFallback:    fallback,
			wantName:        "InsufficientBalance",
			wantSource:      SourcePrioritized,
			wantNarrative:   "InsufficientBalance (args: 5, 10)",
			wantOK:          true,
		},
		{
			name:          "fallback index match with no prioritized ABIs",
			giveData:      buildCustomErrorRevert(t, "Unauthorized", abi.Arguments{{Type: mustType(t, "address")}}, caller),
			giveFallback:  fallback,
			wantName:      "Unauthorized",
			wantSource:    "artifacts/Vault.json",
			wantNarrative: "Unauthorized (args: " + caller.Hex() + ")",
			wantOK:        true,
		},
		{
			name:          "error without arguments",
			giveData:      errorSelector("Paused", nil),
			giveFallback:  fallback,
			wantName:      "Paused",
			wantSource:    "artifacts/Vault.json",
			wantNarrative: "Paused",
			wantOK:        true,
		},
		{
			name:          "standard Error(string)",
			giveData:      buildStdErrorRevert(t, "ERC20: transfer amount exceeds balance"),
			wantName:      "Error",
			wantSource:    SourceStandard,
			wantNarrative: "Error (args: ERC20: transfer amount exceeds balance)",
			wantOK:        true,
		},
		{
			name:            "unknown selector",
			giveData:        errorSelector("Nope", nil),
			givePrioritized: []abi.ABI{token},
			giveFallback:    fallback,
		},
		{
			name:            "matching selector with truncated arguments",
			giveData:        insufficientBalance(t, 1, 2)[:20],
			givePrioritized: []abi.ABI{token},
		},
		{
			name:     "too short",
			giveData: []byte{0x01, 0x02},
		},
		{
			name: "nil data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dec := New(tt.giveFallback, nil)
			got, ok := dec.Decode(tt.giveData, tt.givePrioritized)

			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Nil(t, got)

				return
			}
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantNarrative, got.Narrative())
		})
	}
}

func Test_Decoder_PrioritizedWinsOverFallback(t *testing.T) {
	t.Parallel()

	token := mustABI(t, tokenABI)
	dec := New(staticSource{{SourcePath: "artifacts/Token.json", ABI: token}}, nil)

	got, ok := dec.Decode(insufficientBalance(t, 1, 2), []abi.ABI{token})
	require.True(t, ok)
	assert.Equal(t, SourcePrioritized, got.Source)
}

func Test_Decoder_FallbackIndexFromArtifacts(t *testing.T) {
	t.Parallel()

	// Exercises the real artifact index as the fallback source.
	_, ok := New(artifacts.NewIndex(t.TempDir()), nil).Decode(insufficientBalance(t, 1, 2), nil)
	assert.False(t, ok)

	root := t.TempDir()
	tokenPath := filepath.Join(root, "Token.json")
	require.NoError(t, os.WriteFile(tokenPath, []byte(`{"abi":`+tokenABI+`}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Vault.json"), []byte(`{"abi":`+vaultABI+`}`), 0o600))

	got, ok := New(artifacts.NewIndex(root), nil).Decode(insufficientBalance(t, 1, 2), nil)
	require.True(t, ok)
	assert.Equal(t, "InsufficientBalance", got.Name)
	assert.Equal(t, tokenPath, got.Source)
}

func Test_Decoder_UnwrapsNestedRevert(t *testing.T) {
	t.Parallel()

	vault := mustABI(t, vaultABI)
	token := mustABI(t, tokenABI)
	dec := New(staticSource{{SourcePath: "artifacts/Token.json", ABI: token}}, nil)

	inner := insufficientBalance(t, 3, 4)
	outer := buildCustomErrorRevert(t, "CallFailed", abi.Arguments{{Type: mustType(t, "bytes")}}, inner)

	got, ok := dec.Decode(outer, []abi.ABI{vault})
	require.True(t, ok)
	assert.Equal(t, "CallFailed", got.Name)
	require.NotNil(t, got.Inner)
	assert.Equal(t, "InsufficientBalance", got.Inner.Name)
	assert.Equal(t, "CallFailed -> InsufficientBalance (args: 3, 4)", got.Narrative())
}

func Test_DecodedError_Narrative(t *testing.T) {
	t.Parallel()

	var nilErr *DecodedError
	assert.Empty(t, nilErr.Narrative())

	unnamed := &DecodedError{Args: []any{big.NewInt(7), []byte{0xde, 0xad}}}
	assert.JSONEq(t, `["7","0xdead"]`, unnamed.Narrative())

	fixed := &DecodedError{Name: "BadHash", Args: []any{[4]byte{0xca, 0xfe, 0xba, 0xbe}}, Selector: [4]byte{1, 2, 3, 4}}
	assert.Equal(t, "BadHash (args: 0xcafebabe)", fixed.Narrative())
	assert.Equal(t, "0x01020304", fixed.SelectorHex())
}

type rpcDataErr struct{ data any }

func (e rpcDataErr) Error() string  { return "execution reverted" }
func (e rpcDataErr) ErrorData() any { return e.data }

func Test_ExtractRevertData(t *testing.T) {
	t.Parallel()

	want := []byte{0xde, 0xad, 0xbe, 0xef}

	tests := []struct {
		name   string
		give   error
		want   []byte
		wantOK bool
	}{
		{name: "nil error"},
		{name: "plain error", give: errors.New("boom")},
		{name: "hex string", give: rpcDataErr{data: "0xdeadbeef"}, want: want, wantOK: true},
		{name: "wrapped hex string", give: fmt.Errorf("call: %w", rpcDataErr{data: "0xdeadbeef"}), want: want, wantOK: true},
		{name: "hexutil bytes", give: rpcDataErr{data: hexutil.Bytes(want)}, want: want, wantOK: true},
		{name: "raw bytes", give: rpcDataErr{data: want}, want: want, wantOK: true},
		{name: "nested map", give: rpcDataErr{data: map[string]any{"data": "0xdeadbeef"}}, want: want, wantOK: true},
		{name: "non hex string", give: rpcDataErr{data: "execution reverted"}},
		{name: "empty hex", give: rpcDataErr{data: "0x"}},
		{name: "unsupported type", give: rpcDataErr{data: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ExtractRevertData(tt.give)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
