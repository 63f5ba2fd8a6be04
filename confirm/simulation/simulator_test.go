package simulation

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/settlemint/txconfirm/confirm/decoder"
	"github.com/settlemint/txconfirm/pkg/logger"
)

const tokenABI = `[
	{"type":"error","name":"InsufficientBalance","inputs":[
		{"name":"available","type":"uint256"},
		{"name":"required","type":"uint256"}]}
]`

type revertErr struct{ data string }

func (e revertErr) Error() string  { return "execution reverted" }
func (e revertErr) ErrorData() any { return e.data }

type recordedCall struct {
	block *big.Int
	gas   uint64
}

// fakeCaller answers CallContract per anchor key ("latest", "latest+gas" or the block number).
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string]error
	calls     []recordedCall
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{block: blockNumber, gas: call.Gas})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := "latest"
	if blockNumber != nil {
		key = blockNumber.String()
	} else if call.Gas > 0 {
		key = "latest+gas"
	}

	return nil, f.responses[key]
}

func insufficientBalanceHex(t *testing.T) string {
	t.Helper()

	a, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	errDef := a.Errors["InsufficientBalance"]
	data, err := errDef.Inputs.Pack(big.NewInt(5), big.NewInt(10))
	require.NoError(t, err)

	return hexutil.Encode(append(errDef.ID.Bytes()[:4], data...))
}

func testCall() ethereum.CallMsg {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	return ethereum.CallMsg{
		From: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		To:   &to,
		Gas:  100_000,
		Data: []byte{0xa9, 0x05, 0x9c, 0xbb},
	}
}

func Test_Simulator_Simulate_Anchors(t *testing.T) {
	t.Parallel()

	caller := &fakeCaller{responses: map[string]error{}}
	sim := New(caller, decoder.New(nil, nil), nil)

	attempts, err := sim.Simulate(t.Context(), testCall(), big.NewInt(10))
	require.NoError(t, err)
	require.Len(t, attempts, 4)

	assert.Equal(t, AnchorPreviousBlock, attempts[0].Anchor)
	assert.Zero(t, attempts[0].Block.Cmp(big.NewInt(9)))
	assert.Equal(t, AnchorInclusionBlock, attempts[1].Anchor)
	assert.Zero(t, attempts[1].Block.Cmp(big.NewInt(10)))
	assert.Equal(t, AnchorLatest, attempts[2].Anchor)
	assert.Nil(t, attempts[2].Block)
	assert.Equal(t, AnchorLatestWithGas, attempts[3].Anchor)

	gasCalls := 0
	for _, c := range caller.calls {
		if c.gas > 0 {
			gasCalls++
			assert.Nil(t, c.block)
		}
	}
	assert.Equal(t, 1, gasCalls)
}

func Test_Simulator_Simulate_GenesisAndNoGas(t *testing.T) {
	t.Parallel()

	call := testCall()
	call.Gas = 0

	sim := New(&fakeCaller{}, decoder.New(nil, nil), nil)
	attempts, err := sim.Simulate(t.Context(), call, big.NewInt(0))
	require.NoError(t, err)

	require.Len(t, attempts, 2)
	assert.Equal(t, AnchorInclusionBlock, attempts[0].Anchor)
	assert.Equal(t, AnchorLatest, attempts[1].Anchor)
}

func Test_Simulator_Diagnose(t *testing.T) {
	t.Parallel()

	token, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	revert := revertErr{data: insufficientBalanceHex(t)}

	tests := []struct {
		name          string
		giveResponses map[string]error
		wantDecoded   string
		wantAnchor    Anchor
		wantNotes     int
		wantFirstErr  string
		wantUndecoded bool
	}{
		{
			name: "decoded at previous block",
			giveResponses: map[string]error{
				"9": revert, "10": revert, "latest": revert, "latest+gas": revert,
			},
			wantDecoded:  "InsufficientBalance",
			wantAnchor:   AnchorPreviousBlock,
			wantFirstErr: "execution reverted",
		},
		{
			name: "redacted payload at inclusion, decoded at latest",
			giveResponses: map[string]error{
				"9": errors.New("missing trie node"), "10": errors.New("execution reverted"), "latest": revert,
			},
			wantDecoded:  "InsufficientBalance",
			wantAnchor:   AnchorLatest,
			wantNotes:    1,
			wantFirstErr: "missing trie node",
		},
		{
			name:      "every simulation succeeds",
			wantNotes: 4,
		},
		{
			name: "undecodable payload",
			giveResponses: map[string]error{
				"9": revertErr{data: "0xdeadbeef"}, "10": revertErr{data: "0xdeadbeef"},
				"latest": revertErr{data: "0xdeadbeef"}, "latest+gas": revertErr{data: "0xdeadbeef"},
			},
			wantFirstErr:  "execution reverted",
			wantUndecoded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lggr, logs := logger.TestObserved(t, zapcore.WarnLevel)
			sim := New(&fakeCaller{responses: tt.giveResponses}, decoder.New(nil, nil), lggr)

			diag, err := sim.Diagnose(t.Context(), testCall(), big.NewInt(10), []abi.ABI{token})
			require.NoError(t, err)

			if tt.wantDecoded != "" {
				require.NotNil(t, diag.Decoded)
				assert.Equal(t, tt.wantDecoded, diag.Decoded.Name)
				assert.Equal(t, tt.wantAnchor, diag.DecodedAt)
			} else {
				assert.Nil(t, diag.Decoded)
			}
			assert.Len(t, diag.Notes, tt.wantNotes)
			assert.Equal(t, tt.wantNotes, logs.FilterMessageSnippet("Simulation succeeded").Len())
			assert.Equal(t, tt.wantFirstErr, diag.FirstError)
			assert.Equal(t, tt.wantUndecoded, diag.UndecodedData != nil)
		})
	}
}

func Test_Simulator_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	sim := New(&fakeCaller{}, decoder.New(nil, nil), nil)
	_, err := sim.Diagnose(ctx, testCall(), big.NewInt(10), nil)
	require.ErrorIs(t, err, context.Canceled)
}

// cancellingCaller cancels the context on the first call and blocks every call until it is done.
type cancellingCaller struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (c *cancellingCaller) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.once.Do(c.cancel)
	<-ctx.Done()

	return nil, ctx.Err()
}

func Test_Simulator_CancelledDuringCalls(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	sim := New(&cancellingCaller{cancel: cancel}, decoder.New(nil, nil), nil)
	attempts, err := sim.Simulate(ctx, testCall(), big.NewInt(10))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, attempts)
}

func Test_Anchor_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "previous block", AnchorPreviousBlock.String())
	assert.Equal(t, "latest with original gas", AnchorLatestWithGas.String())
	assert.Equal(t, "anchor(9)", Anchor(9).String())
}
