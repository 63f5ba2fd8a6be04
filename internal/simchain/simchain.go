// Package simchain runs an in-memory go-ethereum chain for tests. It funds a deployer key and
// helps deploy contracts whose runtime code always reverts with a fixed payload.
package simchain

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

// EVM opcodes used to assemble the reverting contract.
const (
	opMSTORE   = 0x52
	opCODECOPY = 0x39
	opRETURN   = 0xf3
	opREVERT   = 0xfd
	opPUSH1    = 0x60
	opPUSH32   = 0x7f
)

// initCodeLen is the length of the constructor emitted by deployCode.
const initCodeLen = 12

var (
	// ChainID is the chain id of the simulated backend.
	ChainID = params.AllDevChainProtocolChanges.ChainID

	prefundAmountWei = new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
)

// Chain wraps a simulated backend and a prefunded deployer key. It implements the chain client
// interfaces through the embedded simulated.Client.
type Chain struct {
	mu sync.Mutex

	simulated.Client
	sim *simulated.Backend

	Key  *ecdsa.PrivateKey
	From common.Address
}

// New starts a simulated chain that is closed when the test ends.
func New(t *testing.T) *Chain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err, "failed to generate deployer key")
	from := crypto.PubkeyToAddress(key.PublicKey)

	sim := simulated.NewBackend(types.GenesisAlloc{
		from: {Balance: prefundAmountWei},
	}, simulated.WithBlockGasLimit(50_000_000))
	t.Cleanup(func() { _ = sim.Close() })

	return &Chain{
		Client: sim.Client(),
		sim:    sim,
		Key:    key,
		From:   from,
	}
}

// Commit mines the pending transactions into a new block.
func (c *Chain) Commit() common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sim.Commit()
}

// StartAutoMine commits a block every blockTime until the test ends.
func (c *Chain) StartAutoMine(t *testing.T, blockTime time.Duration) {
	t.Helper()

	ctx := t.Context()
	ticker := time.NewTicker(blockTime)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Commit()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SignTx signs a legacy transaction from the deployer without sending it.
func (c *Chain) SignTx(t *testing.T, to *common.Address, data []byte, gas uint64) *types.Transaction {
	t.Helper()

	nonce, err := c.PendingNonceAt(t.Context(), c.From)
	require.NoError(t, err)
	gasPrice, err := c.SuggestGasPrice(t.Context())
	require.NoError(t, err)

	tx, err := types.SignNewTx(c.Key, types.LatestSignerForChainID(ChainID), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	require.NoError(t, err, "failed to sign transaction")

	return tx
}

// Send signs and sends a transaction from the deployer and mines it.
func (c *Chain) Send(t *testing.T, to *common.Address, data []byte, gas uint64) *types.Transaction {
	t.Helper()

	tx := c.SignTx(t, to, data, gas)
	require.NoError(t, c.SendTransaction(t.Context(), tx))
	c.Commit()

	return tx
}

// DeployReverting deploys a contract that reverts every call with revertData and returns its
// address.
func (c *Chain) DeployReverting(t *testing.T, revertData []byte) common.Address {
	t.Helper()

	tx := c.Send(t, nil, deployCode(t, RevertingRuntime(t, revertData)), 1_000_000)

	receipt, err := c.TransactionReceipt(t.Context(), tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status, "deployment failed")

	return receipt.ContractAddress
}

// RevertingRuntime assembles runtime code that writes revertData to memory in 32 byte words and
// reverts with it.
func RevertingRuntime(t *testing.T, revertData []byte) []byte {
	t.Helper()

	require.Less(t, len(revertData), 256, "revert data must fit a PUSH1 length")

	var code []byte
	for off := 0; off < len(revertData); off += 32 {
		word := make([]byte, 32)
		copy(word, revertData[off:min(off+32, len(revertData))])

		code = append(code, opPUSH32)
		code = append(code, word...)
		code = append(code, opPUSH1, byte(off), opMSTORE)
	}

	return append(code, opPUSH1, byte(len(revertData)), opPUSH1, 0x00, opREVERT)
}

// deployCode prefixes runtime with a constructor that copies it to memory and returns it.
func deployCode(t *testing.T, runtime []byte) []byte {
	t.Helper()

	require.Less(t, len(runtime), 256, "runtime must fit a PUSH1 length")
	size := byte(len(runtime))

	initCode := []byte{
		opPUSH1, size, opPUSH1, initCodeLen, opPUSH1, 0x00, opCODECOPY,
		opPUSH1, size, opPUSH1, 0x00, opRETURN,
	}

	return append(initCode, runtime...)
}
