package decoder

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ExtractRevertData pulls the revert payload out of an error returned by eth_call or
// eth_estimateGas. Nodes return it as the JSON-RPC error data, usually as a 0x prefixed hex
// string; some clients surface raw bytes instead.
func ExtractRevertData(err error) ([]byte, bool) {
	if err == nil {
		return nil, false
	}

	var derr rpc.DataError
	if !errors.As(err, &derr) {
		return nil, false
	}

	switch data := derr.ErrorData().(type) {
	case string:
		s := strings.TrimSpace(data)
		if !strings.HasPrefix(s, "0x") {
			return nil, false
		}
		b, decErr := hexutil.Decode(s)
		if decErr != nil || len(b) == 0 {
			return nil, false
		}

		return b, true
	case hexutil.Bytes:
		return data, len(data) > 0
	case []byte:
		return data, len(data) > 0
	case map[string]any:
		// Some providers nest the payload, e.g. {"data": "0x..."}.
		if inner, ok := data["data"].(string); ok {
			return ExtractRevertData(dataError{data: inner})
		}
	}

	return nil, false
}

// dataError lets nested payloads reuse the rpc.DataError path.
type dataError struct{ data any }

func (e dataError) Error() string  { return "revert data" }
func (e dataError) ErrorData() any { return e.data }
