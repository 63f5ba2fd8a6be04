// Package decoder turns raw EVM revert payloads into named errors with decoded arguments.
package decoder

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/settlemint/txconfirm/confirm/artifacts"
	"github.com/settlemint/txconfirm/pkg/logger"
)

// SourcePrioritized marks errors decoded with one of the caller supplied ABIs.
const (
	SourcePrioritized = "prioritized"
	SourceStandard    = "standard"
)

// maxUnwrapDepth bounds recursive decoding of errors wrapping other revert payloads.
const maxUnwrapDepth = 4

// ABISource supplies the fallback ABIs consulted after the prioritized ones.
type ABISource interface {
	All() []artifacts.Entry
}

// selectorSource is implemented by sources indexed by error selector, such as *artifacts.Index.
type selectorSource interface {
	Lookup(selector [4]byte) []artifacts.Entry
}

// DecodedError is a revert payload matched against an ABI error definition.
type DecodedError struct {
	Name     string
	Args     []any
	Selector [4]byte
	// Source is SourcePrioritized, SourceStandard or the artifact path the definition came from.
	Source string
	// Inner is set when the error's only argument is itself a decodable revert payload.
	Inner *DecodedError
}

// Narrative renders the error as "<name> (args: v1, v2)". Errors without a name are rendered as
// a JSON dump of their arguments.
func (e *DecodedError) Narrative() string {
	if e == nil {
		return ""
	}
	if e.Name == "" {
		raw, err := json.Marshal(formatArgs(e.Args))
		if err != nil {
			return fmt.Sprintf("%v", e.Args)
		}

		return string(raw)
	}

	var sb strings.Builder
	sb.WriteString(e.Name)
	if e.Inner != nil {
		sb.WriteString(" -> ")
		sb.WriteString(e.Inner.Narrative())

		return sb.String()
	}
	if len(e.Args) > 0 {
		sb.WriteString(" (args: ")
		sb.WriteString(strings.Join(formatArgs(e.Args), ", "))
		sb.WriteString(")")
	}

	return sb.String()
}

// SelectorHex returns the 0x prefixed error selector.
func (e *DecodedError) SelectorHex() string {
	return "0x" + hex.EncodeToString(e.Selector[:])
}

// Decoder matches revert payloads against prioritized ABIs and then the artifact index.
type Decoder struct {
	fallback ABISource
	lggr     logger.Logger
}

// New returns a Decoder. fallback may be nil, in which case only prioritized ABIs and the
// standard Error(string)/Panic(uint256) payloads are decoded.
func New(fallback ABISource, lggr logger.Logger) *Decoder {
	if lggr == nil {
		lggr = logger.Nop()
	}

	return &Decoder{fallback: fallback, lggr: lggr}
}

// Decode tries the standard revert encodings, then each prioritized ABI, then every artifact in
// the fallback index. It never panics; a payload nothing matches returns (nil, false).
func (d *Decoder) Decode(data []byte, prioritized []abi.ABI) (*DecodedError, bool) {
	return d.decode(data, prioritized, 0)
}

func (d *Decoder) decode(data []byte, prioritized []abi.ABI, depth int) (*DecodedError, bool) {
	if len(data) < 4 || depth > maxUnwrapDepth {
		return nil, false
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	if reason, err := abi.UnpackRevert(data); err == nil {
		name := "Error"
		if bytes.Equal(sel[:], panicSelector) {
			name = "Panic"
		}

		return &DecodedError{Name: name, Args: []any{reason}, Selector: sel, Source: SourceStandard}, true
	}

	for _, a := range prioritized {
		if de, ok := d.decodeWith(a, data, SourcePrioritized, depth); ok {
			return de, true
		}
	}

	if d.fallback == nil {
		return nil, false
	}
	entries := d.fallback.All()
	if ls, ok := d.fallback.(selectorSource); ok {
		entries = ls.Lookup(sel)
	}
	for _, entry := range entries {
		if de, ok := d.decodeWith(entry.ABI, data, entry.SourcePath, depth); ok {
			return de, true
		}
	}

	return nil, false
}

// decodeWith attempts one ABI. Any panic raised by the ABI unpacker is treated as no match.
func (d *Decoder) decodeWith(a abi.ABI, data []byte, source string, depth int) (de *DecodedError, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.lggr.Debugw("Recovered from panic while decoding revert data", "source", source, "panic", r)
			de, ok = nil, false
		}
	}()

	sel, payload := data[:4], data[4:]
	for name, abiErr := range a.Errors {
		if !bytes.Equal(abiErr.ID[:4], sel) {
			continue
		}

		values, err := abiErr.Inputs.Unpack(payload)
		if err != nil {
			d.lggr.Debugw("Selector matched but arguments did not unpack", "error", name, "source", source, "err", err)

			continue
		}

		out := &DecodedError{Name: name, Args: values, Source: source}
		copy(out.Selector[:], sel)

		if len(values) == 1 {
			if inner, isBytes := values[0].([]byte); isBytes && len(inner) >= 4 {
				if nested, found := d.decode(inner, nil, depth+1); found {
					out.Inner = nested
				}
			}
		}

		return out, true
	}

	return nil, false
}

var panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}

func formatArgs(args []any) []string {
	out := make([]string, len(args))
	for i, v := range args {
		out[i] = formatArg(v)
	}

	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case []byte:
		return hexutil.Encode(t)
	case *big.Int:
		return t.String()
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)

		return hexutil.Encode(b)
	}

	return fmt.Sprintf("%v", v)
}
