// Package metatx builds sponsor-forwarded meta-transaction envelopes.
package metatx

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ForwarderABI describes the single forwarder capability the relay uses.
const ForwarderABI = `[{
	"type": "function",
	"name": "execute",
	"stateMutability": "payable",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "data", "type": "bytes"}
	],
	"outputs": [
		{"name": "", "type": "bool"},
		{"name": "", "type": "bytes"}
	]
}]`

var (
	// ErrInvalidAddress is returned when the target is not a well-formed address.
	ErrInvalidAddress = errors.New("invalid transaction recipient address")
	// ErrInvalidPayload is returned when the call data is not valid hex.
	ErrInvalidPayload = errors.New("transaction data must be a valid hex string")
	// ErrInvalidValue is returned when the value is not a non-negative integer.
	ErrInvalidValue = errors.New("transaction value must be a non-negative integer")
)

var forwarder = mustParseABI(ForwarderABI)

// ExecuteSelector is the 4-byte selector of execute(address,bytes).
var ExecuteSelector = forwarder.Methods["execute"].ID

// Envelope is a call to a network's forwarder wrapping the caller's call.
type Envelope struct {
	Forwarder common.Address
	Data      []byte
	Value     *big.Int
}

// Build wraps a call to `to` with `data` and `value` into an execute call on
// the given forwarder. It performs no I/O.
func Build(fwd common.Address, to, data, value string) (Envelope, error) {
	target, err := ParseAddress(to)
	if err != nil {
		return Envelope{}, err
	}

	payload, err := ParsePayload(data)
	if err != nil {
		return Envelope{}, err
	}

	amount, err := ParseValue(value)
	if err != nil {
		return Envelope{}, err
	}

	encoded, err := forwarder.Pack("execute", target, payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding execute call: %w", err)
	}

	return Envelope{
		Forwarder: fwd,
		Data:      encoded,
		Value:     amount,
	}, nil
}

// ParseAddress accepts all-lowercase, all-uppercase or correctly
// checksummed hex addresses.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	addr := common.HexToAddress(s)

	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body

	if mixed && addr.Hex()[2:] != body {
		return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
	}

	return addr, nil
}

// ParsePayload decodes 0x-prefixed, even-length hex call data.
func ParsePayload(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return b, nil
}

// ParseValue parses a decimal or 0x-prefixed value; empty means zero.
func ParseValue(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}

	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}

	return v, nil
}

// IsValidationError reports whether err is a malformed-input error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrInvalidValue)
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing forwarder ABI: %v", err))
	}

	return parsed
}
