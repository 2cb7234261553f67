// Package network holds the per-network connections and signing identities
// the relay dispatches through.
package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gaslessgamefi/relay/internal/metatx"
)

// ErrUnknownNetwork is returned when a network id has no registered entry.
var ErrUnknownNetwork = errors.New("network not supported")

// Chain is the subset of a JSON-RPC client the relay needs.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ Chain = (*ethclient.Client)(nil)

// Signer submits envelopes on behalf of the relayer.
type Signer interface {
	// Address is the relayer account that pays for gas.
	Address() common.Address
	// Kind is the signer kind (key or remote).
	Kind() string
	// Send submits the envelope and returns the transaction hash. It does
	// not wait for inclusion.
	Send(ctx context.Context, env metatx.Envelope) (common.Hash, error)
}

// Entry is everything needed to relay on one network. Entries are
// immutable once registered.
type Entry struct {
	ID        string
	Endpoint  string
	Forwarder common.Address
	Chain     Chain
	Signer    Signer
}

// Registry maps network ids to entries. All registration happens before the
// registry is shared; afterwards it is only read and needs no locking.
type Registry struct {
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry, 4),
		order:   make([]string, 0, 4),
	}
}

// Register adds an entry. Registering the same id twice is an error.
func (r *Registry) Register(e *Entry) error {
	if e == nil || e.ID == "" {
		return errors.New("network entry requires an id")
	}

	if e.Chain == nil || e.Signer == nil {
		return fmt.Errorf("network %s: chain and signer are required", e.ID)
	}

	if _, ok := r.entries[e.ID]; ok {
		return fmt.Errorf("network %s already registered", e.ID)
	}

	r.entries[e.ID] = e
	r.order = append(r.order, e.ID)

	return nil
}

// Resolve returns the entry for id or ErrUnknownNetwork.
func (r *Registry) Resolve(id string) (*Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
	}

	return e, nil
}

// Supported lists registered network ids in registration order.
func (r *Registry) Supported() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

// Forwarders maps each registered network to its forwarder address.
func (r *Registry) Forwarders() map[string]string {
	out := make(map[string]string, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Forwarder.Hex()
	}

	return out
}

// Len returns the number of registered networks.
func (r *Registry) Len() int {
	return len(r.order)
}

// Close releases every chain connection.
func (r *Registry) Close() {
	for _, id := range r.order {
		r.entries[id].Chain.Close()
	}
}
