// Package networktest provides in-memory Chain and Signer implementations
// for tests.
package networktest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/network"
)

// Chain is a scriptable network.Chain. Receipts are absent until added,
// which makes TransactionReceipt return ethereum.NotFound.
type Chain struct {
	mu sync.Mutex

	ID       *big.Int
	Balance  *big.Int
	BaseFee  *big.Int
	GasPrice *big.Int
	Tip      *big.Int
	Gas      uint64
	Head     uint64

	BalanceErr  error
	EstimateErr error
	SendErr     error
	HeadErr     error

	receipts     map[common.Hash]*types.Receipt
	sent         []*types.Transaction
	calls        []ethereum.CallMsg
	receiptCalls int
	closed       bool
}

var _ network.Chain = (*Chain)(nil)

// NewChain returns a legacy-fee chain with chain id 1337.
func NewChain() *Chain {
	return &Chain{
		ID:       big.NewInt(1337),
		Balance:  new(big.Int),
		GasPrice: big.NewInt(1_000_000_000),
		Tip:      big.NewInt(1_000_000_000),
		Gas:      21000,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

// AddReceipt makes a receipt visible for hash.
func (c *Chain) AddReceipt(hash common.Hash, r *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.TxHash = hash
	c.receipts[hash] = r
}

// Sent returns the transactions broadcast so far.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)

	return out
}

// Calls returns the messages passed to EstimateGas.
func (c *Chain) Calls() []ethereum.CallMsg {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ethereum.CallMsg, len(c.calls))
	copy(out, c.calls)

	return out
}

// ReceiptCalls returns how often a receipt was requested.
func (c *Chain) ReceiptCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.receiptCalls
}

// Closed reports whether Close was called.
func (c *Chain) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Chain) ChainID(_ context.Context) (*big.Int, error) {
	return c.ID, nil
}

func (c *Chain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Head, c.HeadErr
}

func (c *Chain) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}

	return new(big.Int).Set(c.Balance), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return uint64(len(c.sent)), nil
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, msg)

	if c.EstimateErr != nil {
		return 0, c.EstimateErr
	}

	return c.Gas, nil
}

func (c *Chain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return c.GasPrice, nil
}

func (c *Chain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return c.Tip, nil
}

func (c *Chain) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HeadErr != nil {
		return nil, c.HeadErr
	}

	return &types.Header{
		Number:  new(big.Int).SetUint64(c.Head),
		BaseFee: c.BaseFee,
	}, nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}

	c.sent = append(c.sent, tx)

	return nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receiptCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return r, nil
}

func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// Signer is a network.Signer that returns a fixed hash and records every
// envelope it is given. When Gate is non-nil Send blocks until it is closed.
type Signer struct {
	Addr common.Address
	Hash common.Hash
	Err  error
	Gate chan struct{}

	mu   sync.Mutex
	sent []metatx.Envelope
}

var _ network.Signer = (*Signer)(nil)

func (s *Signer) Address() common.Address {
	return s.Addr
}

func (s *Signer) Kind() string {
	return "fake"
}

func (s *Signer) Send(ctx context.Context, env metatx.Envelope) (common.Hash, error) {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()

	if s.Err != nil {
		return common.Hash{}, s.Err
	}

	return s.Hash, nil
}

// Sent returns the envelopes submitted so far.
func (s *Signer) Sent() []metatx.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]metatx.Envelope, len(s.sent))
	copy(out, s.sent)

	return out
}

// Entry builds a registry entry around a fake chain and signer.
func Entry(id string, forwarder common.Address, chain *Chain, signer *Signer) *network.Entry {
	return &network.Entry{
		ID:        id,
		Endpoint:  "memory://" + id,
		Forwarder: forwarder,
		Chain:     chain,
		Signer:    signer,
	}
}
