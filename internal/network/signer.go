package network

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/semaphore"

	"github.com/gaslessgamefi/relay/internal/metatx"
)

// keySigner signs transactions locally. Nonce allocation and broadcast are
// serialized so concurrent relays never reuse a nonce. Waiting for the turn
// honours ctx, so a queued submission gives up at its deadline without
// touching the node.
type keySigner struct {
	chain   Chain
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	turn *semaphore.Weighted
}

// NewKeySigner creates a signer backed by a hex private key. The chain id is
// fetched once from the chain.
func NewKeySigner(ctx context.Context, chain Chain, hexKey string) (Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}

	return &keySigner{
		chain:   chain,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		turn:    semaphore.NewWeighted(1),
	}, nil
}

func (s *keySigner) Address() common.Address {
	return s.address
}

func (s *keySigner) Kind() string {
	return SignerKindKey
}

func (s *keySigner) Send(ctx context.Context, env metatx.Envelope) (common.Hash, error) {
	if err := s.turn.Acquire(ctx, 1); err != nil {
		return common.Hash{}, fmt.Errorf("waiting for signer: %w", err)
	}
	defer s.turn.Release(1)

	nonce, err := s.chain.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching nonce: %w", err)
	}

	to := env.Forwarder

	gas, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: env.Value,
		Data:  env.Data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimating gas: %w", err)
	}

	head, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching head: %w", err)
	}

	var tx *types.Transaction

	if head.BaseFee != nil {
		tip, err := s.chain.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggesting tip: %w", err)
		}

		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: FeeCap(head.BaseFee, tip),
			Gas:       gas,
			To:        &to,
			Value:     env.Value,
			Data:      env.Data,
		})
	} else {
		price, err := s.chain.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggesting gas price: %w", err)
		}

		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    env.Value,
			Data:     env.Data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	return signed.Hash(), nil
}

// FeeCap is the EIP-1559 max fee: twice the base fee plus the tip.
func FeeCap(baseFee, tip *big.Int) *big.Int {
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))

	return feeCap.Add(feeCap, tip)
}

// rpcCaller is satisfied by *rpc.Client.
type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// remoteSigner hands unsigned transactions to a managed relayer which holds
// the key and manages nonces and fees.
type remoteSigner struct {
	client  rpcCaller
	address common.Address
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
}

// NewRemoteSigner creates a signer that submits with eth_sendTransaction.
// When address is empty the relayer account is discovered with eth_accounts.
func NewRemoteSigner(ctx context.Context, client rpcCaller, address string) (Signer, error) {
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid relayer address %q", address)
		}

		return &remoteSigner{client: client, address: common.HexToAddress(address)}, nil
	}

	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("fetching relayer account: %w", err)
	}

	if len(accounts) == 0 {
		return nil, errors.New("relayer exposes no accounts")
	}

	return &remoteSigner{client: client, address: accounts[0]}, nil
}

func (s *remoteSigner) Address() common.Address {
	return s.address
}

func (s *remoteSigner) Kind() string {
	return SignerKindRemote
}

func (s *remoteSigner) Send(ctx context.Context, env metatx.Envelope) (common.Hash, error) {
	value := env.Value
	if value == nil {
		value = new(big.Int)
	}

	var hash common.Hash

	err := s.client.CallContext(ctx, &hash, "eth_sendTransaction", sendTxArgs{
		From:  s.address,
		To:    env.Forwarder,
		Data:  env.Data,
		Value: (*hexutil.Big)(value),
	})
	if err != nil {
		return common.Hash{}, err
	}

	return hash, nil
}
