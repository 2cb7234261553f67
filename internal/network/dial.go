package network

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/gaslessgamefi/relay/internal/version"
)

// Dial connects to a network and builds its signing identity.
func Dial(ctx context.Context, log logrus.FieldLogger, cfg Config) (*Entry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	forwarder, err := cfg.ForwarderAddress()
	if err != nil {
		return nil, err
	}

	kind := cfg.Signer.ResolvedKind()

	opts := []rpc.ClientOption{rpc.WithHeader("User-Agent", version.UserAgent())}
	if kind == SignerKindRemote {
		opts = append(opts,
			rpc.WithHeader("X-Api-Key", cfg.Signer.APIKey),
			rpc.WithHeader("X-Api-Secret", cfg.Signer.APISecret),
		)
	}

	rc, err := rpc.DialOptions(ctx, cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.ID, err)
	}

	chain := ethclient.NewClient(rc)

	var signer Signer

	switch kind {
	case SignerKindKey:
		signer, err = NewKeySigner(ctx, chain, cfg.Signer.PrivateKey)
	case SignerKindRemote:
		signer, err = NewRemoteSigner(ctx, rc, cfg.Signer.Address)
	}

	if err != nil {
		chain.Close()

		return nil, fmt.Errorf("creating %s signer for %s: %w", kind, cfg.ID, err)
	}

	log.WithFields(logrus.Fields{
		"network":   cfg.ID,
		"signer":    signer.Kind(),
		"relayer":   signer.Address().Hex(),
		"forwarder": forwarder.Hex(),
	}).Info("Network connected")

	return &Entry{
		ID:        cfg.ID,
		Endpoint:  cfg.Endpoint,
		Forwarder: forwarder,
		Chain:     chain,
		Signer:    signer,
	}, nil
}
