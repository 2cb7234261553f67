package network

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Signer kinds.
const (
	// SignerKindKey signs locally with a hex private key.
	SignerKindKey = "key"
	// SignerKindRemote delegates signing to a managed relayer endpoint.
	SignerKindRemote = "remote"
)

// Well-known network identifiers.
const (
	Polygon       = "polygon"
	PolygonMumbai = "polygon-mumbai"
	Arbitrum      = "arbitrum"
	Skale         = "skale"
)

// DefaultForwarders holds the forwarder used when a network does not
// configure its own.
var DefaultForwarders = map[string]string{
	Polygon:       "0x86C80a8aa58e0A4fa09A69624c31Ab2a6CAD56b8",
	PolygonMumbai: "0x9399BB24DBB5C4b782C70c2969F58716Ebbd6a3b",
}

// Config describes one supported network.
type Config struct {
	// ID is the network identifier used in requests (e.g. polygon).
	ID string `yaml:"id"`

	// Endpoint is the JSON-RPC URL of the network.
	Endpoint string `yaml:"endpoint"`

	// Forwarder is the meta-transaction forwarder contract address.
	// Falls back to DefaultForwarders when empty.
	Forwarder string `yaml:"forwarder"`

	// Signer configures the signing identity for this network.
	Signer SignerConfig `yaml:"signer"`
}

// SignerConfig configures how relayed transactions are signed.
type SignerConfig struct {
	// Kind is either "key" or "remote". Defaults to "key" when a private
	// key is set and "remote" otherwise.
	Kind string `yaml:"kind"`

	// PrivateKey is the hex-encoded relayer key (kind=key).
	PrivateKey string `yaml:"private_key"`

	// APIKey and APISecret authenticate against a managed relayer
	// (kind=remote). They are sent as request headers on every call.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Address pins the relayer address for remote signers. When empty it
	// is discovered with eth_accounts.
	Address string `yaml:"address"`
}

// ResolvedKind returns the signer kind after defaulting.
func (s SignerConfig) ResolvedKind() string {
	if s.Kind != "" {
		return s.Kind
	}

	if s.PrivateKey != "" {
		return SignerKindKey
	}

	return SignerKindRemote
}

// ForwarderAddress returns the configured forwarder or the network's
// well-known fallback.
func (c *Config) ForwarderAddress() (common.Address, error) {
	addr := c.Forwarder
	if addr == "" {
		addr = DefaultForwarders[c.ID]
	}

	if addr == "" {
		return common.Address{}, fmt.Errorf("network %s: no forwarder configured", c.ID)
	}

	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("network %s: invalid forwarder address %q", c.ID, addr)
	}

	return common.HexToAddress(addr), nil
}

// Validate checks the network configuration.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("network id is required")
	}

	if c.Endpoint == "" {
		return fmt.Errorf("network %s: endpoint is required", c.ID)
	}

	if _, err := c.ForwarderAddress(); err != nil {
		return err
	}

	switch c.Signer.ResolvedKind() {
	case SignerKindKey:
		if c.Signer.PrivateKey == "" {
			return fmt.Errorf("network %s: signer.private_key is required", c.ID)
		}
	case SignerKindRemote:
		if c.Signer.APIKey == "" || c.Signer.APISecret == "" {
			return fmt.Errorf("network %s: signer.api_key and signer.api_secret are required", c.ID)
		}

		if c.Signer.Address != "" && !common.IsHexAddress(c.Signer.Address) {
			return fmt.Errorf("network %s: invalid signer.address %q", c.ID, c.Signer.Address)
		}
	default:
		return fmt.Errorf("network %s: unknown signer kind %q", c.ID, c.Signer.Kind)
	}

	return nil
}
