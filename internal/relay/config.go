package relay

import (
	"errors"
	"time"
)

// Config configures relay timing.
type Config struct {
	// SubmitTimeout bounds the signer's submission call, including time
	// queued behind earlier submissions from the same relayer account.
	// Defaults to 30s.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// ConfirmationTimeout bounds the wait for a receipt. Defaults to 2m.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`

	// ReceiptPollInterval is how often the receipt is polled. Defaults to 2s.
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`

	// ProbeTimeout bounds each network's health probe. Defaults to 10s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// DefaultConfig returns the default relay timing.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout:       30 * time.Second,
		ConfirmationTimeout: 2 * time.Minute,
		ReceiptPollInterval: 2 * time.Second,
		ProbeTimeout:        10 * time.Second,
	}
}

// Validate checks the relay timing.
func (c *Config) Validate() error {
	if c.SubmitTimeout <= 0 {
		return errors.New("relay.submit_timeout must be positive")
	}

	if c.ConfirmationTimeout <= 0 {
		return errors.New("relay.confirmation_timeout must be positive")
	}

	if c.ReceiptPollInterval <= 0 {
		return errors.New("relay.receipt_poll_interval must be positive")
	}

	if c.ReceiptPollInterval > c.ConfirmationTimeout {
		return errors.New("relay.receipt_poll_interval cannot exceed relay.confirmation_timeout")
	}

	if c.ProbeTimeout <= 0 {
		return errors.New("relay.probe_timeout must be positive")
	}

	return nil
}
