package relay

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/network"
)

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{wei: "0", want: "0.0"},
		{wei: "1", want: "0.000000000000000001"},
		{wei: "1000000000000000000", want: "1.0"},
		{wei: "1500000000000000000", want: "1.5"},
		{wei: "123456789000000000000", want: "123.456789"},
	}

	for _, tt := range tests {
		t.Run(tt.wei, func(t *testing.T) {
			wei, ok := new(big.Int).SetString(tt.wei, 10)
			assert.True(t, ok)
			assert.Equal(t, tt.want, FormatEther(wei))
		})
	}

	assert.Equal(t, "0.0", FormatEther(nil))
}

func TestIsReportable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unknown network", err: fmt.Errorf("%w: x", network.ErrUnknownNetwork), want: true},
		{name: "invalid address", err: metatx.ErrInvalidAddress, want: true},
		{name: "invalid payload", err: metatx.ErrInvalidPayload, want: true},
		{name: "rejected", err: &SubmissionRejectedError{Network: "polygon", Reason: "nope"}, want: true},
		{name: "timeout", err: &ConfirmationTimeoutError{Network: "polygon", Timeout: time.Second}, want: true},
		{name: "reverted", err: &RevertedError{Network: "polygon"}, want: true},
		{name: "node", err: &NetworkError{Network: "polygon", Op: "fetching balance", Err: errors.New("eof")}, want: true},
		{name: "wrapped rejected", err: fmt.Errorf("outer: %w", &SubmissionRejectedError{}), want: true},
		{name: "internal", err: errors.New("nil pointer"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReportable(tt.err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.ReceiptPollInterval = 5 * time.Minute
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SubmitTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ConfirmationTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
