package network

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/gaslessgamefi/relay/internal/metatx"
)

func TestKeySigner_QueuedSendHonoursDeadline(t *testing.T) {
	// A nil chain fails the test if the queued send ever reaches the node.
	s := &keySigner{
		address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		chainID: big.NewInt(137),
		turn:    semaphore.NewWeighted(1),
	}

	// Another submission holds the turn.
	require.True(t, s.turn.TryAcquire(1))
	defer s.turn.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()

	_, err := s.Send(ctx, metatx.Envelope{Forwarder: common.HexToAddress("0x01")})
	require.Error(t, err)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "waiting for signer")
	assert.Less(t, time.Since(start), 2*time.Second)
}
