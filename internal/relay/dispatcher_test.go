package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/export"
	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/network"
	"github.com/gaslessgamefi/relay/internal/network/networktest"
)

const (
	testTarget = "0x9399BB24DBB5C4b782C70c2969F58716Ebbd6a3b"
	testData   = "0xa9059cbb"
)

var (
	testForwarder = common.HexToAddress(network.DefaultForwarders[network.Polygon])
	testRelayer   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testHash      = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

type recorded struct {
	mu   sync.Mutex
	list []analytics.Outcome
}

func (r *recorded) Record(o analytics.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.list = append(r.list, o)
}

func (r *recorded) all() []analytics.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]analytics.Outcome, len(r.list))
	copy(out, r.list)

	return out
}

type fixture struct {
	dispatcher *Dispatcher
	chain      *networktest.Chain
	signer     *networktest.Signer
	outcomes   *recorded
	health     *export.HealthMetrics
}

func testConfig() Config {
	return Config{
		SubmitTimeout:       time.Second,
		ConfirmationTimeout: 200 * time.Millisecond,
		ReceiptPollInterval: 5 * time.Millisecond,
		ProbeTimeout:        time.Second,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	chain := networktest.NewChain()
	signer := &networktest.Signer{Addr: testRelayer, Hash: testHash}

	reg := network.NewRegistry()
	require.NoError(t, reg.Register(networktest.Entry(network.Polygon, testForwarder, chain, signer)))

	out := &recorded{}
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})

	return &fixture{
		dispatcher: NewDispatcher(testLog(), cfg, reg, out, health),
		chain:      chain,
		signer:     signer,
		outcomes:   out,
		health:     health,
	}
}

func successReceipt() *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     52000,
		BlockNumber: big.NewInt(1234),
	}
}

func testRequest() Request {
	return Request{Network: network.Polygon, To: testTarget, Data: testData, Value: "0"}
}

var testCaller = Caller{ApplicationID: "space-race", CallerID: "player-1"}

func TestRelay_Success(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.AddReceipt(testHash, successReceipt())

	res, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
	require.NoError(t, err)

	assert.Equal(t, &Result{
		TransactionHash: testHash.Hex(),
		BlockNumber:     1234,
		GasUsed:         "52000",
		Status:          1,
		Network:         network.Polygon,
	}, res)

	sent := f.signer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testForwarder, sent[0].Forwarder)
	assert.Equal(t, metatx.ExecuteSelector, sent[0].Data[:4])

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)

	o := outcomes[0]
	assert.True(t, o.Success)
	assert.Equal(t, network.Polygon, o.Network)
	assert.Equal(t, "space-race", o.ApplicationID)
	assert.Equal(t, "player-1", o.CallerID)
	assert.Equal(t, testHash.Hex(), o.TransactionHash)
	assert.Equal(t, uint64(1234), o.BlockNumber)
	assert.Equal(t, "52000", o.GasUsed)
	assert.Empty(t, o.ErrorMessage)
	assert.GreaterOrEqual(t, o.DurationMs, int64(0))
}

func TestRelay_ReceiptArrivesLater(t *testing.T) {
	f := newFixture(t, testConfig())

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.chain.AddReceipt(testHash, successReceipt())
	}()

	res, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), res.BlockNumber)
	assert.Greater(t, f.chain.ReceiptCalls(), 1)
}

func TestRelay_UnknownNetworkHasNoSideEffects(t *testing.T) {
	f := newFixture(t, testConfig())
	agg := analytics.New(testLog())
	f.dispatcher.recorder = agg

	req := testRequest()
	req.Network = "unsupported-chain"

	_, err := f.dispatcher.Relay(context.Background(), req, testCaller)
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrUnknownNetwork)
	assert.True(t, IsReportable(err))

	assert.Empty(t, f.signer.Sent())
	assert.Equal(t, analytics.Snapshot{
		ByNetwork:     map[string]analytics.NetworkStats{},
		ByApplication: map[string]analytics.ApplicationStats{},
	}, agg.Snapshot())
}

func TestRelay_InvalidInputNeverReachesTheNetwork(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "bad address",
			req:  Request{Network: network.Polygon, To: "not-an-address", Data: testData},
			want: metatx.ErrInvalidAddress,
		},
		{
			name: "bad payload",
			req:  Request{Network: network.Polygon, To: testTarget, Data: "hello"},
			want: metatx.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())

			_, err := f.dispatcher.Relay(context.Background(), tt.req, testCaller)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			assert.Empty(t, f.signer.Sent())
			assert.Empty(t, f.outcomes.all())
		})
	}
}

func TestRelay_SubmissionRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	f.signer.Err = errors.New("relayer paused")

	_, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
	require.Error(t, err)

	var rejected *SubmissionRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "relayer paused", rejected.Reason)
	assert.Contains(t, err.Error(), "Relay failed")

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, err.Error(), outcomes[0].ErrorMessage)
	assert.Empty(t, outcomes[0].GasUsed)
	assert.Zero(t, f.chain.ReceiptCalls())
}

func TestRelay_ConfirmationTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTimeout = 50 * time.Millisecond

	f := newFixture(t, cfg)

	_, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
	require.Error(t, err)

	var timeout *ConfirmationTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, testHash, timeout.TxHash)
	assert.NotContains(t, err.Error(), "failed")
	assert.Contains(t, err.Error(), "may still be included")

	var rejected *SubmissionRejectedError
	assert.False(t, errors.As(err, &rejected))

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, testHash.Hex(), outcomes[0].TransactionHash)
	assert.GreaterOrEqual(t, outcomes[0].DurationMs, int64(50))
}

func TestRelay_Reverted(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.AddReceipt(testHash, &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		GasUsed:     30000,
		BlockNumber: big.NewInt(99),
	})

	_, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
	require.Error(t, err)

	var reverted *RevertedError
	require.ErrorAs(t, err, &reverted)
	assert.Equal(t, uint64(99), reverted.BlockNumber)

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, uint64(99), outcomes[0].BlockNumber)
}

func TestRelay_CallerCancellationStillRecords(t *testing.T) {
	f := newFixture(t, testConfig())
	f.signer.Gate = make(chan struct{})
	f.chain.AddReceipt(testHash, successReceipt())

	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)

	go func() {
		_, err := f.dispatcher.Relay(ctx, testRequest(), testCaller)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-errc, context.Canceled)

	close(f.signer.Gate)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	require.NoError(t, f.dispatcher.Wait(waitCtx))

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Len(t, f.signer.Sent(), 1)
}

func TestRelay_ConcurrentAttemptsEachRecordOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.AddReceipt(testHash, successReceipt())

	var wg sync.WaitGroup

	for i := 0; i < 25; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.dispatcher.Relay(context.Background(), testRequest(), testCaller)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Len(t, f.outcomes.all(), 25)
}

func TestWait_Deadline(t *testing.T) {
	f := newFixture(t, testConfig())
	f.signer.Gate = make(chan struct{})
	defer close(f.signer.Gate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.dispatcher.Relay(ctx, testRequest(), testCaller)
	require.ErrorIs(t, err, context.Canceled)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()

	assert.ErrorIs(t, f.dispatcher.Wait(waitCtx), context.DeadlineExceeded)
}

func TestBalanceOf(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.Balance, _ = new(big.Int).SetString("1500000000000000000", 10)

	bal, err := f.dispatcher.BalanceOf(context.Background(), network.Polygon)
	require.NoError(t, err)

	assert.Equal(t, &Balance{
		Network: network.Polygon,
		Address: testRelayer.Hex(),
		Balance: "1.5",
	}, bal)

	_, err = f.dispatcher.BalanceOf(context.Background(), "unsupported-chain")
	assert.ErrorIs(t, err, network.ErrUnknownNetwork)

	f.chain.BalanceErr = errors.New("node offline")

	_, err = f.dispatcher.BalanceOf(context.Background(), network.Polygon)
	require.Error(t, err)

	var nodeErr *NetworkError
	assert.ErrorAs(t, err, &nodeErr)

	assert.Empty(t, f.outcomes.all())
}

func TestEstimate_Legacy(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.Gas = 60000
	f.chain.GasPrice = big.NewInt(50_000_000_000)

	est, err := f.dispatcher.Estimate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, &Estimate{
		GasLimit:      "60000",
		GasPrice:      "50000000000",
		EstimatedCost: "0.003",
	}, est)

	calls := f.chain.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testRelayer, calls[0].From)
	assert.Equal(t, testForwarder, *calls[0].To)
	assert.Empty(t, f.outcomes.all())
}

func TestEstimate_DynamicFee(t *testing.T) {
	f := newFixture(t, testConfig())
	f.chain.Gas = 21000
	f.chain.GasPrice = big.NewInt(1_000_000_000)
	f.chain.BaseFee = big.NewInt(10_000_000_000)
	f.chain.Tip = big.NewInt(1_500_000_000)

	est, err := f.dispatcher.Estimate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "21500000000", est.MaxFeePerGas)
	assert.Equal(t, "1500000000", est.MaxPriorityFeePerGas)
	assert.Equal(t, "0.000021", est.EstimatedCost)
}

func TestEstimate_Errors(t *testing.T) {
	f := newFixture(t, testConfig())

	req := testRequest()
	req.To = "not-an-address"

	_, err := f.dispatcher.Estimate(context.Background(), req)
	assert.ErrorIs(t, err, metatx.ErrInvalidAddress)
	assert.Empty(t, f.chain.Calls())

	f.chain.EstimateErr = errors.New("execution reverted")

	_, err = f.dispatcher.Estimate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
	assert.True(t, IsReportable(err))
}

func TestProbe_IsolatesNetworks(t *testing.T) {
	healthy := networktest.NewChain()
	healthy.Balance = big.NewInt(2_000_000_000_000_000_000)

	broken := networktest.NewChain()
	broken.BalanceErr = errors.New("connection refused")

	reg := network.NewRegistry()
	require.NoError(t, reg.Register(networktest.Entry(network.Polygon, testForwarder, healthy, &networktest.Signer{Addr: testRelayer})))
	require.NoError(t, reg.Register(networktest.Entry(network.Skale, testForwarder, broken, &networktest.Signer{Addr: testRelayer})))

	d := NewDispatcher(testLog(), testConfig(), reg, &recorded{}, export.NewHealthMetrics(testLog(), export.HealthConfig{}))

	h := d.Probe(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)

	require.Len(t, h.Networks, 2)
	assert.Equal(t, NetworkStatus{
		Status:  StatusOperational,
		Signer:  "fake",
		Balance: "2.0",
		Address: testRelayer.Hex(),
	}, h.Networks[network.Polygon])
	assert.Equal(t, StatusError, h.Networks[network.Skale].Status)
	assert.Equal(t, "fake", h.Networks[network.Skale].Signer)
	assert.Contains(t, h.Networks[network.Skale].Error, "connection refused")

	broken.BalanceErr = nil

	assert.Equal(t, StatusHealthy, d.Probe(context.Background()).Status)
}

func TestProbe_NoNetworks(t *testing.T) {
	d := NewDispatcher(testLog(), testConfig(), network.NewRegistry(), &recorded{}, export.NewHealthMetrics(testLog(), export.HealthConfig{}))

	h := d.Probe(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Empty(t, h.Networks)
}

func TestNetworksAndForwarders(t *testing.T) {
	f := newFixture(t, testConfig())

	assert.Equal(t, []string{network.Polygon}, f.dispatcher.Networks())
	assert.Equal(t, map[string]string{network.Polygon: testForwarder.Hex()}, f.dispatcher.Forwarders())
}
