// Package relay submits meta-transactions through the registered networks
// and reports one outcome per attempt.
package relay

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gaslessgamefi/relay/internal/analytics"
	"github.com/gaslessgamefi/relay/internal/export"
	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/network"
)

// Network health states.
const (
	StatusOperational = "operational"
	StatusError       = "error"
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
)

// Outcome labels for the relays_total metric.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeTimeout  = "timeout"
	outcomeReverted = "reverted"
)

// probeConcurrency caps parallel health probes.
const probeConcurrency = 8

// Request is a caller's pre-signed application call.
type Request struct {
	Network string
	To      string
	Data    string
	Value   string
}

// Caller identifies who asked for the relay.
type Caller struct {
	ApplicationID string
	CallerID      string
}

// Result is a confirmed relay.
type Result struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
	Status          uint64 `json:"status"`
	Network         string `json:"network"`
}

// Balance is the relayer's native balance on one network.
type Balance struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Estimate is the projected cost of relaying a request. The fee cap fields
// are empty on networks without a base fee.
type Estimate struct {
	GasLimit             string `json:"gasLimit"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	EstimatedCost        string `json:"estimatedCost"`
}

// NetworkStatus is the probe result for one network.
type NetworkStatus struct {
	Status  string `json:"status"`
	Signer  string `json:"signer,omitempty"`
	Balance string `json:"balance,omitempty"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health aggregates the probe results of every network.
type Health struct {
	Status   string                   `json:"status"`
	Networks map[string]NetworkStatus `json:"networks"`
}

type attempt struct {
	result *Result
	err    error
}

// Dispatcher relays requests and produces exactly one outcome for every
// attempt that reaches submission.
type Dispatcher struct {
	log      logrus.FieldLogger
	cfg      Config
	registry *network.Registry
	recorder analytics.Recorder
	health   *export.HealthMetrics

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over a fully populated registry.
func NewDispatcher(
	log logrus.FieldLogger,
	cfg Config,
	registry *network.Registry,
	recorder analytics.Recorder,
	health *export.HealthMetrics,
) *Dispatcher {
	health.NetworksRegistered.Set(float64(registry.Len()))

	return &Dispatcher{
		log:      log.WithField("component", "dispatcher"),
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		health:   health,
	}
}

// Networks lists the supported network ids.
func (d *Dispatcher) Networks() []string {
	return d.registry.Supported()
}

// Forwarders maps each supported network to its forwarder address.
func (d *Dispatcher) Forwarders() map[string]string {
	return d.registry.Forwarders()
}

// Relay resolves the network, builds the envelope, submits it and waits for
// confirmation. Resolution and build errors are returned before anything is
// sent or recorded. Once submission starts the attempt runs to completion
// even if ctx is cancelled, and its outcome is recorded before Relay returns
// a result.
func (d *Dispatcher) Relay(ctx context.Context, req Request, caller Caller) (*Result, error) {
	start := time.Now()

	entry, err := d.registry.Resolve(req.Network)
	if err != nil {
		return nil, err
	}

	env, err := metatx.Build(entry.Forwarder, req.To, req.Data, req.Value)
	if err != nil {
		return nil, err
	}

	done := make(chan attempt, 1)

	d.wg.Add(1)
	d.health.RelaysInFlight.Inc()

	go func() {
		defer d.wg.Done()
		defer d.health.RelaysInFlight.Dec()

		res, err := d.execute(context.WithoutCancel(ctx), entry, env)
		d.finish(entry.ID, caller, start, res, err)

		done <- attempt{result: res, err: err}
	}()

	select {
	case a := <-done:
		return a.result, a.err
	case <-ctx.Done():
		d.log.WithFields(logrus.Fields{
			"network":        entry.ID,
			"application_id": caller.ApplicationID,
		}).Debug("Caller left before relay finished")

		return nil, ctx.Err()
	}
}

func (d *Dispatcher) execute(
	ctx context.Context,
	entry *network.Entry,
	env metatx.Envelope,
) (*Result, error) {
	submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	hash, err := entry.Signer.Send(submitCtx, env)
	cancel()

	if err != nil {
		return nil, &SubmissionRejectedError{
			Network: entry.ID,
			Reason:  err.Error(),
			Err:     err,
		}
	}

	d.log.WithFields(logrus.Fields{
		"network": entry.ID,
		"tx_hash": hash.Hex(),
	}).Debug("Transaction submitted")

	receipt, err := d.waitForReceipt(ctx, entry, hash)
	if err != nil {
		return nil, err
	}

	block := blockNumber(receipt)

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &RevertedError{
			Network:     entry.ID,
			TxHash:      hash,
			BlockNumber: block,
		}
	}

	return &Result{
		TransactionHash: hash.Hex(),
		BlockNumber:     block,
		GasUsed:         strconv.FormatUint(receipt.GasUsed, 10),
		Status:          receipt.Status,
		Network:         entry.ID,
	}, nil
}

// waitForReceipt polls until the receipt appears or the confirmation
// window closes. Lookup errors other than not-found are retried.
func (d *Dispatcher) waitForReceipt(
	ctx context.Context,
	entry *network.Entry,
	hash common.Hash,
) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := entry.Chain.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"network": entry.ID,
				"tx_hash": hash.Hex(),
			}).Warn("Receipt lookup failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, &ConfirmationTimeoutError{
				Network: entry.ID,
				TxHash:  hash,
				Timeout: d.cfg.ConfirmationTimeout,
			}
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) finish(
	networkID string,
	caller Caller,
	start time.Time,
	res *Result,
	err error,
) {
	elapsed := time.Since(start)

	o := analytics.Outcome{
		Network:       networkID,
		ApplicationID: caller.ApplicationID,
		CallerID:      caller.CallerID,
		Success:       err == nil,
		DurationMs:    elapsed.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}

	label := outcomeSuccess

	if res != nil {
		o.TransactionHash = res.TransactionHash
		o.BlockNumber = res.BlockNumber
		o.GasUsed = res.GasUsed
	}

	if err != nil {
		o.ErrorMessage = err.Error()

		var (
			timeout  *ConfirmationTimeoutError
			reverted *RevertedError
		)

		switch {
		case errors.As(err, &timeout):
			label = outcomeTimeout
			o.TransactionHash = timeout.TxHash.Hex()
		case errors.As(err, &reverted):
			label = outcomeReverted
			o.TransactionHash = reverted.TxHash.Hex()
			o.BlockNumber = reverted.BlockNumber
		default:
			label = outcomeRejected
		}
	}

	d.recorder.Record(o)

	d.health.RelaysTotal.WithLabelValues(networkID, label).Inc()
	d.health.RelayDuration.WithLabelValues(networkID).Observe(elapsed.Seconds())

	fields := logrus.Fields{
		"network":        networkID,
		"application_id": caller.ApplicationID,
		"outcome":        label,
		"duration_ms":    o.DurationMs,
	}

	if o.TransactionHash != "" {
		fields["tx_hash"] = o.TransactionHash
	}

	if err != nil {
		d.log.WithError(err).WithFields(fields).Warn("Relay failed")

		return
	}

	d.log.WithFields(fields).Info("Relay confirmed")
}

// BalanceOf returns the relayer's balance on a network. It has no effect on
// analytics.
func (d *Dispatcher) BalanceOf(ctx context.Context, networkID string) (*Balance, error) {
	entry, err := d.registry.Resolve(networkID)
	if err != nil {
		return nil, err
	}

	addr := entry.Signer.Address()

	wei, err := entry.Chain.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, &NetworkError{Network: networkID, Op: "fetching balance", Err: err}
	}

	d.health.RelayerBalance.WithLabelValues(networkID).Set(etherFloat(wei))

	return &Balance{
		Network: networkID,
		Address: addr.Hex(),
		Balance: FormatEther(wei),
	}, nil
}

// Estimate projects the gas and fees of relaying req as the relayer would
// submit it.
func (d *Dispatcher) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	entry, err := d.registry.Resolve(req.Network)
	if err != nil {
		return nil, err
	}

	env, err := metatx.Build(entry.Forwarder, req.To, req.Data, req.Value)
	if err != nil {
		return nil, err
	}

	to := env.Forwarder

	gas, err := entry.Chain.EstimateGas(ctx, ethereum.CallMsg{
		From:  entry.Signer.Address(),
		To:    &to,
		Value: env.Value,
		Data:  env.Data,
	})
	if err != nil {
		return nil, &NetworkError{Network: entry.ID, Op: "estimating gas", Err: err}
	}

	price, err := entry.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &NetworkError{Network: entry.ID, Op: "fetching gas price", Err: err}
	}

	head, err := entry.Chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &NetworkError{Network: entry.ID, Op: "fetching head", Err: err}
	}

	est := &Estimate{
		GasLimit: strconv.FormatUint(gas, 10),
		GasPrice: price.String(),
	}

	if head.BaseFee != nil {
		tip, err := entry.Chain.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, &NetworkError{Network: entry.ID, Op: "fetching tip", Err: err}
		}

		est.MaxFeePerGas = network.FeeCap(head.BaseFee, tip).String()
		est.MaxPriorityFeePerGas = tip.String()
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), price)
	est.EstimatedCost = FormatEther(cost)

	return est, nil
}

// Probe checks every network independently. One network failing never
// affects another's status.
func (d *Dispatcher) Probe(ctx context.Context) *Health {
	ids := d.registry.Supported()
	statuses := make([]NetworkStatus, len(ids))

	var g errgroup.Group

	g.SetLimit(probeConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
			defer cancel()

			var kind string
			if entry, err := d.registry.Resolve(id); err == nil {
				kind = entry.Signer.Kind()
			}

			bal, err := d.BalanceOf(pctx, id)
			if err != nil {
				d.health.NetworkUp.WithLabelValues(id).Set(0)
				d.log.WithError(err).WithField("network", id).Warn("Network probe failed")

				statuses[i] = NetworkStatus{Status: StatusError, Signer: kind, Error: err.Error()}

				return nil
			}

			d.health.NetworkUp.WithLabelValues(id).Set(1)

			statuses[i] = NetworkStatus{
				Status:  StatusOperational,
				Signer:  kind,
				Balance: bal.Balance,
				Address: bal.Address,
			}

			return nil
		})
	}

	_ = g.Wait()

	h := &Health{
		Status:   StatusHealthy,
		Networks: make(map[string]NetworkStatus, len(ids)),
	}

	if len(ids) == 0 {
		h.Status = StatusDegraded
	}

	for i, id := range ids {
		h.Networks[id] = statuses[i]

		if statuses[i].Status != StatusOperational {
			h.Status = StatusDegraded
		}
	}

	return h
}

// Wait blocks until every in-flight attempt has recorded its outcome or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}

	return r.BlockNumber.Uint64()
}
