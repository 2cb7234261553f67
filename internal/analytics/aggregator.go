// Package analytics accumulates relay outcomes into in-memory usage counters.
package analytics

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// HoursPerDay is the number of hourly buckets.
const HoursPerDay = 24

// DefaultTopLimit is used by TopApplications when limit is not positive.
const DefaultTopLimit = 10

// ErrNotFound is returned for reads on an unknown or empty application.
var ErrNotFound = errors.New("application not found")

// Recorder consumes relay outcomes.
type Recorder interface {
	Record(o Outcome)
}

type networkCounters struct {
	total   uint64
	success uint64
	failed  uint64
	gasUsed *big.Int
}

type appCounters struct {
	total   uint64
	success uint64
	failed  uint64
	callers mapset.Set[string]
}

// state is replaced wholesale on reset.
type state struct {
	total    uint64
	success  uint64
	failed   uint64
	networks map[string]*networkCounters
	apps     map[string]*appCounters
	appOrder []string
	hourly   [HoursPerDay]HourlyBucket
}

func newState() *state {
	return &state{
		networks: make(map[string]*networkCounters, 8),
		apps:     make(map[string]*appCounters, 64),
		appOrder: make([]string, 0, 64),
	}
}

// Aggregator owns the metrics state. Record and Reset are serialized.
type Aggregator struct {
	log logrus.FieldLogger
	now func() time.Time

	mu    sync.Mutex
	state *state
}

var _ Recorder = (*Aggregator)(nil)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock used for hourly bucketing.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an Aggregator with all counters at zero.
func New(log logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		log:   log.WithField("component", "analytics"),
		now:   time.Now,
		state: newState(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Record folds one outcome into every counter level. It never fails.
func (a *Aggregator) Record(o Outcome) {
	hour := a.now().Hour() % HoursPerDay
	gas := a.parseGas(o)

	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state

	s.total++
	if o.Success {
		s.success++
	} else {
		s.failed++
	}

	net, ok := s.networks[o.Network]
	if !ok {
		net = &networkCounters{gasUsed: new(big.Int)}
		s.networks[o.Network] = net
	}

	net.total++
	if o.Success {
		net.success++
		net.gasUsed.Add(net.gasUsed, gas)
	} else {
		net.failed++
	}

	app, ok := s.apps[o.ApplicationID]
	if !ok {
		app = &appCounters{callers: mapset.NewThreadUnsafeSet[string]()}
		s.apps[o.ApplicationID] = app
		s.appOrder = append(s.appOrder, o.ApplicationID)
	}

	app.total++
	if o.Success {
		app.success++
	} else {
		app.failed++
	}

	if o.CallerID != "" {
		app.callers.Add(o.CallerID)
	}

	s.hourly[hour].Relays++
	if !o.Success {
		s.hourly[hour].Failures++
	}
}

// parseGas returns the gas contribution of o; malformed or missing values
// contribute zero.
func (a *Aggregator) parseGas(o Outcome) *big.Int {
	if !o.Success || o.GasUsed == "" {
		return new(big.Int)
	}

	gas, ok := new(big.Int).SetString(o.GasUsed, 10)
	if !ok || gas.Sign() < 0 {
		a.log.WithFields(logrus.Fields{
			"network":  o.Network,
			"gas_used": o.GasUsed,
		}).Debug("Ignoring malformed gas used")

		return new(big.Int)
	}

	return gas
}

// Snapshot returns a consistent copy of all counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state.snapshot()
}

// Reset replaces the state with a zero state and returns the snapshot of
// the state it replaced. No Record straddles the swap.
func (a *Aggregator) Reset() Snapshot {
	fresh := newState()

	a.mu.Lock()
	old := a.state
	a.state = fresh
	a.mu.Unlock()

	// old is unreachable by writers once swapped out.
	snap := old.snapshot()

	a.log.WithField("total_relays", snap.TotalRelays).Info("Analytics reset")

	return snap
}

// Application returns the view of a single application.
func (a *Aggregator) Application(id string) (*ApplicationView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	app, ok := a.state.apps[id]
	if !ok || app.total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return &ApplicationView{
		ApplicationID: id,
		Total:         app.total,
		Success:       app.success,
		Failed:        app.failed,
		UniqueCallers: app.callers.Cardinality(),
		SuccessRate:   formatRate(app.success, app.total),
	}, nil
}

// TopApplications ranks applications by total relays, descending. Ties keep
// first-seen order.
func (a *Aggregator) TopApplications(limit int) []ApplicationRank {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	a.mu.Lock()
	ranked := make([]ApplicationRank, 0, len(a.state.appOrder))

	for _, id := range a.state.appOrder {
		app := a.state.apps[id]
		ranked = append(ranked, ApplicationRank{
			ApplicationID:     id,
			Total:             app.total,
			Success:           app.success,
			UniqueCallerCount: app.callers.Cardinality(),
		})
	}
	a.mu.Unlock()

	slices.SortStableFunc(ranked, func(x, y ApplicationRank) int {
		switch {
		case x.Total > y.Total:
			return -1
		case x.Total < y.Total:
			return 1
		default:
			return 0
		}
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		TotalRelays:      s.total,
		SuccessfulRelays: s.success,
		FailedRelays:     s.failed,
		ByNetwork:        make(map[string]NetworkStats, len(s.networks)),
		ByApplication:    make(map[string]ApplicationStats, len(s.apps)),
		HourlyStats:      s.hourly,
	}

	for id, n := range s.networks {
		snap.ByNetwork[id] = NetworkStats{
			Total:   n.total,
			Success: n.success,
			Failed:  n.failed,
			GasUsed: n.gasUsed.String(),
		}
	}

	for id, app := range s.apps {
		snap.ByApplication[id] = ApplicationStats{
			Total:         app.total,
			Success:       app.success,
			Failed:        app.failed,
			UniqueCallers: app.callers.Cardinality(),
		}
	}

	return snap
}

func formatRate(success, total uint64) string {
	return fmt.Sprintf("%.2f%%", float64(success)/float64(total)*100)
}
