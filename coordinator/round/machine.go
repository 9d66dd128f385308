// Package round implements component C4: the coordinator's round
// state machine. It drives the coordinator through
// NewRound -> Sum -> Update -> Sum2 -> Aggregate -> Idle and publishes
// a fresh RoundParameters value at the start of every round.
package round

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/coordinator/aggregatorrpc"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/metrics"
	"github.com/xaynetwork/xaynet-go/coordinator/registry"
	"github.com/xaynetwork/xaynet-go/coordinator/selector"
)

var logger = logging.GetLogger("coordinator/round")

// Errors surfaced to the request handler (§7).
var (
	ErrUnexpectedMessage     = errors.New("round: unexpected message for current phase/state")
	ErrAggregatorUnavailable = errors.New("round: aggregator unavailable")
	ErrNoRoundInProgress     = errors.New("round: no round in progress")
)

// AggregatorClient is the core's view of the external Aggregator RPC
// peer (§6): submit one participant's masked update, or finalize the
// round's aggregation. Both calls can fail; failure aborts the round
// per §7 AggregatorUnavailable.
type AggregatorClient interface {
	Submit(ctx context.Context, maskedBytes []byte) error
	Aggregate(ctx context.Context) error
}

// Config holds the federated_learning settings (§6) that parameterize
// the state machine.
type Config struct {
	SumFraction    float64
	UpdateFraction float64
	// MinClients floors every phase's selection size: a phase is
	// never entered with fewer than MinClients participants selected
	// when that many are available.
	MinClients int
	// SumTarget and UpdateTarget are the number of submissions
	// required, within a phase's selected cohort, before the phase is
	// considered complete. Zero defaults to "every selected
	// participant must submit" (the cohort size itself).
	SumTarget    int
	UpdateTarget int
	// PhaseTimeout bounds how long Sum/Update/Sum2 wait for
	// submissions before aborting the round.
	PhaseTimeout time.Duration
}

// Machine is the coordinator-side round state machine (C4). It is
// driven from the coordinator's single service goroutine; none of its
// methods are safe to call concurrently with one another (mirrors the
// teacher's single-writer runtimeState, but via an externally-owned
// loop rather than its own worker goroutine, since C4 and C5 share C2
// in the same task per spec §5).
type Machine struct {
	cfg      Config
	reg      *registry.Registry
	sel      selector.Selector
	agg      AggregatorClient
	params   *ParamsCell
	notifier ParamsNotifier
	metrics  *metrics.Collectors

	phase   protocol.Phase
	roundID uint64

	// phaseSelected is the cohort chosen for the current Sum/Update/
	// Sum2 phase; only submissions from this cohort count toward the
	// phase target. Declared as a set to look up membership in O(1).
	phaseSelected map[id.ParticipantId]struct{}
	phaseDone     int
	phaseTarget   int

	deadline *time.Timer
}

// ParamsNotifier is the minimal publication hook the Machine needs;
// coordinator/service wires it to a pubsub.Broker so API readers (and
// tests) can watch RoundParameters change.
type ParamsNotifier interface {
	Broadcast(v interface{})
}

const infiniteDeadline = time.Duration(math.MaxInt64)

// NewMachine constructs a Machine in the Idle phase. Call Start to
// kick off the first round. metricsCollectors may be nil to disable
// instrumentation (e.g. in tests).
func NewMachine(cfg Config, reg *registry.Registry, sel selector.Selector, agg AggregatorClient, notifier ParamsNotifier, metricsCollectors *metrics.Collectors) *Machine {
	return &Machine{
		cfg:      cfg,
		reg:      reg,
		sel:      sel,
		agg:      agg,
		params:   NewParamsCell(),
		notifier: notifier,
		metrics:  metricsCollectors,
		phase:    protocol.PhaseIdle,
		deadline: time.NewTimer(infiniteDeadline),
	}
}

// Phase returns the coordinator's current phase.
func (m *Machine) Phase() protocol.Phase { return m.phase }

// RoundID returns the current round counter.
func (m *Machine) RoundID() uint64 { return m.roundID }

// Params returns the currently published RoundParameters.
func (m *Machine) Params() protocol.RoundParameters { return m.params.Load() }

// DeadlineC is one of the coordinator's suspension points (§5): it
// fires when the current phase's deadline elapses.
func (m *Machine) DeadlineC() <-chan time.Time { return m.deadline.C }

// Start transitions Idle -> NewRound -> Sum, matching "when the
// coordinator is started" (§4.4.1).
func (m *Machine) Start(ctx context.Context) {
	m.beginNewRound()
	m.enterSum(ctx)
}

// beginNewRound implements the Idle -> NewRound transition (§4.4.1).
func (m *Machine) beginNewRound() {
	m.roundID++
	m.reg.BeginNewRound()

	pk, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		panic("round: failed to generate round key pair: " + err.Error())
	}
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("round: failed to generate round seed: " + err.Error())
	}

	p := protocol.RoundParameters{
		PublicKey:      *pk,
		Seed:           seed,
		SumFraction:    m.cfg.SumFraction,
		UpdateFraction: m.cfg.UpdateFraction,
		RoundID:        m.roundID,
	}
	m.params.Store(p)
	m.setPhase(protocol.PhaseNewRound)
	m.notifier.Broadcast(p)

	logger.Info("new round started", "round", m.roundID)
}

// enterSum implements NewRound -> Sum (§4.4.2).
func (m *Machine) enterSum(ctx context.Context) {
	m.enterSelectionPhase(ctx, protocol.PhaseSum, m.cfg.SumFraction, m.cfg.SumTarget)
}

// enterUpdate implements Sum -> Update (§4.4.3).
func (m *Machine) enterUpdate(ctx context.Context) {
	m.enterSelectionPhase(ctx, protocol.PhaseUpdate, m.cfg.UpdateFraction, m.cfg.UpdateTarget)
}

// enterSum2 implements Update -> Sum2 (§4.4.4). Sum2 reuses the sum
// selection fraction: the spec defines no separate sum2_fraction, and
// Sum2 is the PET protocol's second sum-committee exchange (see
// DESIGN.md "Fresh selection every phase, no Sum→Sum2 committee reuse").
func (m *Machine) enterSum2(ctx context.Context) {
	m.enterSelectionPhase(ctx, protocol.PhaseSum2, m.cfg.SumFraction, m.cfg.SumTarget)
}

// enterSelectionPhase selects a cohort for phase and installs it as the
// current phase. If the cohort the registry can actually offer already
// satisfies the phase's target (notably: zero participants left
// Waiting, so target defaults to zero), the phase is immediately
// complete and advancePhase runs right away instead of waiting for a
// Submit that can never arrive.
func (m *Machine) enterSelectionPhase(ctx context.Context, phase protocol.Phase, fraction float64, target int) {
	waiting := m.reg.WaitingIds()
	minCount := int(math.Ceil(fraction * float64(len(waiting))))
	if minCount < m.cfg.MinClients {
		minCount = m.cfg.MinClients
	}

	chosen := m.sel.Select(minCount, waiting, nil)
	m.phaseSelected = make(map[id.ParticipantId]struct{}, len(chosen))
	for _, pid := range chosen {
		if _, err := m.reg.SetState(pid, registry.Selected); err == nil {
			m.phaseSelected[pid] = struct{}{}
		}
	}

	m.phaseDone = 0
	m.phaseTarget = target
	if m.phaseTarget <= 0 || m.phaseTarget > len(m.phaseSelected) {
		m.phaseTarget = len(m.phaseSelected)
	}

	m.setPhase(phase)
	m.resetDeadline(m.cfg.PhaseTimeout)

	logger.Debug("entered selection phase",
		"phase", phase,
		"selected", len(m.phaseSelected),
		"target", m.phaseTarget,
	)

	if m.phaseDone >= m.phaseTarget {
		m.advancePhase(ctx)
	}
}

// Submit implements the Submit request effect (§4.5), folded into the
// round state machine because phase matching and phase advancement
// are intrinsically C4 concerns (see DESIGN.md).
func (m *Machine) Submit(ctx context.Context, pid id.ParticipantId, reqPhase protocol.Phase, payload []byte) error {
	state := m.reg.StateOf(pid)
	if state != registry.Selected {
		// "A message from a non-Selected participant is rejected
		// without state change" (§4.4 Tie-break / ordering).
		return ErrUnexpectedMessage
	}

	if reqPhase != m.phase {
		_, _ = m.reg.SetState(pid, registry.Ignored)
		return ErrUnexpectedMessage
	}

	if err := m.submitWithRetry(ctx, payload); err != nil {
		logger.Error("aggregator submit failed, aborting round", "err", err)
		m.abortToNewRound(ctx)
		return ErrAggregatorUnavailable
	}

	if _, err := m.reg.SetState(pid, registry.Done); err != nil {
		// Lost a race with a concurrent heartbeat expiration moving
		// this participant out from under us; nothing more to do.
		return nil
	}

	if _, ok := m.phaseSelected[pid]; ok {
		m.phaseDone++
		if m.phaseDone >= m.phaseTarget {
			m.advancePhase(ctx)
		}
	}
	return nil
}

// submitWithRetry implements the "retried once" rule for
// AggregatorUnavailable (§7) via aggregatorrpc's shared backoff policy.
func (m *Machine) submitWithRetry(ctx context.Context, payload []byte) error {
	return aggregatorrpc.WithRetry(ctx, func() error {
		return m.agg.Submit(ctx, payload)
	})
}

// advancePhase moves the machine to the next phase once the current
// phase's target has been reached.
func (m *Machine) advancePhase(ctx context.Context) {
	switch m.phase {
	case protocol.PhaseSum:
		m.enterUpdate(ctx)
	case protocol.PhaseUpdate:
		m.enterSum2(ctx)
	case protocol.PhaseSum2:
		m.finalizeAggregate(ctx)
	}
}

// finalizeAggregate implements Sum2 -> Aggregate -> Idle (§4.4.5,
// §4.4.6): it asks the Aggregator to finalize, then either returns to
// Idle (success) or NewRound (failure).
func (m *Machine) finalizeAggregate(ctx context.Context) {
	m.setPhase(protocol.PhaseAggregate)
	m.resetDeadline(infiniteDeadline)

	if err := m.aggregateWithRetry(ctx); err != nil {
		logger.Error("aggregator finalize failed, aborting round", "err", err)
		m.abortToNewRound(ctx)
		return
	}

	if m.metrics != nil {
		m.metrics.RoundsCompleted.Inc()
	}
	m.setPhase(protocol.PhaseIdle)
	logger.Info("round finalized", "round", m.roundID)
}

// aggregateWithRetry implements the "retried once" rule for
// AggregatorUnavailable (§7) via aggregatorrpc's shared backoff policy.
func (m *Machine) aggregateWithRetry(ctx context.Context) error {
	return aggregatorrpc.WithRetry(ctx, func() error {
		return m.agg.Aggregate(ctx)
	})
}

// HandleDeadline implements the "per-phase deadline fires" half of
// Sum->Update, Update->Sum2 and Sum2->Aggregate (§4.4.3-5): with
// insufficient submissions, the round is aborted back to NewRound.
func (m *Machine) HandleDeadline(ctx context.Context) {
	switch m.phase {
	case protocol.PhaseSum, protocol.PhaseUpdate, protocol.PhaseSum2:
		logger.Warn("phase deadline expired with insufficient submissions",
			"phase", m.phase,
			"done", m.phaseDone,
			"target", m.phaseTarget,
		)
		m.abortToNewRound(ctx)
	}
}

// abortToNewRound implements the "aborted, the round returns to
// NewRound" rule shared by §4.4.3-5 and §7's AggregatorUnavailable.
func (m *Machine) abortToNewRound(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.RoundsAborted.Inc()
	}
	m.beginNewRound()
	m.enterSum(ctx)
}

// setPhase records the coordinator's current phase and, if metrics are
// enabled, updates the CurrentPhase gauge vector so exactly one label
// reads 1 at a time.
func (m *Machine) setPhase(phase protocol.Phase) {
	if m.metrics != nil && phase != m.phase {
		m.metrics.CurrentPhase.WithLabelValues(m.phase.String()).Set(0)
		m.metrics.CurrentPhase.WithLabelValues(phase.String()).Set(1)
	}
	m.phase = phase
}

func (m *Machine) resetDeadline(d time.Duration) {
	if !m.deadline.Stop() {
		select {
		case <-m.deadline.C:
		default:
		}
	}
	m.deadline.Reset(d)
}
