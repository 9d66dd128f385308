// Package service wires C2 (registry), C3 (selector), C4 (round state
// machine) and C5 (request handler) together into the single
// cooperative task the spec requires (§5): the Request Handler and
// Round State Machine share the Participant Registry, so all three
// are driven from one goroutine's select loop, and every participant-
// or timer-originated event is serialized through it.
package service

import (
	"context"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/coordinator/heartbeat"
	"github.com/xaynetwork/xaynet-go/coordinator/metrics"
	"github.com/xaynetwork/xaynet-go/coordinator/registry"
	"github.com/xaynetwork/xaynet-go/coordinator/request"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
	"github.com/xaynetwork/xaynet-go/coordinator/selector"
)

var logger = logging.GetLogger("coordinator/service")

// requestsBuffer sizes the Service's job queue. It only needs to
// absorb a short burst, since Handle.do blocks its caller until the
// job is drained, providing natural backpressure beyond this size.
const requestsBuffer = 64

// Service is the coordinator's single long-running task.
type Service struct {
	reg     *registry.Registry
	rnd     *round.Machine
	handler *request.Handler
	metrics *metrics.Collectors

	jobs chan job
}

// New constructs a Service. agg is the Aggregator RPC client; sel
// selects participants at the start of each phase; metricsCollectors
// may be nil to disable instrumentation (e.g. in tests).
func New(cfg round.Config, agg round.AggregatorClient, sel selector.Selector, notifier round.ParamsNotifier, metricsCollectors *metrics.Collectors) *Service {
	reg := registry.New(256)
	rnd := round.NewMachine(cfg, reg, sel, agg, notifier, metricsCollectors)

	s := &Service{
		reg:     reg,
		rnd:     rnd,
		metrics: metricsCollectors,
		jobs:    make(chan job, requestsBuffer),
	}
	s.handler = request.NewHandler(reg, rnd, func(t *heartbeat.Timer) { go t.Run() })
	return s
}

// Registry exposes the underlying registry for read-only inspection
// (tests, metrics polling); it must not be mutated outside the
// Service's event loop.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Round exposes the round state machine for read-only inspection.
func (s *Service) Round() *round.Machine { return s.rnd }

// Handle returns a new front door onto this Service's event loop.
func (s *Service) Handle() Handle {
	return Handle{handler: s.handler, jobs: s.jobs}
}

// Run drives the coordinator's single event loop until ctx is
// cancelled. It is one of the two tasks cmd/coordinator races (§5)
// whose termination ends the process: service task and API task.
// There is no RPC server task.
func (s *Service) Run(ctx context.Context) error {
	s.rnd.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pid := <-s.reg.Expirations():
			s.handler.HeartbeatExpired(pid)
			if s.metrics != nil {
				s.metrics.HeartbeatExpirations.Inc()
			}

		case <-s.rnd.DeadlineC():
			s.rnd.HandleDeadline(ctx)

		case j := <-s.jobs:
			j.result <- j.run()
		}

		s.refreshMetrics()
	}
}

func (s *Service) refreshMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.ParticipantsWaiting.Set(float64(len(s.reg.WaitingIds())))
	s.metrics.ParticipantsSelected.Set(float64(len(s.reg.SelectedIds())))
	s.metrics.ParticipantsDone.Set(float64(s.reg.DoneCount()))
	s.metrics.ParticipantsIgnored.Set(float64(s.reg.IgnoredCount()))
	s.metrics.ParticipantsInactive.Set(float64(s.reg.InactiveCount()))
}
