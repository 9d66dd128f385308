// Package request implements component C5: the coordinator's request
// handler. It is the single place that translates participant- and
// timer-originated events into registry (C2) and round state machine
// (C4) mutations, and is meant to be driven from the coordinator's
// single service loop so that C2 access is serialized (§5).
package request

import (
	"context"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/coordinator/heartbeat"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/registry"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
)

var logger = logging.GetLogger("coordinator/request")

// Handler dispatches the four request kinds of §4.5 against the
// registry and round state machine.
type Handler struct {
	reg *registry.Registry
	rnd *round.Machine

	// spawnTimer is called whenever the registry hands back a fresh
	// heartbeat.Timer to run, which in this handler is on Register
	// only (no request here moves a participant DoneAndInactive ->
	// Ignored). It is a field, not a hardcoded `go
	// timer.Run()`, so tests can observe/synchronize timer spawns.
	spawnTimer func(*heartbeat.Timer)
}

// NewHandler constructs a Handler. spawnTimer must eventually call
// timer.Run(); the caller almost always passes
// func(t *heartbeat.Timer) { go t.Run() }.
func NewHandler(reg *registry.Registry, rnd *round.Machine, spawnTimer func(*heartbeat.Timer)) *Handler {
	return &Handler{reg: reg, rnd: rnd, spawnTimer: spawnTimer}
}

// Register implements the Register(id) request (§4.5): insert into
// Waiting and spawn a heartbeat timer.
func (h *Handler) Register(pid id.ParticipantId) error {
	timer, err := h.reg.Register(pid)
	if err != nil {
		return err
	}
	h.spawnTimer(timer)
	return nil
}

// Heartbeat implements the Heartbeat(id) request (§4.5): reset the
// participant's heartbeat timer to the standard timeout.
func (h *Handler) Heartbeat(pid id.ParticipantId) error {
	return h.reg.ResetHeartbeat(pid, registry.DefaultHeartbeatTimeout)
}

// Submit implements the Submit(id, phase, payload) request (§4.5).
// The phase-matching and aggregator forwarding logic live in the round
// state machine (C4) since they are inseparable from phase
// advancement; see DESIGN.md.
func (h *Handler) Submit(ctx context.Context, pid id.ParticipantId, phase protocol.Phase, payload []byte) error {
	return h.rnd.Submit(ctx, pid, phase, payload)
}

// HeartbeatExpired implements the internal HeartbeatExpired(id)
// request (§4.5), delivered from C1 via the registry's Expirations
// channel: a Done participant goes dormant (DoneAndInactive); any
// other active participant is forgotten outright; an already-inactive
// participant is a no-op.
func (h *Handler) HeartbeatExpired(pid id.ParticipantId) {
	switch h.reg.StateOf(pid) {
	case registry.Done:
		if _, err := h.reg.SetState(pid, registry.DoneAndInactive); err != nil {
			logger.Error("failed to move expired participant to done_and_inactive", "id", pid, "err", err)
		}
	case registry.Selected, registry.Waiting, registry.Ignored:
		h.forget(pid)
	case registry.DoneAndInactive, registry.Unknown:
		// Already inactive or already gone: nothing to do.
	}
}

// forget removes an active participant entirely, without going
// through DoneAndInactive (it never submitted this round, so there is
// nothing to preserve). Outright removal is not one of the §3 DAG
// transitions; Registry.Forget is the dedicated primitive for it.
func (h *Handler) forget(pid id.ParticipantId) {
	h.reg.Forget(pid)
}
