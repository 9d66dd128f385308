package service

import (
	"context"

	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/request"
)

// job is one unit of work destined for the Service's single event
// loop; result carries the outcome back to whoever enqueued it.
type job struct {
	run    func() error
	result chan<- error
}

// Handle is a cheaply cloneable front door onto a Service: every
// method builds a closure over the request.Handler and enqueues it,
// blocking for its result. The closure only ever executes on the
// Service's single event-loop goroutine, so building it here (instead
// of calling into the Handler directly) costs nothing but guarantees
// the serialization §5 requires of C2/C4 access. This mirrors the
// reference coordinator's ServiceHandle/CoordinatorHandle split
// between the transport-facing API/RPC servers and the single
// service task that owns all core state.
type Handle struct {
	handler *request.Handler
	jobs    chan<- job
}

// Register enqueues a Register(id) request (§4.5).
func (h Handle) Register(pid id.ParticipantId) error {
	return h.do(func() error { return h.handler.Register(pid) })
}

// Heartbeat enqueues a Heartbeat(id) request (§4.5).
func (h Handle) Heartbeat(pid id.ParticipantId) error {
	return h.do(func() error { return h.handler.Heartbeat(pid) })
}

// Submit enqueues a Submit(id, phase, payload) request (§4.5).
func (h Handle) Submit(ctx context.Context, pid id.ParticipantId, phase protocol.Phase, payload []byte) error {
	return h.do(func() error { return h.handler.Submit(ctx, pid, phase, payload) })
}

func (h Handle) do(run func() error) error {
	result := make(chan error, 1)
	h.jobs <- job{run: run, result: result}
	return <-result
}
