// Package api implements the participant-facing HTTP API (§6):
// GET round_params, POST register, POST heartbeat, POST
// submit_message. Wire encoding of the PET messages themselves is a
// Non-goal (§1); this package owns request routing, decoding
// envelope-level fields (participant id, phase), and translating them
// into service.Handle calls.
package api

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
	"github.com/xaynetwork/xaynet-go/coordinator/service"
)

var logger = logging.GetLogger("coordinator/api")

// Server serves the participant-facing HTTP API. Every request that
// mutates coordinator state is funneled through handle, which
// serializes it onto the Service's single event-loop goroutine (§5);
// rnd is only used for the read-only round_params lookup, which is a
// lock-free atomic read with no serialization requirement.
type Server struct {
	handle service.Handle
	rnd    *round.Machine
	mux    *http.ServeMux
}

// NewServer wires the API routes against handle and rnd.
func NewServer(handle service.Handle, rnd *round.Machine) *Server {
	s := &Server{handle: handle, rnd: rnd, mux: http.NewServeMux()}
	s.mux.HandleFunc("/round_params", s.handleRoundParams)
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/submit_message", s.handleSubmitMessage)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve listens on bindAddress until ctx is cancelled, matching the
// teacher's pattern of a cancellable blocking serve call run from its
// own goroutine (§5 "API task").
func Serve(ctx context.Context, bindAddress string, handler http.Handler) error {
	srv := &http.Server{Addr: bindAddress, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

type roundParamsResponse struct {
	PublicKey      [32]byte `json:"public_key"`
	Seed           [32]byte `json:"seed"`
	SumFraction    float64  `json:"sum_fraction"`
	UpdateFraction float64  `json:"update_fraction"`
	RoundID        uint64   `json:"round_id"`
}

func (s *Server) handleRoundParams(w http.ResponseWriter, r *http.Request) {
	p := s.rnd.Params()
	_ = json.NewEncoder(w).Encode(roundParamsResponse{
		PublicKey:      p.PublicKey,
		Seed:           p.Seed,
		SumFraction:    p.SumFraction,
		UpdateFraction: p.UpdateFraction,
		RoundID:        p.RoundID,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pid := id.New()
	if err := s.handle.Register(pid); err != nil {
		// Registration only fails when pid already exists, which
		// cannot happen for a freshly generated id; surfaced anyway
		// for completeness.
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(struct {
		ParticipantId string `json:"participant_id"`
	}{ParticipantId: pid.String()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	pid, err := participantIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.handle.Heartbeat(pid); err != nil {
		writeRequestError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	pid, err := participantIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	phase, err := phaseFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.handle.Submit(r.Context(), pid, phase, payload); err != nil {
		writeRequestError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func participantIDFromRequest(r *http.Request) (id.ParticipantId, error) {
	return id.Parse(r.Header.Get("X-Participant-Id"))
}

func phaseFromRequest(r *http.Request) (protocol.Phase, error) {
	phase, err := protocol.ParseSubmitPhase(r.Header.Get("X-Phase"))
	if err != nil {
		return 0, errUnknownPhaseHeader
	}
	return phase, nil
}

var errUnknownPhaseHeader = &phaseHeaderError{}

type phaseHeaderError struct{}

func (*phaseHeaderError) Error() string { return "api: missing or unrecognized X-Phase header" }

func writeRequestError(w http.ResponseWriter, err error) {
	logger.Debug("request rejected", "err", err)
	http.Error(w, err.Error(), http.StatusConflict)
}
