// Package io implements the participant's IO collaborator (§4.6,
// §9 "Polymorphism over IO"): an abstract capability the phase state
// machine is written against, plus one concrete HTTP-backed
// implementation against the coordinator's participant-facing API
// (coordinator/api). The state machine must never assume a call here
// completes synchronously; every method takes a context so callers can
// bound or cancel it.
package io

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

// Model is an opaque trained-model blob a participant loads before
// submitting in the Update phase. Its internal representation is out
// of scope.
type Model []byte

// IO is the capability the phase state machine is parameterised over.
// A tagged variant or a vtable are equally valid implementations
// (§9); this interface is the vtable form.
type IO interface {
	GetRoundParams(ctx context.Context) (protocol.RoundParameters, error)
	SendMessage(ctx context.Context, phase protocol.Phase, encrypted []byte) error
	NotifyNewRound()
	LoadModel(ctx context.Context) (Model, error)
}

// HTTPClient is an IO implementation against the coordinator's HTTP
// API (§6): GET round_params and POST submit_message. It does not
// call register or heartbeat.
type HTTPClient struct {
	BaseURL string
	Self    id.ParticipantId
	Client  *http.Client

	// OnNewRound, if set, is invoked by NotifyNewRound; it exists so
	// callers (tests, UIs) can observe the transition without
	// subclassing HTTPClient.
	OnNewRound func()
}

// NewHTTPClient constructs an HTTPClient using http.DefaultClient.
func NewHTTPClient(baseURL string, self id.ParticipantId) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, Self: self, Client: http.DefaultClient}
}

type roundParamsResponse struct {
	PublicKey      [32]byte `json:"public_key"`
	Seed           [32]byte `json:"seed"`
	SumFraction    float64  `json:"sum_fraction"`
	UpdateFraction float64  `json:"update_fraction"`
	RoundID        uint64   `json:"round_id"`
}

// GetRoundParams fetches the coordinator's currently published
// RoundParameters.
func (c *HTTPClient) GetRoundParams(ctx context.Context) (protocol.RoundParameters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/round_params", nil)
	if err != nil {
		return protocol.RoundParameters{}, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return protocol.RoundParameters{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.RoundParameters{}, fmt.Errorf("io: round_params returned %s", resp.Status)
	}

	var body roundParamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return protocol.RoundParameters{}, err
	}

	return protocol.RoundParameters{
		PublicKey:      body.PublicKey,
		Seed:           body.Seed,
		SumFraction:    body.SumFraction,
		UpdateFraction: body.UpdateFraction,
		RoundID:        body.RoundID,
	}, nil
}

// SendMessage POSTs one encrypted chunk to submit_message, tagged with
// the phase it is submitted for so the coordinator can match it
// against its own current phase (§4.5).
func (c *HTTPClient) SendMessage(ctx context.Context, phase protocol.Phase, encrypted []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/submit_message", bytes.NewReader(encrypted))
	if err != nil {
		return err
	}
	req.Header.Set("X-Participant-Id", c.Self.String())
	req.Header.Set("X-Phase", phase.String())

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("io: submit_message returned %s", resp.Status)
	}
	return nil
}

// NotifyNewRound is called whenever the phase state machine observes
// an Outdated round and resets to NewRound.
func (c *HTTPClient) NotifyNewRound() {
	if c.OnNewRound != nil {
		c.OnNewRound()
	}
}

// LoadModel is a Non-goal stub: local model storage/training is out of
// scope, so this always reports an empty model.
func (c *HTTPClient) LoadModel(ctx context.Context) (Model, error) {
	return Model{}, nil
}
