// Package registry submits finalized carpool proofs to the external
// mobility registry used for incentive accounting.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// Client submits one proof. The boolean reports whether the registry
// accepted the record; transport failures come back as errors and are
// treated the same way by the dispatcher.
type Client interface {
	Submit(ctx context.Context, p *models.Proof) (bool, error)
}

// GouvClient posts proofs to the French carpool register API (BetaGouv)
// with a bearer token.
type GouvClient struct {
	URI    string
	Token  string
	Client *http.Client
}

func NewGouvClient(uri, token string) *GouvClient {
	return &GouvClient{URI: uri, Token: token, Client: &http.Client{Timeout: 5 * time.Second}}
}

// journey is the submitted payload, reduced to what the proof carries.
type journey struct {
	JourneyID string       `json:"journey_id"`
	Type      string       `json:"journey_type"`
	Driver    participant  `json:"driver"`
	Passenger participant  `json:"passenger"`
}

type participant struct {
	Identity identity  `json:"identity"`
	Start    *position `json:"start,omitempty"`
	End      *position `json:"end,omitempty"`
}

type identity struct {
	Phone string `json:"phone,omitempty"`
}

type position struct {
	Datetime time.Time `json:"datetime"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
}

func (g *GouvClient) Submit(ctx context.Context, p *models.Proof) (bool, error) {
	body, err := json.Marshal(journeyFor(p))
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URI, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func journeyFor(p *models.Proof) journey {
	j := journey{
		JourneyID: fmt.Sprintf("%d-%s", p.AgreementID, p.ProofDate.Format("2006-01-02")),
		Type:      string(p.Type),
		Driver:    participant{Identity: identity{Phone: p.Driver.Phone}},
		Passenger: participant{Identity: identity{Phone: p.Passenger.Phone}},
	}
	if p.OriginDriverAddress != nil {
		j.Driver.Start = &position{Datetime: p.StartDriverDate, Lat: p.OriginDriverAddress.Latitude, Lon: p.OriginDriverAddress.Longitude}
	}
	if p.DestinationDriverAddress != nil {
		j.Driver.End = &position{Datetime: p.EndDriverDate, Lat: p.DestinationDriverAddress.Latitude, Lon: p.DestinationDriverAddress.Longitude}
	}
	if p.PickUpPassengerAddress != nil && p.PickUpPassengerDate != nil {
		j.Passenger.Start = &position{Datetime: *p.PickUpPassengerDate, Lat: p.PickUpPassengerAddress.Latitude, Lon: p.PickUpPassengerAddress.Longitude}
	}
	if p.DropOffPassengerAddress != nil && p.DropOffPassengerDate != nil {
		j.Passenger.End = &position{Datetime: *p.DropOffPassengerDate, Lat: p.DropOffPassengerAddress.Latitude, Lon: p.DropOffPassengerAddress.Longitude}
	}
	return j
}
