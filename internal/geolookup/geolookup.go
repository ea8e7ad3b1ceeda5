// Package geolookup resolves raw coordinates into structured addresses for
// certification records.
package geolookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// Resolver is the minimal interface the certification core needs from a
// geocoder.
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) (*models.Address, error)
}

// NominatimClient performs reverse geocoding against a Nominatim-compatible
// HTTP server.
type NominatimClient struct {
	Endpoint string
	Client   *http.Client
}

func NewNominatimClient(endpoint string) *NominatimClient {
	return &NominatimClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Resolve queries /reverse and maps the response to an address. The
// supplied coordinates are kept as the address position, the resolved
// fields only add the human-readable parts.
func (n *NominatimClient) Resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	url := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%.6f&lon=%.6f", n.Endpoint, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolookup: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Address struct {
			Road        string `json:"road"`
			HouseNumber string `json:"house_number"`
			Postcode    string `json:"postcode"`
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
			CountryCode string `json:"country_code"`
		} `json:"address"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("geolookup: %s", out.Error)
	}
	addr := &models.Address{
		StreetAddress:   street(out.Address.HouseNumber, out.Address.Road),
		PostalCode:      out.Address.Postcode,
		AddressLocality: locality(out.Address.City, out.Address.Town, out.Address.Village),
		AddressCountry:  out.Address.CountryCode,
		Latitude:        lat,
		Longitude:       lon,
	}
	return addr, nil
}

func street(houseNumber, road string) string {
	if houseNumber == "" {
		return road
	}
	return houseNumber + " " + road
}

func locality(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
