package geolookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

func TestNominatimResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":{"road":"Rue de la Paix","house_number":"12","postcode":"75002","city":"Paris","country_code":"fr"}}`))
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL)
	addr, err := c.Resolve(context.Background(), 48.8688, 2.3314)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.StreetAddress != "12 Rue de la Paix" || addr.AddressLocality != "Paris" {
		t.Fatalf("unexpected address: %+v", addr)
	}
	if addr.Latitude != 48.8688 || addr.Longitude != 2.3314 {
		t.Fatalf("expected supplied coordinates to be kept, got %+v", addr)
	}
}

func TestNominatimResolveError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL)
	if _, err := c.Resolve(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error for unresolvable coordinates")
	}
}

// countingResolver counts upstream resolves for cache tests.
type countingResolver struct {
	calls int
	err   error
}

func (c *countingResolver) Resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &models.Address{AddressLocality: "Nancy", Latitude: lat, Longitude: lon}, nil
}

func TestMemoryCacheHit(t *testing.T) {
	up := &countingResolver{}
	mc := NewMemoryCache(up, time.Minute)
	ctx := context.Background()

	if _, err := mc.Resolve(ctx, 48.69, 6.18); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	addr, err := mc.Resolve(ctx, 48.69, 6.18)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if up.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", up.calls)
	}
	if addr.AddressLocality != "Nancy" {
		t.Fatalf("unexpected address: %+v", addr)
	}
}

func TestMemoryCachePropagatesError(t *testing.T) {
	up := &countingResolver{err: errors.New("down")}
	mc := NewMemoryCache(up, time.Minute)
	if _, err := mc.Resolve(context.Background(), 1, 2); err == nil {
		t.Fatal("expected upstream error")
	}
}
