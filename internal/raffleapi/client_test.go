package raffleapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient_RejectsMalformedBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not-a-url", "://nope"} {
		if _, err := NewClient(raw); !errors.Is(err, ErrInvalidClientConfig) {
			t.Fatalf("%q: got %v", raw, err)
		}
	}
}

func TestClient_CheckUpkeep(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/upkeep/check" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"upkeep_needed":true,"diagnostic":{"state":"open","balance_wei":"1000000","player_count":1}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithAuthToken("s3cret"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	needed, err := c.CheckUpkeep(context.Background())
	if err != nil {
		t.Fatalf("CheckUpkeep: %v", err)
	}
	if !needed {
		t.Fatal("expected upkeep needed")
	}
}

func TestClient_PerformUpkeep(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/upkeep/perform" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":7}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	requestID, err := c.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("PerformUpkeep: %v", err)
	}
	if requestID != 7 {
		t.Fatalf("request id: got %d want 7", requestID)
	}
}

func TestClient_PerformUpkeep_MapsNotNeeded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"upkeep_not_needed","diagnostic":{"state":"open","balance_wei":"0","player_count":0}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.PerformUpkeep(context.Background()); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected ErrUpkeepNotNeeded, got %v", err)
	}
}

func TestClient_SurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.PerformUpkeep(context.Background())
	if err == nil || errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected opaque server error, got %v", err)
	}
}

func TestClient_EndToEndAgainstHandler(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, Config{AuthToken: "s3cret"})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	c, err := NewClient(srv.URL, WithAuthToken("s3cret"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	needed, err := c.CheckUpkeep(ctx)
	if err != nil {
		t.Fatalf("CheckUpkeep: %v", err)
	}
	if needed {
		t.Fatal("upkeep needed on empty raffle")
	}
	if _, err := c.PerformUpkeep(ctx); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected ErrUpkeepNotNeeded, got %v", err)
	}
}
