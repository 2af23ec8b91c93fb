package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"meeting-relay/internal/session"
)

type staticSource struct{ snap session.Snapshot }

func (s staticSource) Snapshot() session.Snapshot { return s.snap }

func TestRouter_HealthEndpoints(t *testing.T) {
	router := NewRouter(func() SessionSource { return nil })

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, rec.Code)
		}
	}
}

func TestRouter_SessionSnapshot(t *testing.T) {
	src := staticSource{snap: session.Snapshot{
		SessionID: "s-1",
		Mode:      "solo",
		Role:      "none",
		State:     "RECORDING",
		Committed: "so far",
		Sequence:  2,
	}}
	router := NewRouter(func() SessionSource { return src })

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("response is not a snapshot: %v", err)
	}
	if snap.SessionID != "s-1" || snap.State != "RECORDING" || snap.Sequence != 2 {
		t.Errorf("snapshot mismatch: %+v", snap)
	}
}

func TestRouter_NoActiveSession(t *testing.T) {
	router := NewRouter(func() SessionSource { return nil })

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a session, got %d", rec.Code)
	}
}
