package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Uptime == "" {
		t.Error("uptime missing from liveness response")
	}
}

func TestReadyz(t *testing.T) {
	t.Run("all checkers pass", func(t *testing.T) {
		h := New(
			Checker{Name: "capture", Check: func(context.Context) error { return nil }},
			Checker{Name: "playback", Check: func(context.Context) error { return nil }},
		)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()
		h.Readyz(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		body := decode(t, rec)
		if body.Status != "ok" {
			t.Errorf("status = %q, want %q", body.Status, "ok")
		}
		for _, name := range []string{"capture", "playback"} {
			cr, ok := body.Checks[name]
			if !ok {
				t.Fatalf("check %q missing from response", name)
			}
			if cr.Status != "ok" {
				t.Errorf("%s check = %+v, want ok", name, cr)
			}
			if cr.Latency == "" {
				t.Errorf("%s check has no latency", name)
			}
		}
	})

	t.Run("one checker fails", func(t *testing.T) {
		h := New(
			Checker{Name: "capture", Check: func(context.Context) error {
				return errors.New("capture session not active")
			}},
			Checker{Name: "playback", Check: func(context.Context) error { return nil }},
		)

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()
		h.Readyz(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		body := decode(t, rec)
		if body.Status != "fail" {
			t.Errorf("status = %q, want %q", body.Status, "fail")
		}
		if got := body.Checks["capture"]; got.Status != "fail" || got.Error != "capture session not active" {
			t.Errorf("capture check = %+v", got)
		}
		if got := body.Checks["playback"]; got.Status != "ok" {
			t.Errorf("playback check = %+v, want ok", got)
		}
	})

	t.Run("no checkers is ready", func(t *testing.T) {
		h := New()

		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()
		h.Readyz(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if body := decode(t, rec); body.Status != "ok" {
			t.Errorf("status = %q, want %q", body.Status, "ok")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		h := New(
			Checker{Name: "slow", Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.Readyz(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestRegister(t *testing.T) {
	h := New(
		Checker{Name: "capture", Check: func(context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}
