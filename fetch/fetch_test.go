package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docbridge/domain"
)

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

// blockingServer holds every request until the client goes away or the test ends.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestDoReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), NewClient(nil), newRequest(t, srv.URL), time.Second, "status", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != `{"id": 7}` {
		t.Fatalf("unexpected response: %d %q", resp.StatusCode, resp.Body)
	}
	if resp.ContentType() != "application/json" || !resp.OK() {
		t.Fatalf("helpers: %q ok=%v", resp.ContentType(), resp.OK())
	}
	if StatusError(resp) != nil {
		t.Fatalf("2xx should not be an error")
	}
}

func TestDoAlreadyCancelledSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, srv.Client(), newRequest(t, srv.URL), time.Second, "status", nil)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("expected no calls, got %d", n)
	}
}

func TestDoTimeout(t *testing.T) {
	srv := blockingServer(t)
	_, err := Do(context.Background(), srv.Client(), newRequest(t, srv.URL), 30*time.Millisecond, "status", nil)
	if !errors.Is(err, domain.ErrTimedOut) {
		t.Fatalf("got %v", err)
	}
	if !domain.IsTransient(err) {
		t.Fatalf("timeout should be transient")
	}
}

func TestDoExternalCancelWins(t *testing.T) {
	srv := blockingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := Do(ctx, srv.Client(), newRequest(t, srv.URL), 5*time.Second, "status", nil)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("got %v", err)
	}
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := Do(context.Background(), http.DefaultClient, newRequest(t, url), time.Second, "status", nil)
	var ne *domain.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError(&Response{StatusCode: 500})
	var se *domain.ServerError
	if !errors.As(err, &se) || se.Status != 500 {
		t.Fatalf("got %v", err)
	}
	if err.Error() != "Server error: 500" {
		t.Fatalf("message: %q", err.Error())
	}
}
