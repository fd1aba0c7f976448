package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codewatch/control-room/internal/model/session"
)

func testClient(url string) *Client {
	return NewClient(url, "test-token",
		WithTimeout(2*time.Second),
		WithBackoffBase(5*time.Millisecond))
}

func TestFetchSnapshotKeysByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing or wrong credential header: %q", got)
		}
		json.NewEncoder(w).Encode([]session.Session{
			{ID: "s1", Repo: "acme/widgets", PlanStatus: session.PlanPending},
			{ID: "s2", Repo: "acme/gadgets", PlanStatus: session.PlanSucceeded},
		})
	}))
	defer srv.Close()

	snap, err := testClient(srv.URL).FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(snap))
	}
	if snap["s1"].Repo != "acme/widgets" {
		t.Errorf("s1 repo = %q", snap["s1"].Repo)
	}
}

func TestServerErrorRetriedWithIncreasingDelay(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ue.Kind != KindServer || !ue.Retryable() {
		t.Errorf("expected retryable server error, got %+v", ue)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, len(times))
	}
	// Exponential backoff: each gap must be no shorter than the previous
	// base delay; jitter only adds.
	prevGap := time.Duration(0)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < prevGap {
			t.Errorf("gap %d (%v) shorter than gap %d (%v)", i, gap, i-1, prevGap)
		}
		prevGap = gap
	}
}

func TestRateLimitedRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]session.Session{})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestClientErrorNeverRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such route", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetSession(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("400 must not be retried, got %d calls", calls)
	}

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ue.Kind != KindClient || ue.Retryable() {
		t.Errorf("expected non-retryable client error, got %+v", ue)
	}
	if ue.Status != http.StatusBadRequest {
		t.Errorf("status = %d", ue.Status)
	}
	if !strings.Contains(ue.Excerpt, "no such route") {
		t.Errorf("excerpt = %q", ue.Excerpt)
	}
}

func TestClientErrorExcerptBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetSession(context.Background(), "s1")
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(ue.Excerpt) > excerptLimit {
		t.Errorf("excerpt length %d exceeds cap %d", len(ue.Excerpt), excerptLimit)
	}
}

func TestTimeoutSurfacesDistinctError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", WithTimeout(30*time.Millisecond), WithBackoffBase(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.FetchSnapshot(ctx)
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ue.Kind != KindTimeout {
		t.Errorf("kind = %s, want timeout", ue.Kind)
	}
}

func TestErrorTextNeverContainsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "super-secret-credential", WithBackoffBase(time.Millisecond))
	_, err := c.GetSession(context.Background(), "s1")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "super-secret-credential") {
		t.Error("credential leaked into error text")
	}
}
