package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codewatch/control-room/internal/model/session"
)

func TestNotifyDeliversBatch(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Delivery-ID") == "" {
			t.Error("missing delivery id header")
		}
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- p
	}))
	defer srv.Close()

	cur := session.Session{ID: "s1", Repo: "acme/widgets"}
	New(srv.URL).Notify([]session.Delta{{ID: "s1", Current: &cur, Change: session.Created}})

	select {
	case p := <-received:
		if p.Event != "session_update" || len(p.Delta) != 1 || p.Delta[0].ID != "s1" {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestNotifyDisabledWithoutURL(t *testing.T) {
	// Must not panic or spawn anything.
	New("").Notify([]session.Delta{{ID: "s1", Change: session.Deleted}})
}

func TestNotifyEmptyBatchIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("webhook must not be called for empty batches")
	}))
	defer srv.Close()

	New(srv.URL).Notify(nil)
	time.Sleep(100 * time.Millisecond)
}
