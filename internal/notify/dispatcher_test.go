package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skinvault/tradebot/internal/steam"
	"github.com/skinvault/tradebot/internal/trade"
)

type receivedEvent struct {
	OfferID  string `json:"offerId"`
	State    string `json:"state"`
	RawState int    `json:"rawState"`
	token    string
}

type captureServer struct {
	mu       sync.Mutex
	events   []receivedEvent
	failures int // respond with 500 for this many requests first
	server   *httptest.Server
}

func newCaptureServer(failures int) *captureServer {
	cs := &captureServer{failures: failures}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()

		if r.URL.Path != "/offer-state-changed" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var ev receivedEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		ev.token = r.Header.Get("X-Internal-Token")
		cs.events = append(cs.events, ev)

		if cs.failures > 0 {
			cs.failures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	return cs
}

func (cs *captureServer) received() []receivedEvent {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]receivedEvent(nil), cs.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestDispatcher(endpoint string, maxAttempts int) *Dispatcher {
	return NewDispatcher(Options{
		Endpoint:     endpoint,
		Secret:       "shared-secret",
		MaxAttempts:  maxAttempts,
		BaseBackoff:  10 * time.Millisecond,
		Timeout:      time.Second,
		DrainTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestDispatcher_Delivers(t *testing.T) {
	cs := newCaptureServer(0)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 3)
	defer d.Close()

	d.Notify("offer-1", trade.StatusAccepted, steam.StateAccepted)

	waitFor(t, func() bool { return len(cs.received()) == 1 })

	got := cs.received()[0]
	assert.Equal(t, "offer-1", got.OfferID)
	assert.Equal(t, "ACCEPTED", got.State)
	assert.Equal(t, int(steam.StateAccepted), got.RawState)
	assert.Equal(t, "shared-secret", got.token)
}

func TestDispatcher_RetriesWithSamePayload(t *testing.T) {
	cs := newCaptureServer(2)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 5)
	defer d.Close()

	d.Notify("offer-9", trade.StatusCanceled, steam.StateCanceled)

	waitFor(t, func() bool { return len(cs.received()) == 3 })

	events := cs.received()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "offer-9", ev.OfferID, "retry changed the payload")
		assert.Equal(t, "CANCELED", ev.State, "retry changed the payload")
		assert.Equal(t, int(steam.StateCanceled), ev.RawState)
	}
}

func TestDispatcher_DropsAfterMaxAttempts(t *testing.T) {
	cs := newCaptureServer(100)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 3)
	defer d.Close()

	d.Notify("offer-2", trade.StatusAccepted, steam.StateAccepted)

	waitFor(t, func() bool { return len(cs.received()) == 3 })
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, cs.received(), 3, "kept retrying past the cap")
}

func TestDispatcher_CloseDrainsPendingRetries(t *testing.T) {
	// First two attempts fail, so the job sits in a retry backoff while
	// Close runs; Close must wait out the retries, not abandon them.
	cs := newCaptureServer(2)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 5)
	d.Notify("offer-4", trade.StatusAccepted, steam.StateAccepted)
	d.Close()

	events := cs.received()
	require.Len(t, events, 3, "Close returned before the retry budget was honored")
	for _, ev := range events {
		assert.Equal(t, "offer-4", ev.OfferID)
	}
}

func TestDispatcher_CloseDeliversQueuedJobs(t *testing.T) {
	// A job parked in backoff must not starve jobs still waiting in the
	// queue when Close drains.
	cs := newCaptureServer(1)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 5)
	d.Notify("offer-a", trade.StatusAccepted, steam.StateAccepted)
	d.Notify("offer-b", trade.StatusCanceled, steam.StateCanceled)
	d.Close()

	events := cs.received()
	require.Len(t, events, 3)
	delivered := map[string]int{}
	for _, ev := range events {
		delivered[ev.OfferID]++
	}
	assert.Equal(t, 2, delivered["offer-a"], "failed first attempt plus retry")
	assert.Equal(t, 1, delivered["offer-b"], "queued job lost during Close")
}

func TestDispatcher_CloseDrainDeadline(t *testing.T) {
	cs := newCaptureServer(100)
	defer cs.server.Close()

	d := NewDispatcher(Options{
		Endpoint:     cs.server.URL,
		Secret:       "shared-secret",
		MaxAttempts:  10,
		BaseBackoff:  500 * time.Millisecond,
		Timeout:      time.Second,
		DrainTimeout: 50 * time.Millisecond,
	}, zap.NewNop())

	d.Notify("offer-stuck", trade.StatusAccepted, steam.StateAccepted)

	start := time.Now()
	d.Close()
	assert.Less(t, time.Since(start), 2*time.Second, "Close did not honor the drain deadline")
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	cs := newCaptureServer(0)
	defer cs.server.Close()

	d := newTestDispatcher(cs.server.URL, 3)
	d.Close()

	// Must drop, not panic on the closed queue
	d.Notify("offer-late", trade.StatusAccepted, steam.StateAccepted)
	d.Close()
	assert.Empty(t, cs.received())
}

func TestDispatcher_RejectedAckIsRetried(t *testing.T) {
	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 1 {
			w.Write([]byte(`{"ok":false}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, 5)
	defer d.Close()

	d.Notify("offer-3", trade.StatusExpired, steam.StateExpired)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}
