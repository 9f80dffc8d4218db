package daichi

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/gohome-daichi/internal/logging"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()
	recorder := &sleepRecorder{}
	base := []Option{
		WithLogger(logging.Discard()),
		WithHTTPClient(func() *http.Client { return &http.Client{Timeout: 5 * time.Second} }),
		withSleep(recorder.sleep),
		WithCommandIDs(CommandIDFunc(func() int64 { return 12345678 })),
	}
	client, err := NewClient(Config{
		BaseURL:  baseURL,
		Username: "user@example.com",
		Password: "secret",
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, recorder
}

// serveAuth answers the two login endpoints, issuing token. It reports
// whether the request was handled.
func serveAuth(w http.ResponseWriter, r *http.Request, token string) bool {
	switch r.URL.Path {
	case "/user/credentials":
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"done":true}`)
		return true
	case "/token":
		writeJSON(w, http.StatusOK, `{"data":{"access_token":"`+token+`"}}`)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
