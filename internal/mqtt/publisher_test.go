package mqtt

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return !t.timeout }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	connected    bool
	token        fakeToken
	published    []message
	disconnected bool
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	f.published = append(f.published, message{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return f.token
}

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishState(t *testing.T) {
	fake := &fakeClient{connected: true}
	p := newPublisher(fake, "gohome/daichi/", 1, testLogger())

	if err := p.PublishState("101", []byte(`{"id":101}`)); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	if len(fake.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.published))
	}
	got := fake.published[0]
	if got.topic != "gohome/daichi/101/state" || !got.retained || got.payload != `{"id":101}` {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestPublishErrors(t *testing.T) {
	p := newPublisher(&fakeClient{connected: false}, "x", 0, testLogger())
	if err := p.Publish("x/y", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	p = newPublisher(&fakeClient{connected: true}, "x", 0, testLogger())
	if err := p.Publish("x/#", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}

	p = newPublisher(&fakeClient{connected: true, token: fakeToken{err: errors.New("boom")}}, "x", 0, testLogger())
	if err := p.Publish("x/y", []byte("1")); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}

	p = newPublisher(&fakeClient{connected: true, token: fakeToken{timeout: true}}, "x", 0, testLogger())
	if err := p.Publish("x/y", []byte("1")); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected timeout ErrPublishFailed, got %v", err)
	}
}

func TestCloseMarksOffline(t *testing.T) {
	fake := &fakeClient{connected: true}
	p := newPublisher(fake, "gohome/daichi", 1, testLogger())

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.disconnected {
		t.Fatalf("expected disconnect")
	}
	if len(fake.published) != 1 || fake.published[0].topic != "gohome/daichi/status" || fake.published[0].payload != "offline" {
		t.Fatalf("unexpected messages: %+v", fake.published)
	}
}
