package daichi

import (
	"context"
	"errors"
	"testing"

	"github.com/joshp123/gohome-daichi/internal/logging"
)

type recordingPublisher struct {
	messages map[string]string
	fail     string
}

func (p *recordingPublisher) PublishState(deviceID string, payload []byte) error {
	if deviceID == p.fail {
		return errors.New("broker unavailable")
	}
	if p.messages == nil {
		p.messages = make(map[string]string)
	}
	p.messages[deviceID] = string(payload)
	return nil
}

func TestPublishSnapshots(t *testing.T) {
	source := &fakeSource{
		authenticated: true,
		records: []Record{
			mustRecord(t, `{"id":1,"title":"Living"}`),
			mustRecord(t, `{"id":2,"title":"Bedroom"}`),
			mustRecord(t, `{"id":3,"title":"Office"}`),
		},
	}
	publisher := &recordingPublisher{fail: "2"}
	poller := newTestPoller(source, 1)
	poller.OnUpdate(PublishSnapshots(publisher, logging.Discard()))

	if _, err := poller.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(publisher.messages) != 2 {
		t.Fatalf("expected 2 published devices, got %v", publisher.messages)
	}
	if publisher.messages["3"] != `{"id":3,"title":"Office"}` {
		t.Fatalf("unexpected payload %s", publisher.messages["3"])
	}
}
