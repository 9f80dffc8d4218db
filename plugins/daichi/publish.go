package daichi

import (
	"encoding/json"
	"log/slog"
)

// StatePublisher receives one message per device and snapshot.
type StatePublisher interface {
	PublishState(deviceID string, payload []byte) error
}

// PublishSnapshots returns a Listener that forwards every merged record.
// Publish failures are logged and do not affect the poller.
func PublishSnapshots(publisher StatePublisher, logger *slog.Logger) Listener {
	return func(snapshot Snapshot) {
		for _, id := range snapshot.Order {
			payload, err := json.Marshal(snapshot.Devices[id])
			if err != nil {
				logger.Warn("encode daichi device state", "device_id", id, "error", err)
				continue
			}
			if err := publisher.PublishState(id, payload); err != nil {
				logger.Warn("publish daichi device state", "device_id", id, "error", err)
			}
		}
	}
}
