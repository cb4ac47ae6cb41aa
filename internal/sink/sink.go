// Package sink publishes acknowledged fixes to observers outside the
// emulator: WebSocket clients, a Kafka topic and serial NMEA devices.
package sink

import (
	"encoding/json"

	"github.com/signalsfoundry/gpsfix/model"
)

// Event is the JSON document published for every acknowledged fix.
type Event struct {
	SessionID string `json:"session_id,omitempty"`
	model.Fix
}

func encodeEvent(sessionID string, fix model.Fix) ([]byte, error) {
	return json.Marshal(Event{SessionID: sessionID, Fix: fix})
}
