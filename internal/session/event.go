package session

import (
	"encoding/json"
)

// Kind classifies an Event for logging and metrics. It is not part of the wire payload.
type Kind string

const (
	// KindLeader announces the current main window: {"main": "<clientID>"}
	KindLeader Kind = "leader"

	// KindLeaderLost tells a stale client the main window is gone: {"main": null}
	KindLeaderLost Kind = "leader_lost"

	// KindPosition carries a scroll position update from the main window
	KindPosition Kind = "position"

	// KindTransfer carries an explicit leadership transfer payload
	KindTransfer Kind = "transfer"
)

var leaderLostData = json.RawMessage(`{"main":null}`)

// Event is a single JSON payload pushed to a client. Data is a compact JSON object
// and is written to the transport unchanged.
type Event struct {
	Kind Kind
	Data json.RawMessage
}

// LeaderEvent builds the {"main": clientID} announcement
func LeaderEvent(clientID string) Event {
	// Marshalling a single string field cannot fail.
	data, _ := json.Marshal(struct {
		Main string `json:"main"`
	}{Main: clientID})
	return Event{Kind: KindLeader, Data: data}
}

// LeaderLostEvent builds the {"main": null} notification
func LeaderLostEvent() Event {
	return Event{Kind: KindLeaderLost, Data: leaderLostData}
}

// PayloadEvent wraps a client supplied payload for verbatim fan-out
func PayloadEvent(kind Kind, payload json.RawMessage) Event {
	return Event{Kind: kind, Data: payload}
}

// String returns the JSON payload
func (e Event) String() string {
	return string(e.Data)
}
