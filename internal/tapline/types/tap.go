package types

// TapRequest is a tap delivered over HTTP by a networked reader, or by the
// dashboard's test-tap tool. Hardware readers send only the card uid; the
// station resolves the token and picks the stage from its configured scope.
// A pre-resolved request may name the token and stage directly.
type TapRequest struct {
	UID     string `json:"uid,omitempty"`
	TokenID string `json:"token_id,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// Feedback is the signal kind emitted to audio/visual hardware after a tap.
type Feedback string

const (
	FeedbackSuccess   Feedback = "success"
	FeedbackDuplicate Feedback = "duplicate"
	FeedbackWarning   Feedback = "warning"
	FeedbackError     Feedback = "error"
)

// TapOutcome is the result of one tap submission.
type TapOutcome struct {
	Accepted   bool     `json:"accepted"`
	EventID    int64    `json:"event_id,omitempty"`
	TokenID    string   `json:"token_id,omitempty"`
	Stage      string   `json:"stage,omitempty"`
	Duplicate  bool     `json:"duplicate,omitempty"`
	OutOfOrder bool     `json:"out_of_order,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Feedback   Feedback `json:"feedback"`
	ServerTime string   `json:"server_time"`
}

// TapEvent is the JSON rendering of a stored event, used by the admin
// surface (removed-event echo, future listings).
type TapEvent struct {
	ID        int64  `json:"id"`
	TokenID   string `json:"token_id"`
	UID       string `json:"uid"`
	Stage     string `json:"stage"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`

	OutOfOrder bool `json:"out_of_order,omitempty"`
	Manual     bool `json:"manual,omitempty"`
}
