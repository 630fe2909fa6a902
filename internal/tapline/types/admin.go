package types

// ManualEventRequest inserts a backdated or skipped tap on behalf of an
// operator. All fields are required; Timestamp is RFC 3339.
type ManualEventRequest struct {
	TokenID    string `json:"token_id"`
	Stage      string `json:"stage"`
	Timestamp  string `json:"timestamp"`
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

type ManualEventResponse struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	EventID  int64    `json:"event_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// RemoveEventRequest moves a live event into the audit log.
type RemoveEventRequest struct {
	EventID    int64  `json:"event_id"`
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

type RemoveEventResponse struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	RemovedEvent *TapEvent `json:"removed_event,omitempty"`
}

// Finding is one anomaly hit for one card.
type Finding struct {
	TokenID    string `json:"token_id"`
	Severity   string `json:"severity"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
}

// AnomalySummary counts findings by severity.
type AnomalySummary struct {
	Total        int `json:"total"`
	HighSeverity int `json:"high_severity"`
	MedSeverity  int `json:"medium_severity"`
	LowSeverity  int `json:"low_severity"`
}

type AnomaliesResponse struct {
	SessionID string               `json:"session_id"`
	Anomalies map[string][]Finding `json:"anomalies"`
	Summary   AnomalySummary       `json:"summary"`
}
