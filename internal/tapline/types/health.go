package types

// HealthResponse is served to the paired station's failover monitor and to
// anything else that wants liveness.
type HealthResponse struct {
	Status      string `json:"status"`
	DeviceID    string `json:"device_id"`
	Stage       string `json:"stage"`
	TotalEvents int64  `json:"total_events"`
	Timestamp   string `json:"timestamp"`
}

// DashboardStats is the per-session summary assembled for the dashboard and
// threaded through the OnDashboardStats extension hooks.
type DashboardStats struct {
	SessionID         string  `json:"session_id"`
	TotalEvents       int     `json:"total_events"`
	Journeys          int     `json:"journeys"`
	CompletedJourneys int     `json:"completed_journeys"`
	AvgWaitSeconds    float64 `json:"avg_wait_seconds"`
	MedianWaitSeconds float64 `json:"median_wait_seconds"`
	AvgServiceSeconds float64 `json:"avg_service_seconds"`
	MedServiceSeconds float64 `json:"median_service_seconds"`

	// Extra holds plugin-contributed values keyed by plugin name.
	Extra map[string]any `json:"extra,omitempty"`
}
