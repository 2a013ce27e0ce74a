package api

// EventRequest is the body of POST /api/event. Timestamp stays a string
// through decoding so parse failures surface as validation errors rather
// than JSON errors.
type EventRequest struct {
	SiteID    string `json:"site_id"`
	EventType string `json:"event_type"`
	Path      string `json:"path"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}
