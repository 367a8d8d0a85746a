package models

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string `json:"status"` // ok, starting
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
	Address     string `json:"address"`
	Initialized bool   `json:"initialized"`
	Members     int    `json:"members"`
}

// ItemResponse is returned by the local item API
type ItemResponse struct {
	Store        string `json:"store"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	Checksum     string `json:"checksum"`
	LastModified int64  `json:"last_modified"`
	Owner        string `json:"owner"`
}

// WriteResponse represents write response
type WriteResponse struct {
	Accepted  bool   `json:"accepted"`
	Store     string `json:"store"`
	Key       string `json:"key"`
	Checksum  string `json:"checksum,omitempty"`
	RequestID string `json:"request_id"`
}

// MembersResponse lists the current membership view
type MembersResponse struct {
	Self    string   `json:"self"`
	Members []Member `json:"members"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
