package server

// SubmitScanRequest is the payload for starting a scan.
type SubmitScanRequest struct {
	URL         string `json:"url" example:"https://example.com"`
	RequesterID string `json:"requester_id" example:"user-42"`
	Priority    int    `json:"priority" example:"0"`
	TimeoutMs   int64  `json:"timeout_ms" example:"30000"`
	SkipCache   bool   `json:"skip_cache" example:"false"`
}

// QueueStatusResponse reports queue depth and lifetime totals.
type QueueStatusResponse struct {
	Waiting   int `json:"waiting" example:"2"`
	Active    int `json:"active" example:"3"`
	Completed int `json:"completed" example:"128"`
	Failed    int `json:"failed" example:"4"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
