package dto

// PredictRequest is the body of POST /api/v1/predict and POST /api/v1/jobs
type PredictRequest struct {
	Features map[string]any `json:"features" binding:"required"`
}

type PredictResponse struct {
	Success    bool    `json:"success"`
	JobID      string  `json:"job_id"`
	Prediction string  `json:"prediction,omitempty"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

type JobResultRequest struct {
	Wait string `form:"wait"`
}

type JobResultResponse struct {
	JobID      string  `json:"job_id"`
	Status     string  `json:"status"`
	Prediction string  `json:"prediction,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Error   string `json:"error"`
}
