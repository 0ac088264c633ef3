package dto

type TaskCompleteRequest struct {
	JobID  string `json:"job_id" binding:"required"`
	Result string `json:"result" binding:"required"`
}

type TaskFailedRequest struct {
	JobID string `json:"job_id" binding:"required"`
	Error string `json:"error" binding:"required"`
}
