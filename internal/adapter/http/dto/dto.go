package dto

// ListInboxQuery is the query string of GET /api/v1/ops/inbox.
type ListInboxQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=pending processing completed failed"`
	Reference string `form:"reference" binding:"omitempty,max=100,safe_id"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// StuckQuery is the query string of GET /api/v1/ops/inbox/stuck.
type StuckQuery struct {
	OlderThan string `form:"older_than" binding:"omitempty,duration"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// RetryFailedRequest is the optional body of POST /api/v1/ops/inbox/retry-failed.
type RetryFailedRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=500"`
}

// ReferenceURI binds the :reference path parameter.
type ReferenceURI struct {
	Reference string `uri:"reference" binding:"required,max=100,safe_id"`
}

// EntryURI binds the :id path parameter.
type EntryURI struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}
