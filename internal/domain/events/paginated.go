package events

// PaginatedResult represents a paginated event listing with metadata
type PaginatedResult struct {
	Data     []*Event `json:"events"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int64    `json:"total"`
	HasMore  bool     `json:"has_more"`
}
