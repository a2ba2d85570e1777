package dto

// ErrorResponse represents an error payload with a machine-readable code
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a generic success message
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse represents a paginated list
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// NewListResponse creates a ListResponse
func NewListResponse(items interface{}, total, limit, offset int) ListResponse {
	return ListResponse{Items: items, Total: total, Limit: limit, Offset: offset}
}
