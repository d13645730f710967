package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Code is a stable machine-readable string; Status mirrors the HTTP status.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// PostList is the response body of a post listing.
type PostList struct {
	Posts      []Post     `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the page returned by a post listing.
type Pagination struct {
	Total       int64 `json:"total"`
	Pages       int64 `json:"pages"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
}

// NamespaceInfo is returned by the namespace discovery endpoint.
type NamespaceInfo struct {
	Namespace   string `json:"namespace"`
	Description string `json:"description"`
	Version     string `json:"version"`
}
