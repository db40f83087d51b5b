package response

// Response is the envelope every endpoint answers with.
type Response struct {
	Status     string      `json:"status"` // "success" or "error"
	StatusCode int         `json:"status_code"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Paged is the envelope for list endpoints. Total counts all rows
// matching the filter, not just the returned page.
type Paged struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total"`
	Page   int         `json:"page"`
	Limit  int         `json:"limit"`
}

// Success wraps data in a success envelope.
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error wraps an error message in an error envelope.
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// Page wraps one page of a listing.
func Page(data interface{}, total int64, page, limit int) Paged {
	return Paged{
		Status: "success",
		Data:   data,
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
}
