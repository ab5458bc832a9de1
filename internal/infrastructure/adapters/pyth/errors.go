package pyth

import "fmt"

// ErrorResponse represents a Hermes API error response
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("Hermes API error [%d]: %s", e.StatusCode, e.Message)
}

func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == 404
}

func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}

// ErrNoFeeds indicates the response carried no parsed price feeds
var ErrNoFeeds = fmt.Errorf("no parsed price feeds in response")
