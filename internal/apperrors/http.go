package apperrors

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MinErrorStatusCode is the minimum HTTP status code considered an error.
const MinErrorStatusCode = 400

const maxErrorBodyBytes = 64 * 1024

// HTTPError represents an error response from an upstream HTTP API.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// ParseHTTPError turns a non-2xx/3xx response into an HTTPError. It returns nil for success codes.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < MinErrorStatusCode {
		return nil
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    fmt.Sprintf("failed to read error response body: %v", err),
		}
	}

	body := string(bodyBytes)

	var jsonErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(bodyBytes, &jsonErr) == nil && (jsonErr.Error != "" || jsonErr.Message != "") {
		msg := jsonErr.Error
		if msg == "" {
			msg = jsonErr.Message
		}
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body, Message: msg}
	}

	return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body, Message: body}
}
