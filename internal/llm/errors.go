package llm

import (
	"fmt"
	"net/http"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
)

// APIError is a non-2xx answer from the inference endpoint. Body is kept verbatim
// so it can be shown to the user.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// RateLimited reports a 429 answer.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Is matches common.ErrAPI always and common.ErrRateLimited on 429.
func (e *APIError) Is(target error) bool {
	switch target {
	case common.ErrAPI:
		return true
	case common.ErrRateLimited:
		return e.RateLimited()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
