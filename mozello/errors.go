package mozello

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when no API key is set; outbound calls are
// disabled until configuration provides one.
var ErrNotConfigured = errors.New("mozello api key is not configured")

// APIError is a non-2xx response from the Mozello API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mozello api error %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying: rate-limit
// responses and server-side errors are, validation failures are not.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsPermanent reports whether err is an API error that retrying cannot fix.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}
