package config

import (
	"os"
	"strings"
	"time"
)

// Mozello integration settings. The API key doubles as the webhook HMAC
// secret, so outbound calls and inbound verification are both disabled
// until MOZELLO_API_KEY is set.

const DefaultMozelloAPIBase = "https://api.mozello.com/v1"

func MozelloAPIKey() string {
	return strings.TrimSpace(os.Getenv("MOZELLO_API_KEY"))
}

func MozelloAPIBase() string {
	base := strings.TrimSpace(os.Getenv("MOZELLO_API_BASE"))
	if base == "" {
		base = DefaultMozelloAPIBase
	}
	return strings.TrimRight(base, "/")
}

// MozelloMinCallInterval is the minimum spacing between outbound API calls.
// Default 1/s, strictly below the platform's documented burst ceiling.
func MozelloMinCallInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("MOZELLO_MIN_CALL_INTERVAL"))
	if v == "" {
		return time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// EntitlementRequirePaid controls whether purchase entitlement requires
// payment_status=paid. Defaults to true; set ENTITLEMENT_REQUIRE_PAID=false
// to grant on any recorded order.
func EntitlementRequirePaid() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENTITLEMENT_REQUIRE_PAID")))
	if v == "" {
		return true
	}
	return v != "false" && v != "0" && v != "no"
}

// AdminAPIToken guards the admin command surface. Empty disables it.
func AdminAPIToken() string {
	return strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN"))
}

// CalibreLibraryPath points at the Calibre library root holding metadata.db.
func CalibreLibraryPath() string {
	v := strings.TrimSpace(os.Getenv("CALIBRE_LIBRARY_PATH"))
	if v == "" {
		return "/app/library"
	}
	return v
}

// CalibreAppDBPath points at the catalog application database (user accounts).
func CalibreAppDBPath() string {
	v := strings.TrimSpace(os.Getenv("CALIBRE_APP_DB_PATH"))
	if v == "" {
		return "/app/config/app.db"
	}
	return v
}

// PublicBaseURL is this deployment's externally reachable base URL, used when
// registering the webhook endpoint with the platform. Empty skips registration.
func PublicBaseURL() string {
	return strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
}
