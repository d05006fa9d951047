package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// Key extracts the caller-supplied idempotency key, empty when absent.
func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}
