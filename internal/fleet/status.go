package fleet

import "net/http"

// StatusCode is the acknowledgement returned by channel posts and version checks.
// The values line up with HTTP so the API layer can pass them straight through.
type StatusCode int

const (
	// StatusOK acknowledges an accepted post or a matching version.
	StatusOK StatusCode = http.StatusOK

	// StatusBadRequest reports an unknown channel or a version mismatch.
	StatusBadRequest StatusCode = http.StatusBadRequest
)

// OK reports whether the status is a success acknowledgement.
func (s StatusCode) OK() bool {
	return s == StatusOK
}
