package apperrors

import (
	"errors"
	"net/http"
)

// classes orders the sentinels an API error is matched against. The first
// match wins, so a wrapped cause never outranks the sentinel.
var classes = []struct {
	sentinel error
	status   int
	code     string
}{
	{ErrValidation, http.StatusBadRequest, "validation"},
	{ErrBadInput, http.StatusBadRequest, "bad_input"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

// HTTPStatus maps err to a response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	status, _ := classify(err)
	return status
}

// Code returns a stable machine-readable name for err's class.
func Code(err error) string {
	_, code := classify(err)
	return code
}

func classify(err error) (int, string) {
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
