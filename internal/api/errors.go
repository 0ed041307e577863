// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/diskops"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/jobs"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/recorder"
)

var (
	errNotConfigured = errors.New("component not configured")
	errBadMedia      = errors.New("unknown media")
	errBadCamera     = errors.New("invalid camera number")
	errBadKind       = errors.New("unknown cleanup kind")
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and writes it
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, diskops.ErrBusy), errors.Is(err, jobs.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, diskops.ErrProcess), errors.Is(err, jobs.ErrProcess),
		errors.Is(err, jobs.ErrClosed), errors.Is(err, recorder.ErrStopped),
		errors.Is(err, errNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrUnknownCamera), errors.Is(err, diskops.ErrNotFormattable),
		errors.Is(err, diskops.ErrUnknownMedia), errors.Is(err, errBadMedia):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
