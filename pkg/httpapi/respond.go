package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/loopdeck/loopdeck/pkg/jobs"
)

// errorBody is the stable error envelope. Code is for machines; Message is
// for display and never parsed by callers.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody   `json:"error"`
	Job   interface{} `json:"job,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a typed jobs error to its HTTP status and envelope.
// job, when non-nil, is attached so a Conflict response carries the
// occupying job's snapshot.
func writeDomainError(w http.ResponseWriter, err error, job interface{}) {
	code := jobs.CodeOf(err)
	if code == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: "internal", Message: err.Error()},
		})
		return
	}

	resp := errorResponse{Error: errorBody{Code: string(code), Message: err.Error()}}
	if code == jobs.CodeConflict {
		resp.Job = job
	}
	writeJSON(w, statusFor(code), resp)
}

func statusFor(code jobs.Code) int {
	switch code {
	case jobs.CodeConflict, jobs.CodeNotRunning:
		return http.StatusConflict
	case jobs.CodeAdmissionDenied:
		return http.StatusForbidden
	case jobs.CodePrecondition:
		return http.StatusPreconditionFailed
	case jobs.CodeValidation:
		return http.StatusBadRequest
	case jobs.CodeNotFound:
		return http.StatusNotFound
	case jobs.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
