package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
)

// errorBody is the failure envelope: {"success": false, "error": {"message": ...}}.
type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// respond writes a success envelope with a message and any extra fields.
func respond(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"success": true,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeBadRequest writes a 400 failure envelope.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error: errorDetail{Message: message, Code: string(regErrors.CodeValidation)},
	})
}

// writeError maps a structured error onto an HTTP status and writes the
// failure envelope. Unclassified errors become 500s.
func writeError(w http.ResponseWriter, err error) {
	detail := errorDetail{Message: err.Error()}

	var re *regErrors.RegistryError
	if errors.As(err, &re) {
		detail.Code = string(re.Code)
		detail.Details = re.Metadata
	}

	writeJSON(w, statusFor(err), errorBody{Error: detail})
}

func statusFor(err error) int {
	switch regErrors.CodeOf(err) {
	case regErrors.CodeValidation:
		return http.StatusBadRequest
	case regErrors.CodeNotFound, regErrors.CodeVersionNotFound,
		regErrors.CodeSnapshotNotFound, regErrors.CodeNoComponentsFound:
		return http.StatusNotFound
	case regErrors.CodeDuplicateID, regErrors.CodeHasDependents,
		regErrors.CodeIllegalTransition, regErrors.CodeDependencyNotSatisfied,
		regErrors.CodeSyncConflict:
		return http.StatusConflict
	case regErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	if regErrors.IsRetryable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
