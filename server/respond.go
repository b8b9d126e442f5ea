package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"panplay/internal"
)

// errorResponse is the body of every failed request. The url/parse fields
// keep player clients that only look for "url" from misreading a failure.
type errorResponse struct {
	Error      bool   `json:"error"`
	Message    string `json:"message"`
	URL        string `json:"url"`
	Parse      int    `json:"parse"`
	Type       string `json:"type,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// writeJSON encodes v as JSON with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		internal.LogError("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a plain error body
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: true, Message: message})
}

// writeError renders err. Structured failures are the caller's problem and
// get 400; anything else is reported as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorResponse{Error: true, RequestID: RequestIDFrom(r.Context())}
	status := http.StatusBadRequest

	var verr *internal.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Message = verr.Message
		body.Type = "InvalidInput"
		body.Stage = string(internal.StageInput)
		body.Suggestion = verr.Suggestion
	default:
		perr, ok := internal.AsPanError(err)
		if !ok {
			internal.LogError("unhandled error serving %s: %v", r.URL.Path, err)
			status = http.StatusInternalServerError
			body.Message = "internal error"
			break
		}
		body.Message = perr.Message
		body.Type = perr.Type.String()
		body.Stage = string(perr.Stage)
		body.Suggestion = perr.Suggestion
	}

	writeJSON(w, status, body)
}
