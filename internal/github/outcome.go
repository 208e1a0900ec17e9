package github

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// Outcome classifies one API attempt.
type Outcome int

const (
	// OutcomeOK is a well-formed, non-error payload.
	OutcomeOK Outcome = iota
	// OutcomeRateLimited is an error payload signalling throttling.
	OutcomeRateLimited
	// OutcomeMalformed is an unparseable or error-shaped payload.
	OutcomeMalformed
	// OutcomeTransportError means no response was received.
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one attempt.
type Result struct {
	Outcome    Outcome
	Payload    json.RawMessage
	StatusCode int
	Message    string
	Err        error
}

// errorShape matches the fields GitHub uses to report failures, even on
// responses with a successful status code.
type errorShape struct {
	Message          *string `json:"message"`
	DocumentationURL *string `json:"documentation_url"`
}

// Classify decides the outcome of a response once, at the fetch boundary.
func Classify(resp Response, err error) Result {
	if err != nil {
		return Result{Outcome: OutcomeTransportError, Err: err}
	}
	body := bytes.TrimSpace(resp.Body)
	res := Result{StatusCode: resp.StatusCode}
	if len(body) == 0 || !json.Valid(body) {
		res.Outcome = OutcomeMalformed
		return res
	}
	if body[0] == '{' {
		var shape errorShape
		if err := json.Unmarshal(body, &shape); err == nil && (shape.Message != nil || shape.DocumentationURL != nil) {
			if shape.Message != nil {
				res.Message = *shape.Message
			}
			if isRateLimited(resp.StatusCode, res.Message) {
				res.Outcome = OutcomeRateLimited
			} else {
				res.Outcome = OutcomeMalformed
			}
			return res
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		res.Outcome = OutcomeMalformed
		return res
	}
	res.Outcome = OutcomeOK
	res.Payload = json.RawMessage(body)
	return res
}

func isRateLimited(status int, message string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(message)
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "abuse") {
		return true
	}
	return status == http.StatusForbidden && msg == ""
}
