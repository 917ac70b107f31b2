// Package response renders the API's two wire formats: a success/error
// envelope for regular clients and RFC 7807 problem documents for clients
// that ask for application/problem+json.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const problemMediaType = "application/problem+json"

// problemTypePrefix namespaces problem type URNs for this API.
const problemTypePrefix = "urn:problem:feature-flags:"

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, "application/json", envelope{Success: true, Data: data, Meta: metaFor(r)})
}

// Error writes the error in whichever format the client negotiated.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if acceptsProblem(r.Header.Get("Accept")) {
		write(w, status, problemMediaType, problem{
			Type:      problemTypePrefix + kebabCode(code),
			Title:     titleFor(code, status),
			Status:    status,
			Detail:    message,
			Instance:  r.URL.Path,
			Code:      code,
			RequestID: metaFor(r).RequestID,
		})
		return
	}
	write(w, status, "application/json", envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message, Details: details},
		Meta:    metaFor(r),
	})
}

func write(w http.ResponseWriter, status int, contentType string, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func metaFor(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// acceptsProblem reports whether any Accept entry names problem+json with a
// non-zero quality. Problem documents win whenever they are acceptable at
// all, regardless of relative q values.
func acceptsProblem(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mediaType, params, err := mime.ParseMediaType(part)
		if err != nil || !strings.EqualFold(mediaType, problemMediaType) {
			continue
		}
		if raw, ok := params["q"]; ok {
			if q, err := strconv.ParseFloat(raw, 64); err == nil && q <= 0 {
				continue
			}
		}
		return true
	}
	return false
}

func kebabCode(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

var problemTitles = map[string]string{
	"BAD_REQUEST":          "Bad Request",
	"UNAUTHORIZED":         "Unauthorized",
	"FORBIDDEN":            "Forbidden",
	"NOT_FOUND":            "Not Found",
	"CONFLICT":             "Conflict",
	"INTERNAL":             "Internal Server Error",
	"RATE_LIMITED":         "Too Many Requests",
	"NOT_READY":            "Service Unavailable",
	"IDEMPOTENCY_CONFLICT": "Idempotency Conflict",
}

func titleFor(code string, status int) string {
	if title, ok := problemTitles[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return title
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Error"
}
