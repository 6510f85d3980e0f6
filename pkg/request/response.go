package request

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// SentRequest is what the client put on the wire.
type SentRequest struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"-"`
}

// Response represents an HTTP response
type Response struct {
	StatusCode int           `json:"status"`
	Headers    http.Header   `json:"headers"`
	Body       []byte        `json:"-"`
	Data       any           `json:"data,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	Request    SentRequest   `json:"request"`
}

func newResponse(resp *http.Response, body []byte, duration time.Duration) *Response {
	r := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   duration,
	}

	if len(body) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			r.Data = data
		}
	}
	return r
}

// Content returns the body as text.
func (r *Response) Content() string {
	return string(r.Body)
}

// SentBody decodes the request body as JSON, falling back to text.
func (r *Response) SentBody() any {
	if len(r.Request.Body) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(r.Request.Body, &data); err == nil {
		return data
	}
	return string(r.Request.Body)
}

// DataMap returns the JSON object body, or nil when the body is not an object.
func (r *Response) DataMap() map[string]any {
	m, _ := r.Data.(map[string]any)
	return m
}
