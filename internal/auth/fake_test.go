package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"
)

// recordedRequest is what the fake transport saw for one call
type recordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

func (r recordedRequest) JSON(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		t.Fatalf("request body is not a JSON object: %v (%s)", err, r.Body)
	}
	return out
}

func (r recordedRequest) Form(t *testing.T) url.Values {
	t.Helper()
	v, err := url.ParseQuery(string(r.Body))
	if err != nil {
		t.Fatalf("request body is not a form: %v", err)
	}
	return v
}

type scriptedResponse struct {
	status  int
	body    string
	headers map[string]string
}

// scriptedTransport answers requests keyed by "METHOD scheme://host/path"
// and records every request it receives.
type scriptedTransport struct {
	mu       sync.Mutex
	routes   map[string]scriptedResponse
	requests []recordedRequest
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{routes: map[string]scriptedResponse{}}
}

func (s *scriptedTransport) on(method, rawURL string, status int, body string, headers ...map[string]string) *scriptedTransport {
	resp := scriptedResponse{status: status, body: body}
	if len(headers) > 0 {
		resp.headers = headers[0]
	}
	s.routes[method+" "+rawURL] = resp
	return s
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header.Clone(),
		Body:   body,
	})
	key := req.Method + " " + req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	scripted, ok := s.routes[key]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unexpected request %s", key)
	}

	header := http.Header{}
	for k, v := range scripted.headers {
		header.Set(k, v)
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	return &http.Response{
		StatusCode: scripted.status,
		Status:     fmt.Sprintf("%d %s", scripted.status, http.StatusText(scripted.status)),
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader([]byte(scripted.body))),
		Request:    req,
	}, nil
}

func (s *scriptedTransport) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *scriptedTransport) paths() []string {
	var out []string
	for _, r := range s.recorded() {
		out = append(out, r.Method+" "+r.URL.Host+r.URL.Path)
	}
	return out
}

// fixedClock pins TOTP generation to a known instant
func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(59, 0).UTC() }
}

// rfcSecret is the RFC 6238 SHA1 test seed; at t=59 the 6 digit code is 287082
const (
	rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	rfcCode   = "287082"
)
