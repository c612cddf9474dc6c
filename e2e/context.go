package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	// RunID keeps identifiers unique per scenario so counters from earlier
	// runs against the same server never leak in.
	RunID         string
	ReviewerToken string
	DetectionID   string
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &TestContext{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		RunID: uuid.NewString()[:8],
	}
}

// Unique scopes a feature-file identifier value to this scenario.
func (tc *TestContext) Unique(value string) string {
	return value + "-" + tc.RunID
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body any, headers map[string]string) error {
	return tc.do(http.MethodPost, path, body, headers)
}

// PATCH makes a PATCH request with optional headers
func (tc *TestContext) PATCH(path string, body any, headers map[string]string) error {
	return tc.do(http.MethodPatch, path, body, headers)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a top-level field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains checks if the response contains a field
func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

// GetLastResponseStatus returns the status code of the last response
func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

// GetLastResponseHeader returns a header of the last response
func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.LastResponse == nil {
		return ""
	}
	return tc.LastResponse.Header.Get(name)
}

// GetLastResponseBody returns the body of the last response
func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

// GetReviewerToken returns the bearer token minted for this scenario
func (tc *TestContext) GetReviewerToken() string {
	return tc.ReviewerToken
}

// SetReviewerToken stores the bearer token used by review steps
func (tc *TestContext) SetReviewerToken(token string) {
	tc.ReviewerToken = token
}

// GetDetectionID returns the detection captured by the last scoring step
func (tc *TestContext) GetDetectionID() string {
	return tc.DetectionID
}

// SetDetectionID stores a detection id for later review steps
func (tc *TestContext) SetDetectionID(id string) {
	tc.DetectionID = id
}

// AuthHeaders returns the Authorization header for the current reviewer token
func (tc *TestContext) AuthHeaders() map[string]string {
	if tc.ReviewerToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.ReviewerToken}
}

// ParseIdentifiers turns "email:alice@example.com, ip:203.0.113.9" into
// request identifiers, suffixing every value with the scenario run id.
func (tc *TestContext) ParseIdentifiers(raw string) ([]map[string]string, error) {
	var out []map[string]string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("identifier %q must be kind:value", part)
		}
		out = append(out, map[string]string{"kind": kind, "value": tc.Unique(value)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no identifiers in %q", raw)
	}
	return out, nil
}
