package request

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"warden/pkg/requestcontext"
)

// =============================================================================
// Request Middleware Test Suite
// =============================================================================
// Justification: request ids and client addresses end up in logs, audit
// events and lockout identifiers. A forged X-Request-ID must not reach the
// logs, and a forwarded address must only be trusted behind a proxy.

type RequestMiddlewareSuite struct {
	suite.Suite
}

func TestRequestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RequestMiddlewareSuite))
}

func (s *RequestMiddlewareSuite) serveRequestID(header string) (ctxID string, respID string) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/events/score", nil)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return ctxID, w.Header().Get("X-Request-ID")
}

func (s *RequestMiddlewareSuite) TestRequestID() {
	s.Run("generates a uuid when absent", func() {
		ctxID, respID := s.serveRequestID("")
		s.Equal(ctxID, respID)
		_, err := uuid.Parse(ctxID)
		s.NoError(err)
	})

	s.Run("reuses a well-formed client id", func() {
		ctxID, respID := s.serveRequestID("edge-7f3a.retry_2")
		s.Equal("edge-7f3a.retry_2", ctxID)
		s.Equal("edge-7f3a.retry_2", respID)
	})

	rejected := map[string]string{
		"log injection": "abc\nlevel=ERROR msg=forged",
		"spaces":        "abc def",
		"quotes":        `abc"def`,
		"too long":      strings.Repeat("a", MaxRequestIDLength+1),
	}
	for name, header := range rejected {
		s.Run("replaces "+name, func() {
			ctxID, _ := s.serveRequestID(header)
			s.NotEqual(header, ctxID)
			_, err := uuid.Parse(ctxID)
			s.NoError(err)
		})
	}

	s.Run("max length is still accepted", func() {
		id := strings.Repeat("a", MaxRequestIDLength)
		ctxID, _ := s.serveRequestID(id)
		s.Equal(id, ctxID)
	})

	s.Run("context without middleware is empty", func() {
		s.Empty(GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil)))
	})
}

func (s *RequestMiddlewareSuite) clientIP(trustProxy bool, req *http.Request) string {
	var got string
	handler := ClientIP(trustProxy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.ClientIP(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func (s *RequestMiddlewareSuite) TestClientIP() {
	s.Run("strips the port", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:54321"
		s.Equal("203.0.113.9", s.clientIP(false, req))
	})

	s.Run("keeps an address without a port", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9"
		s.Equal("203.0.113.9", s.clientIP(false, req))
	})

	s.Run("forwarded header only behind a trusted proxy", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")
		s.Equal("10.0.0.1", s.clientIP(false, req))
		s.Equal("198.51.100.7", s.clientIP(true, req))
	})
}

func (s *RequestMiddlewareSuite) TestRecovery() {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	s.Run("panic becomes internal_error", func() {
		handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("rule table corrupted")
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/events/score", nil))

		s.Equal(http.StatusInternalServerError, w.Code)
		var body map[string]string
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
		s.Equal("internal_error", body["error"])
		s.NotContains(w.Body.String(), "rule table corrupted")
		s.Contains(logs.String(), "panic recovered")
	})

	s.Run("abort handler propagates", func() {
		handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		s.PanicsWithValue(http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func (s *RequestMiddlewareSuite) TestLogger() {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	status := http.StatusCreated
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	s.Run("logs method path and status", func() {
		logs.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/lockout/check", nil))

		var entry map[string]any
		s.Require().NoError(json.Unmarshal(logs.Bytes(), &entry))
		s.Equal("http request", entry["msg"])
		s.Equal("/v1/lockout/check", entry["path"])
		s.EqualValues(http.StatusCreated, entry["status"])
	})

	s.Run("healthy probes stay quiet", func() {
		logs.Reset()
		status = http.StatusOK
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
		s.Empty(logs.String())
	})

	s.Run("failing probes are logged", func() {
		logs.Reset()
		status = http.StatusServiceUnavailable
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		s.Contains(logs.String(), "/health/ready")
	})
}

func (s *RequestMiddlewareSuite) TestContentTypeJSON() {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	cases := []struct {
		name   string
		method string
		ct     string
		want   int
	}{
		{"json", http.MethodPost, "application/json", http.StatusNoContent},
		{"json with charset", http.MethodPatch, "application/json; charset=utf-8", http.StatusNoContent},
		{"missing header", http.MethodPost, "", http.StatusNoContent},
		{"form body", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"unparseable", http.MethodPut, ";;", http.StatusUnsupportedMediaType},
		{"GET is not checked", http.MethodGet, "text/plain", http.StatusNoContent},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := httptest.NewRequest(tc.method, "/v1/lockout/outcome", io.NopCloser(strings.NewReader("{}")))
			if tc.ct != "" {
				req.Header.Set("Content-Type", tc.ct)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			s.Equal(tc.want, w.Code)
		})
	}
}
