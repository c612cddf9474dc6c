package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "warden/pkg/domain-errors"
)

// =============================================================================
// HTTP Decode and Error Mapping Test Suite
// =============================================================================
// Justification: every warden endpoint goes through DecodeAndPrepare and
// WriteError. A malformed or oversized body must map to a 4xx with a stable
// error code, and server-side failures must never echo internal details.

type DecodeSuite struct {
	suite.Suite
	logger *slog.Logger
	ctx    context.Context
}

func TestDecodeSuite(t *testing.T) {
	suite.Run(t, new(DecodeSuite))
}

func (s *DecodeSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = context.Background()
}

type outcomeBody struct {
	Operation string `json:"operation"`
	Success   *bool  `json:"success"`
}

func (r *outcomeBody) Normalize() {
	r.Operation = strings.ToLower(strings.TrimSpace(r.Operation))
}

func (r *outcomeBody) Validate() error {
	if r.Operation == "" {
		return errors.New("operation is required")
	}
	if r.Success == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "success is required")
	}
	return nil
}

func (s *DecodeSuite) post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/v1/lockout/outcome", bytes.NewBufferString(body))
}

func (s *DecodeSuite) errorBody(w *httptest.ResponseRecorder) map[string]string {
	var resp map[string]string
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *DecodeSuite) TestDecodeJSON() {
	s.Run("decodes a single object", func() {
		w := httptest.NewRecorder()
		result, ok := DecodeJSON[outcomeBody](w, s.post(`{"operation":"login","success":false}`), s.logger, s.ctx, "req-1")

		s.True(ok)
		s.Require().NotNil(result)
		s.Equal("login", result.Operation)
		s.Require().NotNil(result.Success)
		s.False(*result.Success)
	})

	s.Run("malformed JSON is a bad request", func() {
		w := httptest.NewRecorder()
		result, ok := DecodeJSON[outcomeBody](w, s.post(`{operation:}`), s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Nil(result)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("bad_request", s.errorBody(w)["error"])
		s.Equal("invalid request body", s.errorBody(w)["error_description"])
	})

	s.Run("empty body is a bad request", func() {
		w := httptest.NewRecorder()
		_, ok := DecodeJSON[outcomeBody](w, s.post("  \n"), s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("request body is required", s.errorBody(w)["error_description"])
	})

	s.Run("trailing objects are rejected", func() {
		w := httptest.NewRecorder()
		_, ok := DecodeJSON[outcomeBody](w, s.post(`{"operation":"login"} {"operation":"search"}`), s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("body cut off by MaxBytesReader is too large", func() {
		w := httptest.NewRecorder()
		req := s.post(`{"operation":"` + strings.Repeat("x", 256) + `"}`)
		req.Body = http.MaxBytesReader(w, req.Body, 64)

		_, ok := DecodeJSON[outcomeBody](w, req, s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Equal(http.StatusRequestEntityTooLarge, w.Code)
		s.Equal("payload_too_large", s.errorBody(w)["error"])
	})
}

func (s *DecodeSuite) TestDecodeAndPrepare() {
	s.Run("normalizes before validating", func() {
		w := httptest.NewRecorder()
		result, ok := DecodeAndPrepare[outcomeBody](w, s.post(`{"operation":"  LOGIN ","success":true}`), s.logger, s.ctx, "req-1")

		s.True(ok)
		s.Require().NotNil(result)
		s.Equal("login", result.Operation)
	})

	s.Run("plain validation errors map to validation_error", func() {
		w := httptest.NewRecorder()
		result, ok := DecodeAndPrepare[outcomeBody](w, s.post(`{"operation":"   ","success":true}`), s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Nil(result)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("validation_error", s.errorBody(w)["error"])
		s.Contains(s.errorBody(w)["error_description"], "operation is required")
	})

	s.Run("domain validation errors keep their code", func() {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[outcomeBody](w, s.post(`{"operation":"login"}`), s.logger, s.ctx, "req-1")

		s.False(ok)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("bad_request", s.errorBody(w)["error"])
		s.Equal("success is required", s.errorBody(w)["error_description"])
	})
}

func (s *DecodeSuite) TestPrepareRequest() {
	s.Run("types without hooks pass", func() {
		s.NoError(PrepareRequest(&struct{ Name string }{Name: "x"}))
	})

	s.Run("returns the validation error", func() {
		err := PrepareRequest(&outcomeBody{})
		s.Require().Error(err)
		s.Contains(err.Error(), "operation is required")
	})
}

func (s *DecodeSuite) TestWriteError() {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", dErrors.New(dErrors.CodeNotFound, "detection not found"), http.StatusNotFound, "not_found"},
		{"illegal transition", dErrors.New(dErrors.CodeInvalidTransition, "already reviewed"), http.StatusConflict, "invalid_transition"},
		{"bad policy", dErrors.New(dErrors.CodeInvalidPolicy, "bands overlap"), http.StatusBadRequest, "invalid_policy"},
		{"too large", dErrors.New(dErrors.CodePayloadTooLarge, "request body too large"), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{"store down", dErrors.New(dErrors.CodeStoreUnavailable, "redis down"), http.StatusServiceUnavailable, "store_unavailable"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "request cancelled"), http.StatusGatewayTimeout, "timeout"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)

			s.Equal(tc.status, w.Code)
			body := s.errorBody(w)
			s.Equal(tc.code, body["error"])
			if tc.status >= http.StatusInternalServerError {
				s.Empty(body["error_description"], "server errors must not leak details")
			}
		})
	}
}

func (s *DecodeSuite) TestSetRetryAfter() {
	s.Run("rounds up to whole seconds", func() {
		w := httptest.NewRecorder()
		SetRetryAfter(w, 1500*time.Millisecond)
		s.Equal("2", w.Header().Get("Retry-After"))
	})

	s.Run("non-positive durations leave the header unset", func() {
		w := httptest.NewRecorder()
		SetRetryAfter(w, 0)
		s.Empty(w.Header().Get("Retry-After"))
	})
}
