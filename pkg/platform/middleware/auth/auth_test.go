package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/pkg/requestcontext"
)

const testReviewer = "analyst@example.com"

// MockJWTValidator is a testify mock for JWTValidator
type MockJWTValidator struct {
	mock.Mock
}

func (m *MockJWTValidator) ValidateToken(tokenString string) (*JWTClaims, error) {
	args := m.Called(tokenString)
	if claims := args.Get(0); claims != nil {
		return claims.(*JWTClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockHandler is a test handler that captures if it was called and the context
type mockHandler struct {
	called  bool
	context context.Context
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	m.context = r.Context()
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Reviewer Auth Middleware Test Suite
// =============================================================================
// Justification: the review surface exposes identifiers and lets callers change
// detection status. These tests pin which requests reach the handlers and what
// identity the handlers see.

type AuthMiddlewareTestSuite struct {
	suite.Suite
	validator   *MockJWTValidator
	logger      *slog.Logger
	nextHandler *mockHandler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareTestSuite))
}

func (s *AuthMiddlewareTestSuite) SetupTest() {
	s.validator = new(MockJWTValidator)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.nextHandler = &mockHandler{}
}

func (s *AuthMiddlewareTestSuite) TearDownTest() {
	s.validator.AssertExpectations(s.T())
}

func (s *AuthMiddlewareTestSuite) serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/detections", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareTestSuite) TestValidToken() {
	s.validator.On("ValidateToken", "valid-token").Return(&JWTClaims{
		Reviewer: testReviewer,
		Scopes:   []string{"detections:read"},
		JTI:      "jti-123",
	}, nil)

	w := s.serve(RequireReviewer(s.validator, s.logger)(s.nextHandler), "Bearer valid-token")

	require.True(s.T(), s.nextHandler.called, "next handler should be called")
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), testReviewer, requestcontext.Reviewer(s.nextHandler.context))
	assert.Equal(s.T(), []string{"detections:read"}, Scopes(s.nextHandler.context))
}

func (s *AuthMiddlewareTestSuite) TestRejectedRequests() {
	s.Run("missing header", func() {
		s.nextHandler.called = false
		w := s.serve(RequireReviewer(s.validator, s.logger)(s.nextHandler), "")
		s.False(s.nextHandler.called)
		s.Equal(http.StatusUnauthorized, w.Code)
		s.JSONEq(`{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, w.Body.String())
	})

	s.Run("wrong scheme", func() {
		s.nextHandler.called = false
		w := s.serve(RequireReviewer(s.validator, s.logger)(s.nextHandler), "Basic dXNlcjpwYXNz")
		s.False(s.nextHandler.called)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("invalid token", func() {
		s.nextHandler.called = false
		s.validator.On("ValidateToken", "bad-token").Return(nil, errors.New("signature invalid")).Once()
		w := s.serve(RequireReviewer(s.validator, s.logger)(s.nextHandler), "Bearer bad-token")
		s.False(s.nextHandler.called)
		s.Equal(http.StatusUnauthorized, w.Code)
		s.JSONEq(`{"error":"unauthorized","error_description":"Invalid or expired token"}`, w.Body.String())
	})

	s.Run("token without reviewer", func() {
		s.nextHandler.called = false
		s.validator.On("ValidateToken", "anon-token").Return(&JWTClaims{Scopes: []string{"detections:read"}}, nil).Once()
		w := s.serve(RequireReviewer(s.validator, s.logger)(s.nextHandler), "Bearer anon-token")
		s.False(s.nextHandler.called)
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *AuthMiddlewareTestSuite) TestRequireScope() {
	s.validator.On("ValidateToken", "read-only").Return(&JWTClaims{
		Reviewer: testReviewer,
		Scopes:   []string{"detections:read"},
	}, nil)

	chain := func(scope string) http.Handler {
		return RequireReviewer(s.validator, s.logger)(RequireScope(scope, s.logger)(s.nextHandler))
	}

	s.Run("granted scope passes", func() {
		s.nextHandler.called = false
		w := s.serve(chain("detections:read"), "Bearer read-only")
		s.True(s.nextHandler.called)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("missing scope is forbidden", func() {
		s.nextHandler.called = false
		w := s.serve(chain("detections:write"), "Bearer read-only")
		s.False(s.nextHandler.called)
		s.Equal(http.StatusForbidden, w.Code)
		s.JSONEq(`{"error":"forbidden","error_description":"Token lacks required scope"}`, w.Body.String())
	})
}

func (s *AuthMiddlewareTestSuite) TestScopesWithoutAuth() {
	s.Nil(Scopes(context.Background()))
}
