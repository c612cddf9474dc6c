package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/abuse/engine"
	"warden/internal/abuse/handler/mocks"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// =============================================================================
// Handler Suite
// =============================================================================
// Justification: the handlers own request decoding, identifier normalization,
// query parsing and the mapping of engine errors onto status codes. The
// engine is mocked so each case pins exactly what reaches it.

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	h := New(s.mockService, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAdmin(r, nil)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	return s.doAs("", method, path, body)
}

func (s *HandlerSuite) doAs(reviewer, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if reviewer != "" {
		req = req.WithContext(requestcontext.WithReviewer(req.Context(), reviewer))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

func mustIdentifier(kind models.IdentifierKind, value string) models.Identifier {
	id, err := models.NewIdentifier(kind, value)
	if err != nil {
		panic(err)
	}
	return id
}

func (s *HandlerSuite) TestCheckLockout() {
	ip := mustIdentifier(models.KindIP, "203.0.113.7")
	email := mustIdentifier(models.KindEmail, "user@example.com")

	s.Run("normalizes identifiers and returns the decision", func() {
		s.mockService.EXPECT().
			CheckLockout(gomock.Any(), models.IdentifierSet{email, ip}, models.Operation("login")).
			Return(&models.Decision{State: models.StateAllowed}, nil)

		rec := s.do(http.MethodPost, "/v1/lockout/check",
			`{"identifiers":[{"kind":"IP","value":" 203.0.113.7 "},{"kind":"email","value":"User@Example.com"}],"operation":"login"}`)

		s.Equal(http.StatusOK, rec.Code)
		s.Empty(rec.Header().Get("Retry-After"))
		var resp DecisionResponse
		s.decode(rec, &resp)
		s.Equal(models.StateAllowed, resp.Decision)
		s.Nil(resp.GoverningIdentifier)
		s.False(resp.Degraded)
	})

	s.Run("blocked decision carries retry hints", func() {
		s.mockService.EXPECT().
			CheckLockout(gomock.Any(), gomock.Any(), models.Operation("login")).
			Return(&models.Decision{State: models.StateBlocked, Governing: &ip, RetryAfter: 89500 * time.Millisecond}, nil)

		rec := s.do(http.MethodPost, "/v1/lockout/check",
			`{"identifiers":[{"kind":"ip","value":"203.0.113.7"}],"operation":"login"}`)

		s.Equal(http.StatusOK, rec.Code)
		s.Equal("90", rec.Header().Get("Retry-After"))
		var resp DecisionResponse
		s.decode(rec, &resp)
		s.Equal(models.StateBlocked, resp.Decision)
		s.Require().NotNil(resp.GoverningIdentifier)
		s.Equal(ip, *resp.GoverningIdentifier)
		s.Equal(int64(90), resp.RetryAfterSeconds)
	})

	s.Run("rejects bad requests before reaching the engine", func() {
		for name, body := range map[string]string{
			"invalid json":      `not json`,
			"no identifiers":    `{"identifiers":[],"operation":"login"}`,
			"unknown kind":      `{"identifiers":[{"kind":"phone","value":"1"}],"operation":"login"}`,
			"empty value":       `{"identifiers":[{"kind":"ip","value":"  "}],"operation":"login"}`,
			"missing operation": `{"identifiers":[{"kind":"ip","value":"203.0.113.7"}]}`,
		} {
			rec := s.do(http.MethodPost, "/v1/lockout/check", body)
			s.Equal(http.StatusBadRequest, rec.Code, name)
		}
	})

	s.Run("store unavailable maps to 503", func() {
		s.mockService.EXPECT().
			CheckLockout(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeStoreUnavailable, "counter store unavailable"))

		rec := s.do(http.MethodPost, "/v1/lockout/check",
			`{"identifiers":[{"kind":"ip","value":"203.0.113.7"}],"operation":"login"}`)
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})

	s.Run("timeout maps to 504", func() {
		s.mockService.EXPECT().
			CheckLockout(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTimeout, "lockout check cancelled"))

		rec := s.do(http.MethodPost, "/v1/lockout/check",
			`{"identifiers":[{"kind":"ip","value":"203.0.113.7"}],"operation":"login"}`)
		s.Equal(http.StatusGatewayTimeout, rec.Code)
	})
}

func (s *HandlerSuite) TestRecordOutcome() {
	s.Run("forwards the outcome", func() {
		s.mockService.EXPECT().
			RecordOutcome(gomock.Any(), gomock.Len(1), models.Operation("login"), models.Outcome{
				Success: false,
				Context: map[string]string{"reason": "bad_password"},
			}).
			Return(nil)

		rec := s.do(http.MethodPost, "/v1/lockout/outcome",
			`{"identifiers":[{"kind":"account","value":"acct-1"}],"operation":"login","success":false,"context":{"reason":"bad_password"}}`)
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("success is required", func() {
		rec := s.do(http.MethodPost, "/v1/lockout/outcome",
			`{"identifiers":[{"kind":"account","value":"acct-1"}],"operation":"login"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestScoreEvent() {
	s.Run("builds the event and returns the risk event", func() {
		occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.mockService.EXPECT().
			ScoreEvent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, ev *models.Event) (*engine.ScoreResult, error) {
				s.Equal("evt-1", ev.ID)
				s.Equal(models.Operation("login"), ev.Operation)
				s.Equal(true, ev.Attributes["country_changed"])
				s.Equal("curl/8.0", ev.UserAgent)
				s.True(ev.OccurredAt.Equal(occurred))
				return &engine.ScoreResult{
					Risk: &models.RiskEvent{
						EventID:        ev.ID,
						Identifiers:    ev.Identifiers,
						Operation:      ev.Operation,
						Score:          70,
						Tier:           models.TierHigh,
						TriggeredRules: []models.TriggeredRule{{RuleID: "country-change", Weight: 40}},
						PolicyVersion:  3,
					},
					Detection: &models.Detection{ID: "det-1"},
				}, nil
			})

		rec := s.do(http.MethodPost, "/v1/events/score",
			`{"event_id":"evt-1","identifiers":[{"kind":"ip","value":"203.0.113.7"}],"operation":"login",`+
				`"attributes":{"country_changed":true},"user_agent":"curl/8.0","occurred_at":"2026-03-01T12:00:00Z"}`)

		s.Require().Equal(http.StatusOK, rec.Code)
		var resp struct {
			EventID       string  `json:"event_id"`
			Score         float64 `json:"score"`
			Tier          string  `json:"tier"`
			PolicyVersion int64   `json:"policy_version"`
			DetectionID   string  `json:"detection_id"`
		}
		s.decode(rec, &resp)
		s.Equal("evt-1", resp.EventID)
		s.Equal(70.0, resp.Score)
		s.Equal("high", resp.Tier)
		s.Equal(int64(3), resp.PolicyVersion)
		s.Equal("det-1", resp.DetectionID)
	})

	s.Run("empty attribute name is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/events/score",
			`{"identifiers":[{"kind":"ip","value":"203.0.113.7"}],"operation":"login","attributes":{" ":1}}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestListDetections() {
	s.Run("parses the filter", func() {
		s.mockService.EXPECT().
			GetDetections(gomock.Any(), gomock.Any(), models.Pagination{Cursor: "abc", Limit: 10}).
			DoAndReturn(func(_ any, f models.DetectionFilter, _ models.Pagination) (*models.DetectionPage, error) {
				s.Equal(models.StatusOpen, f.Status)
				s.Equal(models.TierHigh, f.Tier)
				s.Equal(models.Operation("login"), f.Operation)
				s.Require().NotNil(f.Identifier)
				s.Equal(mustIdentifier(models.KindEmail, "user@example.com"), *f.Identifier)
				s.Require().NotNil(f.MinScore)
				s.Equal(55.5, *f.MinScore)
				s.Require().NotNil(f.CreatedAfter)
				return &models.DetectionPage{NextCursor: "next", HasMore: true}, nil
			})

		rec := s.do(http.MethodGet,
			"/admin/detections?status=open&tier=high&operation=login&identifier=email:User@example.com"+
				"&min_score=55.5&created_after=2026-01-01T00:00:00Z&cursor=abc&limit=10", "")

		s.Require().Equal(http.StatusOK, rec.Code)
		var resp DetectionListResponse
		s.decode(rec, &resp)
		s.NotNil(resp.Detections)
		s.Empty(resp.Detections)
		s.Equal("next", resp.NextCursor)
		s.True(resp.HasMore)
	})

	s.Run("clamps the page size", func() {
		s.mockService.EXPECT().
			GetDetections(gomock.Any(), models.DetectionFilter{}, models.Pagination{Limit: models.MaxPageSize}).
			Return(&models.DetectionPage{}, nil)

		rec := s.do(http.MethodGet, "/admin/detections?limit=100000", "")
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("invalid parameters", func() {
		for _, q := range []string{"status=closed", "tier=extreme", "identifier=nokind", "min_score=-1", "limit=0", "created_before=yesterday"} {
			rec := s.do(http.MethodGet, "/admin/detections?"+q, "")
			s.Equal(http.StatusBadRequest, rec.Code, q)
		}
	})
}

func (s *HandlerSuite) TestGetDetection() {
	s.Run("found", func() {
		s.mockService.EXPECT().GetDetection(gomock.Any(), "det-1").
			Return(&models.Detection{ID: "det-1", Status: models.StatusOpen}, nil)

		rec := s.do(http.MethodGet, "/admin/detections/det-1", "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var d models.Detection
		s.decode(rec, &d)
		s.Equal("det-1", d.ID)
	})

	s.Run("not found", func() {
		s.mockService.EXPECT().GetDetection(gomock.Any(), "missing").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "detection not found"))

		rec := s.do(http.MethodGet, "/admin/detections/missing", "")
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestUpdateDetection() {
	s.Run("reviewer comes from the token subject", func() {
		s.mockService.EXPECT().
			UpdateDetectionStatus(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, u models.StatusUpdate) (*models.Detection, error) {
				s.Equal("det-1", u.ID)
				s.Equal(models.StatusConfirmed, u.Status)
				s.Equal("alice", u.Reviewer)
				s.Equal("credential stuffing", u.Notes)
				s.False(u.At.IsZero())
				return &models.Detection{ID: u.ID, Status: u.Status, Reviewer: u.Reviewer}, nil
			})

		rec := s.doAs("alice", http.MethodPatch, "/admin/detections/det-1",
			`{"status":"Confirmed","notes":"credential stuffing"}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		var d models.Detection
		s.decode(rec, &d)
		s.Equal(models.StatusConfirmed, d.Status)
	})

	s.Run("anonymous update is rejected", func() {
		rec := s.do(http.MethodPatch, "/admin/detections/det-1", `{"status":"confirmed"}`)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("unknown status", func() {
		rec := s.doAs("alice", http.MethodPatch, "/admin/detections/det-1", `{"status":"closed"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("invalid transition maps to 409", func() {
		s.mockService.EXPECT().UpdateDetectionStatus(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidTransition, "cannot move confirmed to open"))

		rec := s.doAs("alice", http.MethodPatch, "/admin/detections/det-1", `{"status":"open"}`)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestGetPolicy() {
	snap, err := policy.Compile(policy.DefaultDocument())
	s.Require().NoError(err)
	s.mockService.EXPECT().Policy().Return(snap)

	rec := s.do(http.MethodGet, "/admin/policy", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp PolicyResponse
	s.decode(rec, &resp)
	s.Equal("5m0s", resp.Default.BlockDuration)
	s.Equal(policy.FailClosed, resp.Default.FailMode)
	s.NotNil(resp.RuleIDs)
}

func (s *HandlerSuite) TestAdminScopes() {
	h := New(s.mockService, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var required []string
	deny := func(scope string) func(http.Handler) http.Handler {
		required = append(required, scope)
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			})
		}
	}
	r := chi.NewRouter()
	h.RegisterAdmin(r, deny)

	s.ElementsMatch([]string{"detections:read", "detections:read", "detections:write", "policy:read"}, required)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/policy", nil))
	s.Equal(http.StatusForbidden, rec.Code)
}
