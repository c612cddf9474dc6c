package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/abuse/models"
	"warden/internal/sentinel"
	"warden/pkg/platform/pagination"
	"warden/pkg/testutil"
)

// =============================================================================
// In-Memory Detection Store Test Suite
// =============================================================================
// Justification: the memory store backs single-node deployments and every
// service test, so its compare-and-set on the open state and its keyset
// ordering must match the Postgres store exactly.

type InMemoryDetectionStoreSuite struct {
	suite.Suite
	store *InMemoryDetectionStore
	ctx   context.Context
}

func TestInMemoryDetectionStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryDetectionStoreSuite))
}

func (s *InMemoryDetectionStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryDetectionStoreSuite) TestCreateAndFind() {
	d := testutil.NewDetectionBuilder().Build()
	s.Require().NoError(s.store.Create(s.ctx, d))

	s.Run("find by id returns a copy", func() {
		got, err := s.store.FindByID(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Equal(d.EventID, got.EventID)

		got.TriggeredRules[0].Weight = 0
		again, _ := s.store.FindByID(s.ctx, d.ID)
		s.Equal(d.TriggeredRules[0].Weight, again.TriggeredRules[0].Weight)
	})

	s.Run("find by event id", func() {
		got, err := s.store.FindByEventID(s.ctx, d.EventID)
		s.Require().NoError(err)
		s.Equal(d.ID, got.ID)
	})

	s.Run("duplicate event is rejected", func() {
		dup := testutil.NewDetectionBuilder().Build()
		dup.EventID = d.EventID
		s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyExists)
		s.Equal(1, s.store.Len())
	})

	s.Run("unknown ids are not found", func() {
		_, err := s.store.FindByID(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByEventID(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryDetectionStoreSuite) TestUpdateStatus() {
	d := testutil.NewDetectionBuilder().Build()
	s.Require().NoError(s.store.Create(s.ctx, d))
	at := testutil.TestTime.Add(time.Hour)

	s.Run("open detection transitions", func() {
		got, err := s.store.UpdateStatus(s.ctx, models.StatusUpdate{
			ID: d.ID, Status: models.StatusConfirmed, Reviewer: "rev-1", Notes: "credential stuffing", At: at,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, got.Status)
		s.Equal("rev-1", got.Reviewer)
		s.True(got.UpdatedAt.Equal(at))
		s.True(got.CreatedAt.Equal(d.CreatedAt))
	})

	s.Run("closed detection is an invalid state", func() {
		_, err := s.store.UpdateStatus(s.ctx, models.StatusUpdate{
			ID: d.ID, Status: models.StatusReviewed, Reviewer: "rev-2", At: at,
		})
		s.ErrorIs(err, sentinel.ErrInvalidState)

		got, _ := s.store.FindByID(s.ctx, d.ID)
		s.Equal("rev-1", got.Reviewer)
	})

	s.Run("unknown detection", func() {
		_, err := s.store.UpdateStatus(s.ctx, models.StatusUpdate{
			ID: "missing", Status: models.StatusReviewed, Reviewer: "rev-2", At: at,
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryDetectionStoreSuite) TestConcurrentUpdateStatusHasOneWinner() {
	d := testutil.NewDetectionBuilder().Build()
	s.Require().NoError(s.store.Create(s.ctx, d))
	statuses := []models.DetectionStatus{models.StatusReviewed, models.StatusFalsePositive, models.StatusConfirmed}

	result := testutil.RunConcurrent(30, func(i int) error {
		_, err := s.store.UpdateStatus(s.ctx, models.StatusUpdate{
			ID: d.ID, Status: statuses[i%3], Reviewer: fmt.Sprintf("rev-%d", i), At: testutil.TestTime,
		})
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(29), result.Conflicts)
	s.Zero(result.Errors)
}

func (s *InMemoryDetectionStoreSuite) TestListOrderingFiltersAndCursor() {
	base := testutil.TestTime
	ids := make([]string, 0, 5)
	for i := range 5 {
		b := testutil.NewDetectionBuilder().WithCreatedAt(base.Add(time.Duration(i) * time.Minute))
		d := b.Build()
		if i%2 == 0 {
			d.Tier = models.TierCritical
			d.Score = 90
		}
		s.Require().NoError(s.store.Create(s.ctx, d))
		ids = append(ids, d.ID)
	}

	s.Run("newest first", func() {
		got, err := s.store.List(s.ctx, models.DetectionFilter{}, nil, 0)
		s.Require().NoError(err)
		s.Require().Len(got, 5)
		s.Equal(ids[4], got[0].ID)
		s.Equal(ids[0], got[4].ID)
	})

	s.Run("filters apply", func() {
		got, err := s.store.List(s.ctx, models.DetectionFilter{Tier: models.TierCritical}, nil, 0)
		s.Require().NoError(err)
		s.Len(got, 3)

		minScore := 95.0
		got, err = s.store.List(s.ctx, models.DetectionFilter{MinScore: &minScore}, nil, 0)
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("cursor resumes after the last item", func() {
		first, err := s.store.List(s.ctx, models.DetectionFilter{}, nil, 2)
		s.Require().NoError(err)
		s.Require().Len(first, 2)

		last := first[len(first)-1]
		cursor := &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		rest, err := s.store.List(s.ctx, models.DetectionFilter{}, cursor, 0)
		s.Require().NoError(err)
		s.Require().Len(rest, 3)
		s.Equal(ids[2], rest[0].ID)
	})

	s.Run("ties on created_at break by id", func() {
		store := NewInMemory()
		a := testutil.NewDetectionBuilder().WithID("00000000-0000-0000-0000-00000000000a").Build()
		b := testutil.NewDetectionBuilder().WithID("00000000-0000-0000-0000-00000000000b").Build()
		s.Require().NoError(store.Create(s.ctx, a))
		s.Require().NoError(store.Create(s.ctx, b))

		got, err := store.List(s.ctx, models.DetectionFilter{}, nil, 1)
		s.Require().NoError(err)
		s.Equal(b.ID, got[0].ID)

		cursor := &pagination.Cursor{CreatedAt: got[0].CreatedAt, ID: got[0].ID}
		got, err = store.List(s.ctx, models.DetectionFilter{}, cursor, 1)
		s.Require().NoError(err)
		s.Equal(a.ID, got[0].ID)
	})
}
