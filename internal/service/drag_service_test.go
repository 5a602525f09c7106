package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	"github.com/noah-isme/lesson-grid-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

func newDragFixture(seed ...models.LessonSession) (*DragService, *lifecycleFixture) {
	fx := newLifecycleFixture(clockAt("2025-03-01 09:00"), nil, seed...)
	tokens := repository.NewIdempotencyRepository(nil, "drop")
	svc := NewDragService(fx.service, fx.conflicts, tokens, validator.New(), nil, zap.NewNop(), DragConfig{TTL: time.Minute})
	return svc, fx
}

func startDrag(t *testing.T, svc *DragService, sessionID, actor string) *models.DragSession {
	t.Helper()
	drag, err := svc.Start(context.Background(), dto.StartDragRequest{
		SessionID: sessionID,
		Origin:    models.GridCellKey{RowKey: "Иванов", ColumnKey: "2025-03-10"},
	}, actor, actor)
	require.NoError(t, err)
	return drag
}

func dropAt(date, start string) dto.DropDragRequest {
	return dto.DropDragRequest{Date: models.MustParseDate(date), Start: models.MustParseTimeOfDay(start)}
}

func TestDragDropReschedulesSession(t *testing.T) {
	svc, fx := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")
	assert.Equal(t, models.DragDragging, drag.State)

	hovered, err := svc.Hover(context.Background(), drag.ID, dto.HoverDragRequest{Cell: models.GridCellKey{RowKey: "Иванов", ColumnKey: "2025-03-12"}}, "manager")
	require.NoError(t, err)
	assert.Equal(t, models.DragHovering, hovered.State)
	require.NotNil(t, hovered.Hover)
	assert.Equal(t, 1, fx.sessions.count())

	outcome, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "", "manager")
	require.NoError(t, err)
	assert.False(t, outcome.NoOp)
	assert.Equal(t, models.DragIdle, outcome.State)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "15:00", outcome.Result.EndTime.String())

	source := fx.sessions.get(t, "s1")
	assert.Equal(t, models.SessionStatusCancelled, source.Status)
	require.NotNil(t, source.RescheduledToID)
	assert.Equal(t, outcome.Result.ID, *source.RescheduledToID)

	_, err = svc.Hover(context.Background(), drag.ID, dto.HoverDragRequest{Cell: models.GridCellKey{RowKey: "a", ColumnKey: "b"}}, "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestDragDropOnOriginIsNoOp(t *testing.T) {
	svc, fx := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")

	outcome, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-10", "10:00"), "", "manager")
	require.NoError(t, err)
	assert.True(t, outcome.NoOp)
	assert.Equal(t, models.DragIdle, outcome.State)
	assert.Equal(t, 1, fx.sessions.count())
	assert.Equal(t, models.SessionStatusScheduled, fx.sessions.get(t, "s1").Status)
	assert.Empty(t, fx.history.events)
}

func TestDragDropConflictKeepsDragOpen(t *testing.T) {
	s3 := lesson("s3", "Иванов", "202", "2025-03-11", "14:00", "14:30")
	svc, fx := newDragFixture(s1(), s3)
	drag := startDrag(t, svc, "s1", "manager")
	_, err := svc.Hover(context.Background(), drag.ID, dto.HoverDragRequest{Cell: models.GridCellKey{RowKey: "Иванов", ColumnKey: "2025-03-11"}}, "manager")
	require.NoError(t, err)

	_, err = svc.Drop(context.Background(), drag.ID, dropAt("2025-03-11", "14:00"), "", "manager")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.Equal(t, models.SessionStatusScheduled, fx.sessions.get(t, "s1").Status)
	assert.Equal(t, 2, fx.sessions.count())
	assert.Empty(t, fx.history.events)

	current, ok := svc.store.Get(drag.ID)
	require.True(t, ok)
	assert.Equal(t, models.DragHovering, current.State)

	outcome, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-11", "15:00"), "", "manager")
	require.NoError(t, err)
	assert.Equal(t, "16:00", outcome.Result.EndTime.String())
}

func TestDragRejectsActionsWhileCommitting(t *testing.T) {
	svc, _ := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")
	_, err := svc.store.Transition(drag.ID, "manager", func(d *models.DragSession) error {
		d.State = models.DragCommitting
		return nil
	})
	require.NoError(t, err)

	_, err = svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "", "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDragState.Code))
	_, err = svc.Hover(context.Background(), drag.ID, dto.HoverDragRequest{Cell: models.GridCellKey{RowKey: "a", ColumnKey: "b"}}, "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDragState.Code))
	err = svc.Cancel(context.Background(), drag.ID, "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDragState.Code))
}

func TestDragDropIdempotencyKeyReplaysOutcome(t *testing.T) {
	svc, fx := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")

	first, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "key-1", "manager")
	require.NoError(t, err)
	second, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "key-1", "manager")
	require.NoError(t, err)

	require.NotNil(t, second.Result)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Result.ID, second.Result.ID)
	assert.Equal(t, 2, fx.sessions.count())
	assert.Len(t, fx.history.ofType("s1", models.HistoryEventRescheduled), 1)
}

func TestDragDropPendingKeyIsRejected(t *testing.T) {
	svc, _ := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")
	ok, err := svc.tokens.Reserve(context.Background(), drag.ID+":key-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "key-2", "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateToken.Code))
}

func TestDragDropChangesClassroom(t *testing.T) {
	svc, fx := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")

	req := dropAt("2025-03-10", "10:00")
	req.ResourceType = models.ResourceClassroom
	req.ResourceName = "202"
	outcome, err := svc.Drop(context.Background(), drag.ID, req, "", "manager")
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)

	moved := fx.sessions.get(t, outcome.Result.ID)
	assert.Equal(t, "202", moved.Classroom)
	assert.Equal(t, "Иванов", moved.TeacherName)
	assert.Equal(t, "2025-03-10", moved.LessonDate.String())
}

func TestDragBelongsToViewer(t *testing.T) {
	svc, _ := newDragFixture(s1())
	drag := startDrag(t, svc, "s1", "manager")

	_, err := svc.Drop(context.Background(), drag.ID, dropAt("2025-03-12", "14:00"), "", "someone-else")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
	assert.True(t, appErrors.HasCode(svc.Cancel(context.Background(), drag.ID, "someone-else"), appErrors.ErrForbidden.Code))
	require.NoError(t, svc.Cancel(context.Background(), drag.ID, "manager"))
}

func TestDragExpiresAfterTTL(t *testing.T) {
	svc, _ := newDragFixture(s1())
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.store.now = func() time.Time { return now }
	drag := startDrag(t, svc, "s1", "manager")

	now = now.Add(2 * time.Minute)
	_, err := svc.Hover(context.Background(), drag.ID, dto.HoverDragRequest{Cell: models.GridCellKey{RowKey: "a", ColumnKey: "b"}}, "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestDragStartRejectsCancelledSession(t *testing.T) {
	cancelled := s1()
	cancelled.Status = models.SessionStatusCancelled
	svc, _ := newDragFixture(cancelled)

	_, err := svc.Start(context.Background(), dto.StartDragRequest{
		SessionID: "s1",
		Origin:    models.GridCellKey{RowKey: "Иванов", ColumnKey: "2025-03-10"},
	}, "manager", "manager")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}
