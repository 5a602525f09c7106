package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

const operationDrop = "drop"

type dragLifecycle interface {
	Get(ctx context.Context, id string) (*models.LessonSession, error)
	RescheduleSingle(ctx context.Context, id string, target RescheduleTarget, actor string) (*models.BatchItem, error)
}

type dragConflictChecker interface {
	Check(ctx context.Context, candidates ...models.ConflictCandidate) ([]models.SessionConflict, error)
}

type idempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, result interface{}, ttl time.Duration) error
	Load(ctx context.Context, key string, dest interface{}) error
	Release(ctx context.Context, key string) error
}

// DragConfig bounds how long drags and drop tokens are remembered.
type DragConfig struct {
	TTL            time.Duration
	IdempotencyTTL time.Duration
}

// DragService drives the start, hover and drop sequence for moving a lesson on the grid.
// Drags live in process memory; a drag left idle past its TTL is forgotten.
type DragService struct {
	lifecycle dragLifecycle
	conflicts dragConflictChecker
	tokens    idempotencyStore
	store     *dragStore
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       DragConfig
}

// NewDragService constructs the controller. tokens may be nil to disable drop idempotency.
func NewDragService(lifecycle dragLifecycle, conflicts dragConflictChecker, tokens idempotencyStore, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg DragConfig) *DragService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 2 * time.Minute
	}
	return &DragService{
		lifecycle: lifecycle,
		conflicts: conflicts,
		tokens:    tokens,
		store:     newDragStore(cfg.TTL),
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start picks up a scheduled session from its origin cell. viewer owns the drag; actor is
// recorded as the author of the resulting change.
func (s *DragService) Start(ctx context.Context, req dto.StartDragRequest, viewer, actor string) (*models.DragSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	session, err := s.lifecycle.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is %s and cannot be moved", session.Status))
	}

	now := s.store.now()
	drag := models.DragSession{
		ID:        uuid.NewString(),
		Viewer:    viewer,
		Actor:     actor,
		SessionID: session.ID,
		Session:   *session,
		Origin:    req.Origin,
		State:     models.DragDragging,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.store.Save(drag)
	return &drag, nil
}

// Hover records the cell under the pointer. Lesson sessions are never touched.
func (s *DragService) Hover(ctx context.Context, id string, req dto.HoverDragRequest, viewer string) (*models.DragSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	cell := req.Cell
	return s.store.Transition(id, viewer, func(drag *models.DragSession) error {
		if drag.State != models.DragDragging && drag.State != models.DragHovering {
			return appErrors.Clone(appErrors.ErrDragState, fmt.Sprintf("cannot hover while %s", drag.State))
		}
		drag.Hover = &cell
		drag.State = models.DragHovering
		return nil
	})
}

// Cancel abandons a drag without any mutation.
func (s *DragService) Cancel(ctx context.Context, id, viewer string) error {
	drag, ok := s.store.Get(id)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "drag not found")
	}
	if drag.Viewer != viewer {
		return appErrors.Clone(appErrors.ErrForbidden, "drag belongs to another user")
	}
	if drag.State == models.DragCommitting {
		return appErrors.Clone(appErrors.ErrDragState, "drop is being committed")
	}
	s.store.Delete(id)
	return nil
}

// Drop commits the drag onto the target placement. A drop onto the origin placement is a
// no-op. Conflicts abort the drop and leave the drag open so the user can try another cell.
// With an idempotency key, a repeated drop returns the first drop's outcome.
func (s *DragService) Drop(ctx context.Context, id string, req dto.DropDragRequest, idempotencyKey, viewer string) (*models.DropOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	tokenKey := ""
	if s.tokens != nil && strings.TrimSpace(idempotencyKey) != "" {
		tokenKey = id + ":" + strings.TrimSpace(idempotencyKey)
		var stored models.DropOutcome
		err := s.tokens.Load(ctx, tokenKey, &stored)
		switch {
		case err == nil:
			stored.Replayed = true
			return &stored, nil
		case errors.Is(err, appErrors.ErrCacheMiss):
		default:
			return nil, err
		}
		reserved, err := s.tokens.Reserve(ctx, tokenKey, s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		if !reserved {
			return nil, appErrors.Clone(appErrors.ErrDuplicateToken, "")
		}
	}

	outcome, err := s.drop(ctx, id, req, viewer)
	s.metrics.RecordTransition(operationDrop, outcomeOf(err))
	if tokenKey == "" {
		return outcome, err
	}
	if err != nil {
		if releaseErr := s.tokens.Release(ctx, tokenKey); releaseErr != nil {
			s.logger.Warn("failed to release drop token", zap.String("drag_id", id), zap.Error(releaseErr))
		}
		return nil, err
	}
	if err := s.tokens.Complete(ctx, tokenKey, outcome, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("failed to store drop outcome", zap.String("drag_id", id), zap.Error(err))
	}
	return outcome, nil
}

func (s *DragService) drop(ctx context.Context, id string, req dto.DropDragRequest, viewer string) (*models.DropOutcome, error) {
	var previous models.DragState
	drag, err := s.store.Transition(id, viewer, func(drag *models.DragSession) error {
		if drag.State != models.DragDragging && drag.State != models.DragHovering {
			return appErrors.Clone(appErrors.ErrDragState, fmt.Sprintf("cannot drop while %s", drag.State))
		}
		previous = drag.State
		drag.State = models.DragCommitting
		return nil
	})
	if err != nil {
		return nil, err
	}
	revert := func() {
		_, _ = s.store.Transition(id, viewer, func(d *models.DragSession) error {
			d.State = previous
			return nil
		})
	}

	session, err := s.lifecycle.Get(ctx, drag.SessionID)
	if err != nil {
		revert()
		return nil, err
	}
	target, moved, err := dropTarget(*session, req)
	if err != nil {
		revert()
		return nil, err
	}

	if samePlacement(*session, moved) {
		s.store.Delete(id)
		return &models.DropOutcome{DragID: id, State: models.DragIdle, NoOp: true, Source: session}, nil
	}

	conflicts, err := s.conflicts.Check(ctx, models.CandidatesFor(moved, moved.LessonDate, moved.StartTime, moved.EndTime, session.ID)...)
	if err != nil {
		revert()
		return nil, err
	}
	if len(conflicts) > 0 {
		revert()
		return nil, conflictError(conflicts)
	}

	item, err := s.lifecycle.RescheduleSingle(ctx, session.ID, target, drag.Actor)
	if err != nil {
		revert()
		return nil, err
	}
	s.store.Delete(id)
	s.logger.Info("lesson session dropped",
		zap.String("drag_id", id),
		zap.String("session_id", item.Source.ID),
		zap.String("actor", drag.Actor))
	source := item.Source
	return &models.DropOutcome{DragID: id, State: models.DragIdle, Source: &source, Result: item.Result}, nil
}

// dropTarget resolves the drop request against the session being moved and returns both the
// reschedule target and the session as it would look after the move.
func dropTarget(session models.LessonSession, req dto.DropDragRequest) (RescheduleTarget, models.LessonSession, error) {
	if req.Date.IsZero() {
		return RescheduleTarget{}, session, appErrors.Clone(appErrors.ErrValidation, "date is required")
	}
	end := req.Start.Add(session.EndTime.Sub(session.StartTime))
	if req.End != nil {
		end = *req.End
	}
	if err := validateTimeRange(req.Start, end); err != nil {
		return RescheduleTarget{}, session, err
	}

	target := RescheduleTarget{Date: req.Date, Start: req.Start, End: end, Reason: "moved on grid"}
	moved := session.Clone()
	moved.LessonDate = req.Date
	moved.StartTime = req.Start
	moved.EndTime = end

	name := strings.TrimSpace(req.ResourceName)
	switch req.ResourceType {
	case models.ResourceTeacher:
		if name != "" {
			target.TeacherName = &name
			moved.TeacherName = name
		}
	case models.ResourceClassroom:
		if name != "" {
			target.Classroom = &name
			moved.Classroom = name
		}
	}
	return target, moved, nil
}

type dragStore struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[string]models.DragSession
	now   func() time.Time
}

func newDragStore(ttl time.Duration) *dragStore {
	return &dragStore{ttl: ttl, items: make(map[string]models.DragSession), now: time.Now}
}

func (s *dragStore) Save(drag models.DragSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[drag.ID] = drag
}

func (s *dragStore) Get(id string) (models.DragSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *dragStore) getLocked(id string) (models.DragSession, bool) {
	drag, ok := s.items[id]
	if !ok {
		return models.DragSession{}, false
	}
	if s.now().Sub(drag.UpdatedAt) > s.ttl {
		delete(s.items, id)
		return models.DragSession{}, false
	}
	return drag, true
}

// Transition applies fn to the drag under the store lock. Only the viewer who started the
// drag may change it.
func (s *dragStore) Transition(id, viewer string, fn func(*models.DragSession) error) (*models.DragSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drag, ok := s.getLocked(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "drag not found")
	}
	if drag.Viewer != viewer {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "drag belongs to another user")
	}
	if err := fn(&drag); err != nil {
		return nil, err
	}
	drag.UpdatedAt = s.now()
	s.items[id] = drag
	return &drag, nil
}

func (s *dragStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}
