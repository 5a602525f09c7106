package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/dto"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

// Lifecycle operation names used in batch results and metrics.
const (
	OperationCreate     = "create"
	OperationReschedule = "reschedule"
	OperationCopy       = "copy"
	OperationMakeup     = "makeup"
	OperationCancel     = "cancel"
	OperationComplete   = "complete"
	OperationUpdate     = "update"
)

type lessonSessionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.LessonSession) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LessonSession, error)
	Update(ctx context.Context, exec sqlx.ExtContext, id string, patch models.SessionPatch) (*models.LessonSession, error)
	List(ctx context.Context, exec sqlx.ExtContext, filter models.SessionFilter) ([]models.LessonSession, error)
	LockResources(ctx context.Context, exec sqlx.ExtContext, keys []string) error
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

type occurrenceResolver interface {
	Resolve(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LessonSession, *models.RecurringTemplate, error)
	Virtual(ctx context.Context, exec sqlx.ExtContext, filter models.TemplateFilter, from, to models.Date) ([]models.LessonSession, error)
}

type conflictChecker interface {
	CheckWith(ctx context.Context, exec sqlx.ExtContext, candidates ...models.ConflictCandidate) ([]models.SessionConflict, error)
}

type historyRecorder interface {
	Record(ctx context.Context, exec sqlx.ExtContext, entry HistoryEntry) (*models.HistoryEvent, error)
}

// LifecycleConfig tunes series operations.
type LifecycleConfig struct {
	// SeriesHorizon bounds how far past the anchor virtual occurrences are pulled into a series.
	SeriesHorizon time.Duration
}

// LifecycleService is the only writer of lesson sessions. Every single-session operation
// runs in one transaction: resource locks, a fresh conflict check, a status-guarded write
// and the history entries commit or roll back together.
type LifecycleService struct {
	sessions   lessonSessionStore
	tx         txRunner
	recurrence occurrenceResolver
	conflicts  conflictChecker
	history    historyRecorder
	clock      Clock
	validator  *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        LifecycleConfig
}

// NewLifecycleService wires the lifecycle manager.
func NewLifecycleService(
	sessions lessonSessionStore,
	tx txRunner,
	recurrence occurrenceResolver,
	conflicts conflictChecker,
	history historyRecorder,
	clock Clock,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg LifecycleConfig,
) *LifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewSystemClock(time.UTC)
	}
	if cfg.SeriesHorizon <= 0 {
		cfg.SeriesHorizon = 90 * 24 * time.Hour
	}
	return &LifecycleService{
		sessions:   sessions,
		tx:         tx,
		recurrence: recurrence,
		conflicts:  conflicts,
		history:    history,
		clock:      clock,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// RescheduleTarget is where a session moves to. Nil resource overrides keep the current value.
type RescheduleTarget struct {
	Date        models.Date
	Start       models.TimeOfDay
	End         models.TimeOfDay
	TeacherName *string
	Classroom   *string
	Reason      string
}

// Get loads a session, resolving virtual template occurrences.
func (s *LifecycleService) Get(ctx context.Context, id string) (*models.LessonSession, error) {
	return s.load(ctx, nil, id)
}

// Create books a one-off session.
func (s *LifecycleService) Create(ctx context.Context, req dto.CreateSessionRequest, actor string) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.LessonDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson_date is required")
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := s.ensureNotPast(req.LessonDate); err != nil {
		return nil, err
	}

	session := &models.LessonSession{
		GroupID:      models.StringPtr(derefString(req.GroupID)),
		StudentName:  models.StringPtr(derefString(req.StudentName)),
		TeacherName:  strings.TrimSpace(req.TeacherName),
		Branch:       strings.TrimSpace(req.Branch),
		Classroom:    strings.TrimSpace(req.Classroom),
		LessonDate:   req.LessonDate,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Status:       models.SessionStatusScheduled,
		Notes:        strings.TrimSpace(req.Notes),
		Capacity:     req.Capacity,
		StudentCount: req.StudentCount,
	}

	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		if err := s.placeNew(ctx, exec, session, ""); err != nil {
			return err
		}
		_, err := s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   session.ID,
			Type:        models.HistoryEventCreated,
			NewValue:    snapshotOf(session),
			Actor:       actor,
			Description: "created",
		})
		return err
	})
	s.observe(OperationCreate, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("lesson session created", zap.String("session_id", session.ID), zap.String("actor", actor))
	return session, nil
}

// Reschedule moves an occurrence, or with series scope every later scheduled occurrence of
// its group. Single scope errors are returned; series scope reports per-item failures.
func (s *LifecycleService) Reschedule(ctx context.Context, id string, req dto.RescheduleSessionRequest, actor string) (*models.BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.NewDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_date is required")
	}
	target := RescheduleTarget{
		Date:        req.NewDate,
		Start:       req.NewStart,
		End:         req.NewEnd,
		TeacherName: req.TeacherName,
		Classroom:   req.Classroom,
		Reason:      req.Reason,
	}
	if req.Scope == models.ScopeSeries {
		return s.RescheduleSeries(ctx, id, target, actor)
	}
	item, err := s.RescheduleSingle(ctx, id, target, actor)
	if err != nil {
		return nil, err
	}
	return &models.BatchResult{Operation: OperationReschedule, Succeeded: []models.BatchItem{*item}, Failed: []models.BatchFailure{}}, nil
}

// RescheduleSingle cancels the occurrence with a forward link and books its replacement.
func (s *LifecycleService) RescheduleSingle(ctx context.Context, id string, target RescheduleTarget, actor string) (*models.BatchItem, error) {
	if err := validateTimeRange(target.Start, target.End); err != nil {
		return nil, err
	}
	if err := s.ensureNotPast(target.Date); err != nil {
		return nil, err
	}

	var item *models.BatchItem
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		item, err = s.rescheduleOne(ctx, exec, source, target, actor)
		return err
	})
	s.observe(OperationReschedule, err)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RescheduleSeries shifts the anchor and every later scheduled occurrence of its group by the
// anchor's date and time offsets. Each occurrence commits independently.
func (s *LifecycleService) RescheduleSeries(ctx context.Context, id string, target RescheduleTarget, actor string) (*models.BatchResult, error) {
	if err := validateTimeRange(target.Start, target.End); err != nil {
		return nil, err
	}
	anchor, members, err := s.seriesMembers(ctx, id)
	if err != nil {
		return nil, err
	}

	dayDelta := anchor.LessonDate.DaysUntil(target.Date)
	startDelta := target.Start.Sub(anchor.StartTime)
	endDelta := target.End.Sub(anchor.EndTime)

	// Moving later frees each slot before an earlier member lands on it; moving earlier
	// works the other way round.
	if dayDelta > 0 || (dayDelta == 0 && startDelta > 0) {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}

	result := &models.BatchResult{Operation: OperationReschedule, Succeeded: []models.BatchItem{}, Failed: []models.BatchFailure{}}
	for _, member := range members {
		memberTarget := RescheduleTarget{
			Date:        member.LessonDate.AddDays(dayDelta),
			Start:       member.StartTime.Add(startDelta),
			End:         member.EndTime.Add(endDelta),
			TeacherName: target.TeacherName,
			Classroom:   target.Classroom,
			Reason:      target.Reason,
		}
		item, err := s.RescheduleSingle(ctx, member.ID, memberTarget, actor)
		if err != nil {
			result.Failed = append(result.Failed, batchFailure(member, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, *item)
	}
	s.finishBatch(result, anchor.ID)
	return result, nil
}

func (s *LifecycleService) rescheduleOne(ctx context.Context, exec sqlx.ExtContext, source *models.LessonSession, target RescheduleTarget, actor string) (*models.BatchItem, error) {
	if source.Status != models.SessionStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is %s and cannot be rescheduled", source.Status))
	}

	next := source.Clone()
	next.ID = ""
	next.Virtual = false
	next.LessonDate = target.Date
	next.StartTime = target.Start
	next.EndTime = target.End
	if target.TeacherName != nil && strings.TrimSpace(*target.TeacherName) != "" {
		next.TeacherName = strings.TrimSpace(*target.TeacherName)
	}
	if target.Classroom != nil && strings.TrimSpace(*target.Classroom) != "" {
		next.Classroom = strings.TrimSpace(*target.Classroom)
	}
	next.Status = models.SessionStatusScheduled
	next.RecurrenceSourceID = nil
	next.RescheduledToID = nil
	next.CreatedAt = time.Time{}
	next.Notes = models.AppendNote(source.Notes, fmt.Sprintf("rescheduled from %s %s", source.LessonDate, source.StartTime))

	if samePlacement(*source, next) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target placement equals the current one")
	}

	if err := s.sessions.LockResources(ctx, exec, append(models.LockKeys(*source, source.LessonDate), models.LockKeys(next, next.LessonDate)...)); err != nil {
		return nil, err
	}
	materialized, err := s.materialize(ctx, exec, source, actor)
	if err != nil {
		return nil, err
	}
	source = materialized

	if err := s.placeNew(ctx, exec, &next, source.ID); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(target.Reason)
	if reason == "" {
		reason = "rescheduled"
	} else {
		reason = "rescheduled: " + reason
	}
	cancelled := models.SessionStatusCancelled
	notes := models.AppendNote(source.Notes, reason)
	forward := next.ID
	updated, err := s.transition(ctx, exec, source, models.SessionPatch{Status: &cancelled, Notes: &notes, RescheduledToID: &forward})
	if err != nil {
		return nil, err
	}

	if _, err := s.history.Record(ctx, exec, HistoryEntry{
		SessionID:   updated.ID,
		Type:        models.HistoryEventRescheduled,
		OldValue:    snapshotOf(source),
		NewValue:    snapshotOf(updated),
		Actor:       actor,
		Description: fmt.Sprintf("rescheduled to %s %s-%s (%s)", next.LessonDate, next.StartTime, next.EndTime, next.ID),
	}); err != nil {
		return nil, err
	}
	if _, err := s.history.Record(ctx, exec, HistoryEntry{
		SessionID:   next.ID,
		Type:        models.HistoryEventCreated,
		NewValue:    snapshotOf(&next),
		Actor:       actor,
		Description: fmt.Sprintf("rescheduled from %s (%s)", source.LessonDate, source.ID),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("lesson session rescheduled",
		zap.String("session_id", updated.ID),
		zap.String("new_session_id", next.ID),
		zap.String("actor", actor))
	return &models.BatchItem{Source: *updated, Result: &next}, nil
}

// Copy books an independent session with the same resources and times on another date.
func (s *LifecycleService) Copy(ctx context.Context, id string, req dto.CopySessionRequest, actor string) (*models.BatchItem, error) {
	if req.NewDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_date is required")
	}
	if err := s.ensureNotPast(req.NewDate); err != nil {
		return nil, err
	}

	var item *models.BatchItem
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		copied := models.LessonSession{
			GroupID:      models.StringPtr(derefString(source.GroupID)),
			StudentName:  models.StringPtr(derefString(source.StudentName)),
			TeacherName:  source.TeacherName,
			Branch:       source.Branch,
			Classroom:    source.Classroom,
			LessonDate:   req.NewDate,
			StartTime:    source.StartTime,
			EndTime:      source.EndTime,
			Status:       models.SessionStatusScheduled,
			Capacity:     source.Capacity,
			StudentCount: source.StudentCount,
		}
		if err := s.placeNew(ctx, exec, &copied, ""); err != nil {
			return err
		}
		if _, err := s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   copied.ID,
			Type:        models.HistoryEventCreated,
			NewValue:    snapshotOf(&copied),
			Actor:       actor,
			Description: fmt.Sprintf("created via copy of %s (%s)", source.ID, source.LessonDate),
		}); err != nil {
			return err
		}
		item = &models.BatchItem{Source: *source, Result: &copied}
		return nil
	})
	s.observe(OperationCopy, err)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Makeup books an ad-hoc compensating lesson for source. The source is not modified.
func (s *LifecycleService) Makeup(ctx context.Context, id string, req dto.MakeupSessionRequest, actor string) (*models.BatchItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.NewDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_date is required")
	}
	if err := validateTimeRange(req.NewStart, req.NewEnd); err != nil {
		return nil, err
	}
	if err := s.ensureNotPast(req.NewDate); err != nil {
		return nil, err
	}

	var item *models.BatchItem
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		classroom := source.Classroom
		if req.Classroom != nil && strings.TrimSpace(*req.Classroom) != "" {
			classroom = strings.TrimSpace(*req.Classroom)
		}
		notes := models.AppendNote(fmt.Sprintf("makeup for %s (%s)", source.ID, source.LessonDate), req.Notes)
		makeup := models.LessonSession{
			GroupID:      models.StringPtr(derefString(source.GroupID)),
			StudentName:  models.StringPtr(derefString(source.StudentName)),
			TeacherName:  source.TeacherName,
			Branch:       source.Branch,
			Classroom:    classroom,
			LessonDate:   req.NewDate,
			StartTime:    req.NewStart,
			EndTime:      req.NewEnd,
			Status:       models.SessionStatusScheduled,
			Notes:        notes,
			Capacity:     source.Capacity,
			StudentCount: source.StudentCount,
		}
		if err := s.placeNew(ctx, exec, &makeup, ""); err != nil {
			return err
		}
		if _, err := s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   makeup.ID,
			Type:        models.HistoryEventCreated,
			NewValue:    snapshotOf(&makeup),
			Actor:       actor,
			Description: fmt.Sprintf("makeup for %s", source.ID),
		}); err != nil {
			return err
		}
		item = &models.BatchItem{Source: *source, Result: &makeup}
		return nil
	})
	s.observe(OperationMakeup, err)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Cancel cancels one occurrence, or with series scope every later scheduled occurrence of its group.
func (s *LifecycleService) Cancel(ctx context.Context, id string, req dto.CancelSessionRequest, actor string) (*models.BatchResult, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		s.observe(OperationCancel, appErrors.ErrValidation)
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation reason is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	if req.Scope != models.ScopeSeries {
		updated, err := s.CancelSingle(ctx, id, reason, actor)
		if err != nil {
			return nil, err
		}
		return &models.BatchResult{
			Operation: OperationCancel,
			Succeeded: []models.BatchItem{{Source: *updated}},
			Failed:    []models.BatchFailure{},
		}, nil
	}

	anchor, members, err := s.seriesMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &models.BatchResult{Operation: OperationCancel, Succeeded: []models.BatchItem{}, Failed: []models.BatchFailure{}}
	for _, member := range members {
		updated, err := s.CancelSingle(ctx, member.ID, reason, actor)
		if err != nil {
			result.Failed = append(result.Failed, batchFailure(member, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, models.BatchItem{Source: *updated})
	}
	s.finishBatch(result, anchor.ID)
	return result, nil
}

// CancelSingle cancels one scheduled occurrence, appending the reason to its notes.
func (s *LifecycleService) CancelSingle(ctx context.Context, id, reason, actor string) (*models.LessonSession, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation reason is required")
	}

	var updated *models.LessonSession
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		if source.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is %s and cannot be cancelled", source.Status))
		}
		if source, err = s.materialize(ctx, exec, source, actor); err != nil {
			return err
		}
		cancelled := models.SessionStatusCancelled
		notes := models.AppendNote(source.Notes, "cancelled: "+reason)
		updated, err = s.transition(ctx, exec, source, models.SessionPatch{Status: &cancelled, Notes: &notes})
		if err != nil {
			return err
		}
		_, err = s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   updated.ID,
			Type:        models.HistoryEventCancelled,
			OldValue:    snapshotOf(source),
			NewValue:    snapshotOf(updated),
			Actor:       actor,
			Description: reason,
		})
		return err
	})
	s.observe(OperationCancel, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("lesson session cancelled", zap.String("session_id", updated.ID), zap.String("actor", actor))
	return updated, nil
}

// Complete marks a finished occurrence as held. The time-driven collaborator calls this
// once the lesson's end has passed.
func (s *LifecycleService) Complete(ctx context.Context, id, actor string) (*models.LessonSession, error) {
	var updated *models.LessonSession
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		if source.Status != models.SessionStatusScheduled {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is %s and cannot be completed", source.Status))
		}
		if s.endsInFuture(*source) {
			return appErrors.Clone(appErrors.ErrValidation, "session has not ended yet")
		}
		if source, err = s.materialize(ctx, exec, source, actor); err != nil {
			return err
		}
		completed := models.SessionStatusCompleted
		updated, err = s.transition(ctx, exec, source, models.SessionPatch{Status: &completed})
		if err != nil {
			return err
		}
		_, err = s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   updated.ID,
			Type:        models.HistoryEventCompleted,
			OldValue:    snapshotOf(source),
			NewValue:    snapshotOf(updated),
			Actor:       actor,
			Description: "completed",
		})
		return err
	})
	s.observe(OperationComplete, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateDetails patches notes, capacity or student count of a non-cancelled session.
func (s *LifecycleService) UpdateDetails(ctx context.Context, id string, req dto.UpdateSessionRequest, actor string) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	patch := models.SessionPatch{Notes: req.Notes, Capacity: req.Capacity, StudentCount: req.StudentCount}
	if patch.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}

	var updated *models.LessonSession
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		source, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		if source.Status == models.SessionStatusCancelled {
			return appErrors.Clone(appErrors.ErrValidation, "cancelled sessions cannot be edited")
		}
		if source, err = s.materialize(ctx, exec, source, actor); err != nil {
			return err
		}
		updated, err = s.transition(ctx, exec, source, patch)
		if err != nil {
			return err
		}
		_, err = s.history.Record(ctx, exec, HistoryEntry{
			SessionID:   updated.ID,
			Type:        models.HistoryEventUpdated,
			OldValue:    snapshotOf(source),
			NewValue:    snapshotOf(updated),
			Actor:       actor,
			Description: "details updated",
		})
		return err
	})
	s.observe(OperationUpdate, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// load resolves id to a stored session or a virtual template occurrence.
func (s *LifecycleService) load(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LessonSession, error) {
	if _, _, ok := models.ParseVirtualSessionID(id); ok {
		if s.recurrence == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		session, _, err := s.recurrence.Resolve(ctx, exec, id)
		return session, err
	}
	session, err := s.sessions.GetByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, err
	}
	return session, nil
}

// materialize stores a virtual occurrence so it can be mutated. Stored sessions pass through.
func (s *LifecycleService) materialize(ctx context.Context, exec sqlx.ExtContext, session *models.LessonSession, actor string) (*models.LessonSession, error) {
	if !session.Virtual {
		return session, nil
	}
	stored := session.Clone()
	stored.ID = ""
	stored.Virtual = false
	stored.CreatedAt = time.Time{}
	if err := s.sessions.Create(ctx, exec, &stored); err != nil {
		return nil, err
	}
	if _, err := s.history.Record(ctx, exec, HistoryEntry{
		SessionID:   stored.ID,
		Type:        models.HistoryEventCreated,
		NewValue:    snapshotOf(&stored),
		Actor:       actor,
		Description: "materialized from template",
	}); err != nil {
		return nil, err
	}
	return &stored, nil
}

// placeNew locks the target resources, re-checks conflicts inside the transaction and inserts session.
func (s *LifecycleService) placeNew(ctx context.Context, exec sqlx.ExtContext, session *models.LessonSession, excludeID string) error {
	if err := s.sessions.LockResources(ctx, exec, models.LockKeys(*session, session.LessonDate)); err != nil {
		return err
	}
	conflicts, err := s.conflicts.CheckWith(ctx, exec, models.CandidatesFor(*session, session.LessonDate, session.StartTime, session.EndTime, excludeID)...)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return conflictError(conflicts)
	}
	return s.sessions.Create(ctx, exec, session)
}

// transition writes patch guarded by the session's current status.
func (s *LifecycleService) transition(ctx context.Context, exec sqlx.ExtContext, source *models.LessonSession, patch models.SessionPatch) (*models.LessonSession, error) {
	if patch.Status != nil && !source.Status.CanTransitionTo(*patch.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move session from %s to %s", source.Status, *patch.Status))
	}
	expected := source.Status
	patch.ExpectStatus = &expected
	updated, err := s.sessions.Update(ctx, exec, source.ID, patch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "session was modified concurrently; reload and retry")
		}
		return nil, err
	}
	return updated, nil
}

// seriesMembers returns the anchor and the scheduled occurrences of its group from the
// later of the anchor date and today, including virtual ones within the series horizon.
func (s *LifecycleService) seriesMembers(ctx context.Context, id string) (*models.LessonSession, []models.LessonSession, error) {
	anchor, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	if anchor.GroupID == nil || *anchor.GroupID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "session does not belong to a group series")
	}
	if anchor.Status != models.SessionStatusScheduled {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is %s and cannot anchor a series operation", anchor.Status))
	}

	from := anchor.LessonDate
	if now := today(s.clock); from.Before(now) {
		from = now
	}
	stored, err := s.sessions.List(ctx, nil, models.SessionFilter{
		DateFrom: from,
		GroupID:  *anchor.GroupID,
		Statuses: []models.SessionStatus{models.SessionStatusScheduled},
	})
	if err != nil {
		return nil, nil, err
	}

	members := make([]models.LessonSession, 0, len(stored)+1)
	seen := make(map[string]struct{}, len(stored)+1)
	members = append(members, *anchor)
	seen[anchor.ID] = struct{}{}
	for _, session := range stored {
		if _, dup := seen[session.ID]; dup {
			continue
		}
		seen[session.ID] = struct{}{}
		members = append(members, session)
	}

	if s.recurrence != nil {
		horizonDays := int(s.cfg.SeriesHorizon / (24 * time.Hour))
		to := anchor.LessonDate.AddDays(horizonDays)
		if !to.Before(from) {
			virtual, err := s.recurrence.Virtual(ctx, nil, models.TemplateFilter{GroupID: *anchor.GroupID}, from, to)
			if err != nil {
				return nil, nil, err
			}
			for _, session := range virtual {
				if _, dup := seen[session.ID]; dup {
					continue
				}
				seen[session.ID] = struct{}{}
				members = append(members, session)
			}
		}
	}

	sortSessions(members)
	return anchor, members, nil
}

func (s *LifecycleService) finishBatch(result *models.BatchResult, anchorID string) {
	sort.SliceStable(result.Succeeded, func(i, j int) bool {
		return result.Succeeded[i].Source.LessonDate.Before(result.Succeeded[j].Source.LessonDate)
	})
	if result.Partial() {
		s.metrics.RecordTransition(result.Operation+"_series", OutcomePartial)
		s.logger.Warn("series operation partially failed",
			zap.String("operation", result.Operation),
			zap.String("session_id", anchorID),
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failed)))
		return
	}
	s.metrics.RecordTransition(result.Operation+"_series", OutcomeSuccess)
}

func (s *LifecycleService) ensureNotPast(date models.Date) error {
	if date.Before(today(s.clock)) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("target date %s is in the past", date))
	}
	return nil
}

func (s *LifecycleService) endsInFuture(session models.LessonSession) bool {
	now := today(s.clock)
	if session.LessonDate.After(now) {
		return true
	}
	return session.LessonDate.Equal(now) && session.EndTime > nowTimeOfDay(s.clock)
}

func (s *LifecycleService) observe(operation string, err error) {
	s.metrics.RecordTransition(operation, outcomeOf(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case appErrors.HasCode(err, appErrors.ErrConflict.Code):
		return OutcomeConflict
	case appErrors.HasCode(err, appErrors.ErrValidation.Code), appErrors.HasCode(err, appErrors.ErrNotFound.Code):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

func batchFailure(session models.LessonSession, err error) models.BatchFailure {
	typed := appErrors.FromError(err)
	failure := models.BatchFailure{Session: session, Code: typed.Code, Message: typed.Message}
	var conflict *models.SessionConflictError
	if errors.As(err, &conflict) {
		failure.Conflicts = conflict.Conflicts
	}
	return failure
}

func samePlacement(a, b models.LessonSession) bool {
	return a.LessonDate.Equal(b.LessonDate) &&
		a.StartTime == b.StartTime &&
		a.EndTime == b.EndTime &&
		a.TeacherName == b.TeacherName &&
		a.Classroom == b.Classroom
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
