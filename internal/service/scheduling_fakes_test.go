package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time           { return c.now }
func (c *fixedClock) Location() *time.Location { return c.now.Location() }

func clockAt(raw string) *fixedClock {
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, time.UTC)
	if err != nil {
		panic(err)
	}
	return &fixedClock{now: t}
}

// memSessionStore is an in-memory lesson session store honouring status preconditions.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.LessonSession
	order    []string
	seq      int
	locked   [][]string
	failOn   map[string]error
}

func newMemSessionStore(seed ...models.LessonSession) *memSessionStore {
	store := &memSessionStore{sessions: map[string]models.LessonSession{}, failOn: map[string]error{}}
	for _, s := range seed {
		s := s
		if err := store.Create(context.Background(), nil, &s); err != nil {
			panic(err)
		}
	}
	return store
}

func (m *memSessionStore) Create(_ context.Context, _ sqlx.ExtContext, session *models.LessonSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["create"]; err != nil {
		return err
	}
	if session.ID == "" {
		m.seq++
		session.ID = fmt.Sprintf("new-%d", m.seq)
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	session.Virtual = false
	session.SyncDayOfWeek()
	m.sessions[session.ID] = session.Clone()
	m.order = append(m.order, session.ID)
	return nil
}

func (m *memSessionStore) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.LessonSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := s.Clone()
	return &out, nil
}

func (m *memSessionStore) Update(_ context.Context, _ sqlx.ExtContext, id string, patch models.SessionPatch) (*models.LessonSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if patch.ExpectStatus != nil && s.Status != *patch.ExpectStatus {
		return nil, sql.ErrNoRows
	}
	patch.Apply(&s)
	m.sessions[id] = s
	out := s.Clone()
	return &out, nil
}

func (m *memSessionStore) all() []models.LessonSession {
	out := make([]models.LessonSession, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].Clone())
	}
	sortSessions(out)
	return out
}

func (m *memSessionStore) List(_ context.Context, _ sqlx.ExtContext, filter models.SessionFilter) ([]models.LessonSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["list"]; err != nil {
		return nil, err
	}
	var out []models.LessonSession
	for _, s := range m.all() {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessionStore) ListOverlapping(_ context.Context, _ sqlx.ExtContext, candidate models.ConflictCandidate) ([]models.LessonSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LessonSession
	for _, s := range m.all() {
		if s.OverlapsWith(candidate.Date, candidate.Start, candidate.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessionStore) ListBySources(_ context.Context, _ sqlx.ExtContext, templateIDs []string, from, to models.Date) ([]models.LessonSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range templateIDs {
		wanted[id] = true
	}
	var out []models.LessonSession
	for _, s := range m.all() {
		if s.RecurrenceSourceID != nil && wanted[*s.RecurrenceSourceID] && s.LessonDate.Within(from, to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessionStore) LockResources(_ context.Context, _ sqlx.ExtContext, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, append([]string(nil), keys...))
	return nil
}

func (m *memSessionStore) get(t *testing.T, id string) models.LessonSession {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		t.Fatalf("session %s not stored", id)
	}
	return s
}

func (m *memSessionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// memTemplateStore serves recurring templates from memory.
type memTemplateStore struct {
	templates []models.RecurringTemplate
}

func (m *memTemplateStore) GetByID(_ context.Context, id string) (*models.RecurringTemplate, error) {
	for _, tpl := range m.templates {
		if tpl.ID == id {
			out := tpl
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memTemplateStore) List(_ context.Context, filter models.TemplateFilter) ([]models.RecurringTemplate, error) {
	var out []models.RecurringTemplate
	for _, tpl := range m.templates {
		switch {
		case filter.Branch != "" && tpl.Branch != filter.Branch:
			continue
		case filter.Teacher != "" && tpl.TeacherName != filter.Teacher:
			continue
		case filter.Classroom != "" && tpl.Classroom != filter.Classroom:
			continue
		case filter.GroupID != "" && (tpl.GroupID == nil || *tpl.GroupID != filter.GroupID):
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}

// memHistoryRepo records history events in append order.
type memHistoryRepo struct {
	mu     sync.Mutex
	events []models.HistoryEvent
}

func (m *memHistoryRepo) Append(_ context.Context, _ sqlx.ExtContext, event *models.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = fmt.Sprintf("evt-%d", len(m.events)+1)
	m.events = append(m.events, *event)
	return nil
}

func (m *memHistoryRepo) LastChangedAt(_ context.Context, _ sqlx.ExtContext, sessionID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, e := range m.events {
		if e.SessionID == sessionID && e.ChangedAt.After(last) {
			last = e.ChangedAt
		}
	}
	return last, nil
}

func (m *memHistoryRepo) ListBySession(_ context.Context, sessionID string) ([]models.HistoryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HistoryEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

func (m *memHistoryRepo) ofType(sessionID string, eventType models.HistoryEventType) []models.HistoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HistoryEvent
	for _, e := range m.events {
		if e.SessionID == sessionID && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// passthroughTx runs fn directly. Rollback is not simulated.
type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	p.calls++
	return fn(nil)
}

type lifecycleFixture struct {
	service   *LifecycleService
	sessions  *memSessionStore
	templates *memTemplateStore
	history   *memHistoryRepo
	conflicts *ConflictService
	clock     *fixedClock
}

func newLifecycleFixture(clock *fixedClock, templates []models.RecurringTemplate, seed ...models.LessonSession) *lifecycleFixture {
	sessions := newMemSessionStore(seed...)
	tplStore := &memTemplateStore{templates: templates}
	historyRepo := &memHistoryRepo{}
	recurrence := NewRecurrenceService(tplStore, sessions, zap.NewNop())
	conflicts := NewConflictService(sessions, recurrence, nil, zap.NewNop())
	history := NewHistoryService(historyRepo, clock, zap.NewNop())
	svc := NewLifecycleService(sessions, &passthroughTx{}, recurrence, conflicts, history, clock, validator.New(), nil, zap.NewNop(), LifecycleConfig{SeriesHorizon: 60 * 24 * time.Hour})
	return &lifecycleFixture{service: svc, sessions: sessions, templates: tplStore, history: historyRepo, conflicts: conflicts, clock: clock}
}

func lesson(id, teacher, classroom, date, start, end string) models.LessonSession {
	return models.LessonSession{
		ID:          id,
		TeacherName: teacher,
		Branch:      "center",
		Classroom:   classroom,
		LessonDate:  models.MustParseDate(date),
		StartTime:   models.MustParseTimeOfDay(start),
		EndTime:     models.MustParseTimeOfDay(end),
		Status:      models.SessionStatusScheduled,
		Capacity:    10,
	}
}

func inGroup(s models.LessonSession, groupID string) models.LessonSession {
	s.GroupID = &groupID
	return s
}
