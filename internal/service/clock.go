package service

import (
	"time"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

// Clock supplies the current time in the school's timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// NewSystemClock returns a wall clock reporting time in loc (UTC when nil).
func NewSystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// today returns the current calendar date observed by clock.
func today(clock Clock) models.Date {
	return models.DateOf(clock.Now(), clock.Location())
}

// nowTimeOfDay returns the current wall-clock minute observed by clock.
func nowTimeOfDay(clock Clock) models.TimeOfDay {
	now := clock.Now().In(clock.Location())
	return models.NewTimeOfDay(now.Hour(), now.Minute())
}
