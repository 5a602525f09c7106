package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
)

type directoryRepository interface {
	Load(ctx context.Context, branch string) (*models.ResourceDirectory, error)
}

// DirectoryService provides cached teacher, classroom and group lookups for display.
// Failures degrade to an empty directory; conflict and lifecycle logic never depend on it.
type DirectoryService struct {
	repo   directoryRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectoryService constructs the service. cache may be nil.
func NewDirectoryService(repo directoryRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func directoryCacheKey(branch string) string {
	if branch == "" {
		branch = "_all"
	}
	return fmt.Sprintf("directory:%s", branch)
}

// Load returns the directory snapshot for branch.
func (s *DirectoryService) Load(ctx context.Context, branch string) *models.ResourceDirectory {
	empty := &models.ResourceDirectory{Branch: branch}
	if s == nil || s.repo == nil {
		return empty
	}

	var dir models.ResourceDirectory
	err := s.cache.Remember(ctx, directoryCacheKey(branch), s.ttl, &dir, func(ctx context.Context) (interface{}, error) {
		return s.repo.Load(ctx, branch)
	})
	if err != nil {
		s.logger.Warn("resource directory unavailable", zap.String("branch", branch), zap.Error(err))
		return empty
	}
	return &dir
}

// Invalidate drops cached directory snapshots.
func (s *DirectoryService) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, "directory:*")
}

// Enrich fills capacity from the classroom directory when the session carries none.
func (s *DirectoryService) Enrich(dir *models.ResourceDirectory, session *models.LessonSession) {
	if dir == nil || session == nil || session.Capacity > 0 {
		return
	}
	if room := dir.Classroom(session.Branch, session.Classroom); room != nil {
		session.Capacity = room.Capacity
	}
}
