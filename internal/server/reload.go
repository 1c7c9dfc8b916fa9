package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/data"
)

var ErrReloadInProgress = errors.New("reload already in progress")

// Purger drops every cached snapshot.
type Purger interface {
	Purge()
}

// ReloadManager re-reads the appointment files and swaps them into the
// running source.
type ReloadManager struct {
	source  *data.ReloadableSource
	cache   Purger // optional
	dataDir string
	loc     *time.Location
	clock   clockwork.Clock
	logger  *zap.Logger

	reloadMu sync.Mutex // prevents concurrent reloads

	stateMu  sync.RWMutex
	loadedAt time.Time
	tenants  int
}

func NewReloadManager(
	source *data.ReloadableSource,
	cache Purger,
	dataDir string,
	loc *time.Location,
	clock clockwork.Clock,
	logger *zap.Logger,
) *ReloadManager {
	return &ReloadManager{
		source:   source,
		cache:    cache,
		dataDir:  dataDir,
		loc:      loc,
		clock:    clock,
		logger:   logger,
		loadedAt: clock.Now(),
	}
}

// LoadedAt returns when the current data was loaded.
func (rm *ReloadManager) LoadedAt() time.Time {
	rm.stateMu.RLock()
	defer rm.stateMu.RUnlock()
	return rm.loadedAt
}

// ReloadResult contains the result of a successful reload operation.
type ReloadResult struct {
	PreviousLoadedAt time.Time
	LoadedAt         time.Time
	Tenants          int
}

// Reload loads the data directory and swaps it in. On error the previous
// data stays in place.
func (rm *ReloadManager) Reload(ctx context.Context) (*ReloadResult, error) {
	if !rm.reloadMu.TryLock() {
		return nil, ErrReloadInProgress
	}
	defer rm.reloadMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	previous := rm.LoadedAt()
	rm.logger.Info("starting data reload", zap.String("dir", rm.dataDir))

	store, err := data.LoadMemoryStore(rm.dataDir, rm.loc, rm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", rm.dataDir, err)
	}
	tenants := len(store.Tenants())
	if tenants == 0 {
		_ = store.Close()
		return nil, fmt.Errorf("no appointment files found in %s", rm.dataDir)
	}

	old := rm.source.Swap(store)
	if rm.cache != nil {
		rm.cache.Purge()
	}

	rm.stateMu.Lock()
	rm.loadedAt = rm.clock.Now()
	rm.tenants = tenants
	loadedAt := rm.loadedAt
	rm.stateMu.Unlock()

	if err := old.Close(); err != nil {
		rm.logger.Warn("failed to close old source", zap.Error(err))
	}

	rm.logger.Info("data reload complete",
		zap.Time("loadedAt", loadedAt),
		zap.Int("tenants", tenants),
	)

	return &ReloadResult{
		PreviousLoadedAt: previous,
		LoadedAt:         loadedAt,
		Tenants:          tenants,
	}, nil
}
