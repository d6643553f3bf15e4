package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/rag"
)

const (
	// queueDepth bounds the number of run records waiting to be written.
	// ObserveQuery drops records once the queue is full.
	queueDepth = 256

	// persistTimeout bounds a single archive write.
	persistTimeout = 5 * time.Second

	// fragmentTxRetries is the retry budget for the identity ledger upsert.
	fragmentTxRetries = 3
)

// =============================================================================
// Models
// =============================================================================

// QueryRun is one pipeline run flattened into a row. Rows are append-only;
// nothing in the engine reads them back.
type QueryRun struct {
	ID            uint   `gorm:"primaryKey"`
	RequestID     string `gorm:"size:36;index"`
	Query         string `gorm:"size:2048"`
	Intent        string `gorm:"size:16;index"`
	CacheHit      bool
	Decomposed    bool
	Variants      int
	Retrieved     int
	Reranked      int
	Used          int
	ContextChars  int
	TokenEstimate int
	Confidence    int
	ElapsedMS     int64
	Failed        bool
	CreatedAt     time.Time `gorm:"index"`
}

// KnownFragment is one row of the fragment identity ledger. The primary key
// is the stable content identity from rag.FragmentID, so re-ingesting
// unchanged content updates last_seen instead of minting a new row.
type KnownFragment struct {
	ID          string `gorm:"primaryKey;size:32"`
	Source      string `gorm:"size:512;index"`
	SourceLabel string `gorm:"size:128"`
	Position    int
	FirstSeen   time.Time
	LastSeen    time.Time
	SeenCount   int64
}

// =============================================================================
// Archive
// =============================================================================

// Archive persists run records and fragment identities to a relational
// database. It implements rag.MetricsSink with a buffered queue and a single
// writer goroutine, so observing a query never blocks the pipeline.
type Archive struct {
	pool   *Pool
	logger *zap.Logger

	queue chan rag.RunRecord
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

var _ rag.MetricsSink = (*Archive)(nil)

// Open connects to the configured database, ensures the schema exists and
// starts the writer goroutine.
func Open(cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dial, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	pool, err := NewPool(db, poolConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}

	// Versioned migrations cover operated deployments; AutoMigrate keeps
	// zero-setup sqlite archives working.
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&QueryRun{}, &KnownFragment{}); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate archive schema: %w", err)
		}
	}

	a := &Archive{
		pool:   pool,
		logger: logger.With(zap.String("component", "archive")),
		queue:  make(chan rag.RunRecord, queueDepth),
	}
	a.wg.Add(1)
	go a.worker()

	a.logger.Info("archive opened", zap.String("driver", strings.ToLower(cfg.Driver)))

	return a, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("archive driver %q not supported", driver)
	}
}

func poolConfigFrom(cfg config.ArchiveConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	pc.HealthCheckInterval = cfg.HealthCheckInterval
	return pc
}

// Close drains the queue, stops the writer and closes the pool. It is safe
// to call more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()

	if n := a.dropped.Load(); n > 0 {
		a.logger.Warn("archive dropped run records under backpressure", zap.Uint64("dropped", n))
	}

	return a.pool.Close()
}

// Dropped reports how many run records were discarded because the write
// queue was full.
func (a *Archive) Dropped() uint64 {
	return a.dropped.Load()
}

// PoolStats reports connection pool counters for diagnostics.
func (a *Archive) PoolStats() PoolStats {
	return a.pool.GetStats()
}

// =============================================================================
// rag.MetricsSink implementation
// =============================================================================

// ObserveQuery enqueues a run record for the writer goroutine. When the
// queue is full the record is dropped and counted.
func (a *Archive) ObserveQuery(rec rag.RunRecord) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- rec:
	default:
		a.dropped.Add(1)
	}
}

// ObserveAgentFailure is a no-op; agent failures are counter signals with no
// per-row value.
func (a *Archive) ObserveAgentFailure(agent string) {}

// ObserveCacheEviction is a no-op; the cache keeps its own eviction count.
func (a *Archive) ObserveCacheEviction() {}

func (a *Archive) worker() {
	defer a.wg.Done()

	for rec := range a.queue {
		if err := a.persist(rec); err != nil {
			a.logger.Warn("archive insert failed",
				zap.String("request_id", rec.RequestID),
				zap.Error(err),
			)
		}
	}
}

func (a *Archive) persist(rec rag.RunRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	run := newQueryRun(rec)
	return a.pool.DB().WithContext(ctx).Create(&run).Error
}

func newQueryRun(rec rag.RunRecord) QueryRun {
	return QueryRun{
		RequestID:     rec.RequestID,
		Query:         rec.Query,
		Intent:        string(rec.Intent),
		CacheHit:      rec.CacheHit,
		Decomposed:    rec.Decomposed,
		Variants:      rec.Variants,
		Retrieved:     rec.Retrieved,
		Reranked:      rec.Reranked,
		Used:          rec.Used,
		ContextChars:  rec.ContextChars,
		TokenEstimate: rec.TokenEstimate,
		Confidence:    rec.Confidence,
		ElapsedMS:     rec.Elapsed.Milliseconds(),
		Failed:        rec.Failed,
	}
}

// =============================================================================
// Fragment identity ledger
// =============================================================================

// RecordFragments upserts fragment identities into the ledger. New
// identities get a first_seen timestamp; known ones bump last_seen and
// seen_count. Duplicate IDs within one call are collapsed before the write.
func (a *Archive) RecordFragments(ctx context.Context, fragments []rag.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(fragments))
	rows := make([]KnownFragment, 0, len(fragments))
	for _, f := range fragments {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		rows = append(rows, KnownFragment{
			ID:          f.ID,
			Source:      f.Source,
			SourceLabel: f.SourceLabel,
			Position:    f.Position,
			FirstSeen:   now,
			LastSeen:    now,
			SeenCount:   1,
		})
	}

	return a.pool.WithTransactionRetry(ctx, fragmentTxRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_seen":  now,
				"seen_count": gorm.Expr("seen_count + 1"),
			}),
		}).Create(&rows).Error
	})
}

// KnownFragmentCount returns the number of distinct fragment identities.
func (a *Archive) KnownFragmentCount(ctx context.Context) (int64, error) {
	var n int64
	err := a.pool.DB().WithContext(ctx).Model(&KnownFragment{}).Count(&n).Error
	return n, err
}

// =============================================================================
// Aggregates
// =============================================================================

// Stats is the archive-wide aggregate view used by the stats command.
type Stats struct {
	Runs           int64            `json:"runs"`
	CacheHits      int64            `json:"cache_hits"`
	Failures       int64            `json:"failures"`
	AvgElapsedMS   float64          `json:"avg_elapsed_ms"`
	AvgConfidence  float64          `json:"avg_confidence"`
	PerIntent      map[string]int64 `json:"per_intent"`
	KnownFragments int64            `json:"known_fragments"`
}

// Stats aggregates the whole run table.
func (a *Archive) Stats(ctx context.Context) (Stats, error) {
	db := a.pool.DB().WithContext(ctx)

	var s Stats
	if err := db.Model(&QueryRun{}).Count(&s.Runs).Error; err != nil {
		return Stats{}, fmt.Errorf("count runs: %w", err)
	}
	if err := db.Model(&QueryRun{}).Where("cache_hit = ?", true).Count(&s.CacheHits).Error; err != nil {
		return Stats{}, fmt.Errorf("count cache hits: %w", err)
	}
	if err := db.Model(&QueryRun{}).Where("failed = ?", true).Count(&s.Failures).Error; err != nil {
		return Stats{}, fmt.Errorf("count failures: %w", err)
	}

	if s.Runs > 0 {
		var avg struct {
			ElapsedMS  float64
			Confidence float64
		}
		err := db.Model(&QueryRun{}).
			Select("AVG(elapsed_ms) AS elapsed_ms, AVG(confidence) AS confidence").
			Scan(&avg).Error
		if err != nil {
			return Stats{}, fmt.Errorf("aggregate runs: %w", err)
		}
		s.AvgElapsedMS = avg.ElapsedMS
		s.AvgConfidence = avg.Confidence
	}

	type intentCount struct {
		Intent string
		N      int64
	}
	var counts []intentCount
	err := db.Model(&QueryRun{}).
		Select("intent, COUNT(*) AS n").
		Group("intent").
		Scan(&counts).Error
	if err != nil {
		return Stats{}, fmt.Errorf("group by intent: %w", err)
	}
	s.PerIntent = make(map[string]int64, len(counts))
	for _, c := range counts {
		s.PerIntent[c.Intent] = c.N
	}

	if err := db.Model(&KnownFragment{}).Count(&s.KnownFragments).Error; err != nil {
		return Stats{}, fmt.Errorf("count fragments: %w", err)
	}

	return s, nil
}

// RecentRuns returns the newest limit runs, newest first.
func (a *Archive) RecentRuns(ctx context.Context, limit int) ([]QueryRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []QueryRun
	err := a.pool.DB().WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	return runs, nil
}
