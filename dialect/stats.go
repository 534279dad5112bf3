package dialect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/strata/log"
)

// QueryStats holds statement execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalCommands is the total number of commands executed.
	TotalCommands atomic.Int64
	// TotalSessions is the total number of sessions started.
	TotalSessions atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalCommands: s.TotalCommands.Load(),
		TotalSessions: s.TotalSessions.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalCommands.Store(0)
	s.TotalSessions.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalCommands int64
	TotalSessions int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgDuration returns the average statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.TotalQueries + s.TotalCommands
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d commands=%d sessions=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalCommands, s.TotalSessions, s.TotalDuration, s.AvgDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsAdapter wraps an Adapter with statistics collection.
type StatsAdapter struct {
	Adapter
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsAdapter.
type StatsOption func(*StatsAdapter)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsAdapter) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsAdapter) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level.
func WithSlowQueryLog(l log.Logger) StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.Log(ctx, log.LevelWarn, "slow query detected",
			log.Duration("duration", duration), log.String("query", query), log.Int("args", len(args)))
	})
}

// NewStatsAdapter wraps an Adapter with statistics collection.
//
// Example:
//
//	stats := dialect.NewStatsAdapter(adapter,
//	    dialect.WithSlowThreshold(200*time.Millisecond),
//	    dialect.WithSlowQueryLog(logger),
//	)
//	svc := crud.New(stats, registry)
//
//	// Later, check statistics:
//	fmt.Println(stats.QueryStats().Stats())
func NewStatsAdapter(a Adapter, opts ...StatsOption) *StatsAdapter {
	s := &StatsAdapter{
		Adapter:       a,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unwrap returns the wrapped adapter.
func (s *StatsAdapter) Unwrap() Adapter { return s.Adapter }

// QueryStats returns the underlying QueryStats for reading statistics.
func (s *StatsAdapter) QueryStats() *QueryStats {
	return s.stats
}

// SlowThreshold returns the current slow statement threshold.
func (s *StatsAdapter) SlowThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (s *StatsAdapter) SetSlowThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = threshold
}

// StartSession starts a session and counts it.
func (s *StatsAdapter) StartSession(ctx context.Context) (Session, error) {
	sess, err := s.Adapter.StartSession(ctx)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	s.stats.TotalSessions.Add(1)
	return sess, nil
}

// ExecuteQuery executes a query and records statistics.
func (s *StatsAdapter) ExecuteQuery(ctx context.Context, query string, args []any) (Result, error) {
	start := time.Now()
	res, err := s.Adapter.ExecuteQuery(ctx, query, args)
	s.record(ctx, query, args, start, err, true)
	return res, err
}

// ExecuteCommand executes a command and records statistics.
func (s *StatsAdapter) ExecuteCommand(ctx context.Context, query string, args []any) (int64, error) {
	start := time.Now()
	n, err := s.Adapter.ExecuteCommand(ctx, query, args)
	s.record(ctx, query, args, start, err, false)
	return n, err
}

func (s *StatsAdapter) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		s.stats.TotalQueries.Add(1)
	} else {
		s.stats.TotalCommands.Add(1)
	}
	s.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		s.stats.Errors.Add(1)
	}

	s.mu.RLock()
	threshold := s.slowThreshold
	hook := s.slowHook
	s.mu.RUnlock()

	if duration > threshold {
		s.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

// DebugAdapter wraps an Adapter with debug logging of every statement.
type DebugAdapter struct {
	Adapter
	logger log.Logger
}

// NewDebugAdapter wraps an Adapter with debug logging.
//
// Example:
//
//	debug := dialect.NewDebugAdapter(adapter, logger)
func NewDebugAdapter(a Adapter, l log.Logger) *DebugAdapter {
	return &DebugAdapter{Adapter: a, logger: log.OrNop(l)}
}

// Unwrap returns the wrapped adapter.
func (d *DebugAdapter) Unwrap() Adapter { return d.Adapter }

// StartSession starts a session whose lifecycle is logged.
func (d *DebugAdapter) StartSession(ctx context.Context) (Session, error) {
	d.logger.Log(ctx, log.LevelDebug, "start session")
	sess, err := d.Adapter.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return &debugSession{Session: sess, logger: d.logger}, nil
}

// ExecuteQuery logs the query and executes it.
func (d *DebugAdapter) ExecuteQuery(ctx context.Context, query string, args []any) (Result, error) {
	d.logger.Log(ctx, log.LevelDebug, "query", log.String("statement", query), log.Any("args", args))
	return d.Adapter.ExecuteQuery(ctx, query, args)
}

// ExecuteCommand logs the command and executes it.
func (d *DebugAdapter) ExecuteCommand(ctx context.Context, query string, args []any) (int64, error) {
	d.logger.Log(ctx, log.LevelDebug, "command", log.String("statement", query), log.Any("args", args))
	return d.Adapter.ExecuteCommand(ctx, query, args)
}

// debugSession logs transaction lifecycle calls. Adapters reach the
// session they created through UnwrapSession.
type debugSession struct {
	Session
	logger log.Logger
}

func (s *debugSession) BeginTransaction(ctx context.Context) error {
	s.logger.Log(ctx, log.LevelDebug, "begin transaction")
	return s.Session.BeginTransaction(ctx)
}

func (s *debugSession) Commit(ctx context.Context) error {
	s.logger.Log(ctx, log.LevelDebug, "commit transaction")
	return s.Session.Commit(ctx)
}

func (s *debugSession) Rollback(ctx context.Context) error {
	s.logger.Log(ctx, log.LevelDebug, "rollback transaction")
	return s.Session.Rollback(ctx)
}

// Unwrap returns the wrapped session.
func (s *debugSession) Unwrap() Session { return s.Session }

// Ensure interfaces are implemented.
var (
	_ Adapter = (*StatsAdapter)(nil)
	_ Adapter = (*DebugAdapter)(nil)
)
