// Package scheduler re-runs concept analysis for ended sessions on a cron
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/user/folio/internal/types"
)

// DefaultStaleAfter is how long a session may sit in processing before a
// sweep treats the analysis as interrupted.
const DefaultStaleAfter = 15 * time.Minute

// DefaultMaxAttempts bounds how often one sweeper retries a session.
const DefaultMaxAttempts = 3

// Analyzer is the concept-extraction boundary.
type Analyzer interface {
	Analyze(ctx context.Context, id types.SessionID) (types.AnalysisResult, error)
}

// Lister returns the sessions a sweep considers.
type Lister interface {
	List(ctx context.Context) ([]*types.Session, error)
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether schedule parses as a cron schedule.
func ValidateSchedule(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Sweeper finds ended sessions whose analysis is pending, failed or stuck
// in processing and analyzes them again.
type Sweeper struct {
	store    Lister
	analyzer Analyzer
	logger   *zap.Logger
	now      func() time.Time

	staleAfter  time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts map[types.SessionID]int
	cron     *cron.Cron
}

type Option func(*Sweeper)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Sweeper) { s.staleAfter = d }
}

func WithMaxAttempts(n int) Option {
	return func(s *Sweeper) { s.maxAttempts = n }
}

func New(store Lister, analyzer Analyzer, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		analyzer:    analyzer,
		logger:      zap.NewNop(),
		now:         time.Now,
		staleAfter:  DefaultStaleAfter,
		maxAttempts: DefaultMaxAttempts,
		attempts:    make(map[types.SessionID]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// due reports whether sess needs another analysis attempt.
func (s *Sweeper) due(sess *types.Session) bool {
	if !sess.Ended() {
		return false
	}
	switch sess.AnalysisStatus {
	case types.AnalysisPending, types.AnalysisFailed:
		return true
	case types.AnalysisProcessing:
		return s.now().Sub(sess.UpdatedAt) >= s.staleAfter
	}
	return false
}

// Sweep runs one pass and returns how many sessions were analyzed
// successfully.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	done := 0
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if !s.due(sess) {
			continue
		}
		s.mu.Lock()
		n := s.attempts[sess.ID]
		if n >= s.maxAttempts {
			s.mu.Unlock()
			continue
		}
		s.attempts[sess.ID] = n + 1
		s.mu.Unlock()

		log := s.logger.With(zap.String("session_id", string(sess.ID)), zap.Int("attempt", n+1))
		res, err := s.analyzer.Analyze(ctx, sess.ID)
		switch {
		case err != nil:
			log.Warn("sweep analysis error", zap.Error(err))
		case !res.Success:
			log.Warn("sweep analysis failed", zap.String("error", res.Error))
		default:
			done++
			s.mu.Lock()
			delete(s.attempts, sess.ID)
			s.mu.Unlock()
			log.Info("sweep analysis complete", zap.Int("concepts", res.ConceptsExtracted))
		}
	}
	return done, nil
}

// Start runs Sweep on schedule until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("analysis sweep", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("analysis sweeper started", zap.String("schedule", schedule))
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
