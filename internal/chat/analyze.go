package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stage is one step of the analysis progress sequence.
type Stage struct {
	Name     string `json:"stage"`
	Progress int    `json:"progress"`
}

var (
	StageInitializing = Stage{Name: "Initializing", Progress: 10}
	StageProcessing   = Stage{Name: "Processing", Progress: 30}
	StageExtracting   = Stage{Name: "Extracting concepts", Progress: 60}
	StageFinalizing   = Stage{Name: "Finalizing", Progress: 90}
	StageComplete     = Stage{Name: "Complete", Progress: 100}
	StageFailed       = Stage{Name: "Failed", Progress: 0}
)

const (
	initializingDelay = 500 * time.Millisecond
	extractingDelay   = 800 * time.Millisecond
)

// Analyze runs concept extraction for the bound session, reporting each
// stage to onProgress. The analyzer is called during the Processing stage.
// It returns the number of concepts extracted.
func (s *Session) Analyze(ctx context.Context, onProgress func(Stage)) (int, error) {
	s.mu.Lock()
	state, id := s.state, s.id
	s.mu.Unlock()
	if state != Active && state != ReadOnly {
		return 0, ErrNotReady
	}
	if id == "" {
		return 0, ErrNoSession
	}
	if s.opts.Analyzer == nil {
		return 0, fmt.Errorf("analyze: no analyzer configured")
	}

	emit := func(st Stage) {
		if onProgress != nil {
			onProgress(st)
		}
	}
	failed := func(err error) (int, error) {
		emit(StageFailed)
		s.logger().Warn("analysis failed", zap.Error(err))
		return 0, err
	}

	emit(StageInitializing)
	if err := s.opts.Sleep(ctx, initializingDelay); err != nil {
		return failed(err)
	}

	emit(StageProcessing)
	result, err := s.opts.Analyzer.Analyze(ctx, id)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrAnalysisFailed, err))
	}
	if !result.Success {
		return failed(fmt.Errorf("%w: %s", ErrAnalysisFailed, result.Error))
	}

	emit(StageExtracting)
	if err := s.opts.Sleep(ctx, extractingDelay); err != nil {
		return failed(err)
	}
	emit(StageFinalizing)
	emit(StageComplete)

	s.logger().Info("analysis complete", zap.Int("concepts", result.ConceptsExtracted))
	return result.ConceptsExtracted, nil
}
