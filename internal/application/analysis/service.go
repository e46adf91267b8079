// Package analysis runs the project analysis use cases: BIM analysis, image
// analysis and their comparison, aggregated into one AnalysisRun.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/metro-bim/internal/application"
	domain "github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Service implements the orchestrator use cases.
// Service is safe for concurrent use; runs share nothing but the repository.
// Failures is optional.
type Service struct {
	Repo     domain.Repository
	Analyzer domain.Analyzer
	Failures failures.Repository
	Clock    application.Clock
	Log      logrus.FieldLogger
}

//
// ==== USE CASES ====
//

// ExecuteCommand starts a new run.
type ExecuteCommand struct {
	ProjectName    string
	RequestedBy    string
	BimSourceURI   string
	ImageSourceURI string
	Context        string
}

func (c ExecuteCommand) validate() error {
	var missing []string
	if strings.TrimSpace(c.ProjectName) == "" {
		missing = append(missing, "project_name")
	}
	if strings.TrimSpace(c.BimSourceURI) == "" {
		missing = append(missing, "bim_source_uri")
	}
	if strings.TrimSpace(c.ImageSourceURI) == "" {
		missing = append(missing, "image_source_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// Execute creates a run and drives it to a terminal state. On a stage failure
// the run is persisted as failed before an *ExecutionError is returned.
func (s *Service) Execute(ctx context.Context, cmd ExecuteCommand) (*domain.Run, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	run := domain.NewRun(domain.RunID(uuid.New().String()),
		strings.TrimSpace(cmd.ProjectName), cmd.RequestedBy, cmd.BimSourceURI, cmd.ImageSourceURI, now)
	if _, err := s.Repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := run.MarkRunning(s.Clock.Now()); err != nil {
		return nil, err
	}
	if _, err := s.Repo.Update(ctx, run); err != nil {
		return s.fail(ctx, run, "start", err)
	}
	return s.drive(ctx, run, cmd.Context)
}

// Retry re-executes a pending, running or failed run in place.
func (s *Service) Retry(ctx context.Context, id domain.RunID, projectContext string) (*domain.Run, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !run.Retryable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, id)
	}
	if err := run.MarkRunning(s.Clock.Now()); err != nil {
		return nil, err
	}
	if _, err := s.Repo.Update(ctx, run); err != nil {
		return s.fail(ctx, run, "start", err)
	}
	return s.drive(ctx, run, projectContext)
}

// Get returns ErrNotFound when the run does not exist.
func (s *Service) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	run, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return run, nil
}

// ListRecent returns the newest runs; limit defaults to 20 and is capped at 100.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	return s.Repo.ListRecent(ctx, ClampLimit(limit))
}

// ClampLimit applies the listing defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// drive runs the three stages strictly in order.
func (s *Service) drive(ctx context.Context, run *domain.Run, projectContext string) (*domain.Run, error) {
	log := s.logger().WithField("run_id", run.ID)

	bim, err := s.Analyzer.AnalyzeBIM(ctx, run.BimSourceURI, projectContext)
	if err != nil {
		return s.fail(ctx, run, "bim", err)
	}
	image, err := s.Analyzer.AnalyzeImage(ctx, run.ImageSourceURI, projectContext)
	if err != nil {
		return s.fail(ctx, run, "image", err)
	}
	cmp, err := s.Analyzer.Compare(ctx, run.ProjectName, bim, image)
	if err != nil {
		return s.fail(ctx, run, "comparison", err)
	}
	if err := run.MarkCompleted(bim, image, cmp, s.Clock.Now()); err != nil {
		return s.fail(ctx, run, "complete", err)
	}

	// terminal state is persisted even if the caller has gone away
	if _, err := s.Repo.Update(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Error("persist completed run")
		return s.fail(ctx, run, "persist", err)
	}
	log.WithField("completion", cmp.CompletionPercentage).Info("analysis run completed")
	return run, nil
}

func (s *Service) fail(ctx context.Context, run *domain.Run, stage string, cause error) (*domain.Run, error) {
	log := s.logger().WithFields(logrus.Fields{"run_id": run.ID, "stage": stage})
	run.MarkFailed(fmt.Sprintf("%s stage: %v", stage, cause), s.Clock.Now())
	if _, err := s.Repo.Update(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Error("persist failed run")
		return nil, fmt.Errorf("persist failed run %s: %w", run.ID, errors.Join(err, cause))
	}
	log.WithError(cause).Warn("analysis run failed")
	s.journal(ctx, run, stage, cause)
	return run, &domain.ExecutionError{RunID: run.ID, Stage: stage, Err: cause}
}

func (s *Service) journal(ctx context.Context, run *domain.Run, stage string, cause error) {
	if s.Failures == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"project": run.ProjectName, "error": cause.Error()})
	entry := &failures.Entry{
		Unit:        failures.UnitAnalysis,
		EntityID:    string(run.ID),
		Phase:       stage,
		Message:     run.Notes,
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Failures.Save(context.WithoutCancel(ctx), entry); err != nil {
		s.logger().WithError(err).WithField("run_id", run.ID).Warn("save failure entry")
	}
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
