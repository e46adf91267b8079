// Package evidence implements site photo registration and analysis.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/metro-bim/internal/application"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
	"github.com/bryanwahyu/metro-bim/internal/domain/files"
)

// ProjectContext is sent with every photo; evidence items carry no project description.
const ProjectContext = "Construction project"

// Service implements use-cases untuk Evidence.
// Objects and Failures are optional; StaleAfter defaults to evidence.DefaultStaleAfter.
type Service struct {
	Repo       evidence.Repository
	Analyzer   analysis.Analyzer
	Files      files.Resolver
	Objects    files.ObjectStore
	Failures   failures.Repository
	StaleAfter time.Duration
	Clock      application.Clock
	Log        logrus.FieldLogger
}

// View is an evidence item with its issues.
type View struct {
	*evidence.Evidence
	Issues []evidence.Issue `json:"issues"`
}

//
// ==== USE CASES ====
//

// RegisterCommand registers a photo already written under the uploads root.
type RegisterCommand struct {
	ProjectID   string
	FilePath    string
	Description string
}

// Register creates a pending evidence item and archives the photo.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*evidence.Evidence, error) {
	if strings.TrimSpace(cmd.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", evidence.ErrInvalidInput)
	}
	abs, err := files.Locate(s.Files, cmd.FilePath)
	if err != nil {
		return nil, err
	}
	e := &evidence.Evidence{
		ID:          evidence.ID(uuid.New().String()),
		ProjectID:   cmd.ProjectID,
		FilePath:    cmd.FilePath,
		Description: cmd.Description,
		Status:      evidence.StatusPending,
		UploadedAt:  s.Clock.Now(),
	}
	if s.Objects != nil {
		url, err := s.Objects.Upload(ctx, abs, fmt.Sprintf("evidence/%s/%s", e.ID, filepath.Base(abs)))
		if err != nil {
			s.logger().WithError(err).WithField("evidence_id", e.ID).Warn("archive photo")
		} else {
			e.FileURL = url
		}
	}
	if err := s.Repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("register evidence: %w", err)
	}
	return e, nil
}

// Get returns the item with its issues.
func (s *Service) Get(ctx context.Context, id evidence.ID) (*View, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	issues, err := s.Repo.ListIssues(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Evidence: e, Issues: issues}, nil
}

// Requeue resets the item to pending so it can be analyzed again.
// A processing item is only reset once it has gone stale.
func (s *Service) Requeue(ctx context.Context, id evidence.ID) (*evidence.Evidence, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == evidence.StatusPending {
		return e, nil
	}
	if err := e.Requeue(s.Clock.Now(), s.staleAfter()); err != nil {
		return e, err
	}
	if err := s.Repo.UpdateStatus(ctx, e); err != nil {
		return nil, fmt.Errorf("requeue evidence: %w", err)
	}
	return e, nil
}

// Sweep requeues every item stuck in processing past the staleness window and
// returns their ids so the caller can resubmit them.
func (s *Service) Sweep(ctx context.Context) ([]evidence.ID, error) {
	cutoff := s.Clock.Now().Add(-s.staleAfter())
	stuck, err := s.Repo.ListProcessingSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale evidence: %w", err)
	}
	var out []evidence.ID
	for _, e := range stuck {
		if _, err := s.Requeue(ctx, e.ID); err != nil {
			s.logger().WithError(err).WithField("evidence_id", e.ID).Warn("requeue stale evidence")
			continue
		}
		out = append(out, e.ID)
	}
	return out, nil
}

// Analyze runs the photo at filePath through image analysis and stores one issue
// per finding. Items that are not pending are requeued first, so a completed or
// failed item can be re-run. The item always ends completed or error.
func (s *Service) Analyze(ctx context.Context, id evidence.ID, filePath string) (*evidence.Evidence, error) {
	e, err := s.Requeue(ctx, id)
	if err != nil {
		return e, err
	}
	log := s.logger().WithField("evidence_id", id)

	abs, err := files.Locate(s.Files, filePath)
	if err != nil {
		return e, s.fail(ctx, e, "resolve", err)
	}

	if err := e.StartProcessing(s.Clock.Now()); err != nil {
		return e, err
	}
	if err := s.Repo.UpdateStatus(ctx, e); err != nil {
		return e, s.fail(ctx, e, "persist", err)
	}

	res, err := s.Analyzer.AnalyzeImage(ctx, "file://"+abs, ProjectContext)
	if err != nil {
		return e, s.fail(ctx, e, "analyze", err)
	}
	if res == nil {
		return e, s.fail(ctx, e, "analyze", errors.New("analyzer returned no result"))
	}

	now := s.Clock.Now()
	issues := make([]evidence.Issue, 0, len(res.Issues))
	for _, di := range res.Issues {
		issues = append(issues, evidence.Issue{
			ID:          uuid.New().String(),
			EvidenceID:  id,
			Type:        evidence.DefaultIssueType,
			Description: di.Description,
			Confidence:  di.Confidence,
			Severity:    string(di.Severity),
			Location:    di.LocationHint,
			CreatedAt:   now,
		})
	}
	if err := s.Repo.ReplaceIssues(ctx, id, issues); err != nil {
		return e, s.fail(ctx, e, "persist", err)
	}

	if err := e.Complete(s.Clock.Now()); err != nil {
		return e, s.fail(ctx, e, "persist", err)
	}
	if err := s.Repo.UpdateStatus(context.WithoutCancel(ctx), e); err != nil {
		return e, s.fail(ctx, e, "persist", err)
	}
	log.WithField("issues", len(issues)).Info("evidence analyzed")
	return e, nil
}

func (s *Service) load(ctx context.Context, id evidence.ID) (*evidence.Evidence, error) {
	e, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", evidence.ErrNotFound, id)
	}
	return e, nil
}

// fail moves the item to error and journals the cause.
func (s *Service) fail(ctx context.Context, e *evidence.Evidence, phase string, cause error) error {
	log := s.logger().WithFields(logrus.Fields{"evidence_id": e.ID, "phase": phase})
	e.Fail()
	ctx = context.WithoutCancel(ctx)
	if err := s.Repo.UpdateStatus(ctx, e); err != nil {
		log.WithError(err).Error("mark evidence error")
	}
	log.WithError(cause).Warn("evidence analysis failed")

	if s.Failures != nil {
		details, _ := json.Marshal(map[string]string{"error": cause.Error()})
		entry := &failures.Entry{
			Unit:        failures.UnitEvidence,
			EntityID:    string(e.ID),
			Phase:       phase,
			Message:     cause.Error(),
			DetailsJSON: string(details),
			CreatedAt:   s.Clock.Now(),
		}
		if err := s.Failures.Save(ctx, entry); err != nil {
			log.WithError(err).Warn("save failure entry")
		}
	}
	return fmt.Errorf("analyze evidence %s: %w", e.ID, cause)
}

func (s *Service) staleAfter() time.Duration {
	if s.StaleAfter <= 0 {
		return evidence.DefaultStaleAfter
	}
	return s.StaleAfter
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
