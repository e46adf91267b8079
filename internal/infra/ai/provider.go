package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domai "github.com/bryanwahyu/metro-bim/internal/domain/ai"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/infra/ai/prompt"
)

// Models selects the provider model per operation.
type Models struct {
	BIM        string
	Image      string
	Comparison string
}

// Adapter implements analysis.Analyzer on top of an ai.Capability.
// Provider failures never leave this type: they degrade to the fallback payload.
type Adapter struct {
	capability domai.Capability
	fallback   domai.Capability
	degraded   bool
	models     Models
	log        logrus.FieldLogger
	now        func() time.Time
}

var _ analysis.Analyzer = (*Adapter)(nil)

// NewAdapter picks the strategy once. A nil live capability puts the adapter
// in fallback mode for its whole lifetime.
func NewAdapter(live domai.Capability, models Models, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Adapter{
		capability: live,
		fallback:   FallbackCapability{},
		models:     models,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if live == nil {
		a.capability, a.degraded = a.fallback, true
		log.Warn("no analysis provider configured; running in fallback mode")
	}
	return a
}

// FallbackMode reports whether the adapter never calls out.
func (a *Adapter) FallbackMode() bool { return a.degraded }

func (a *Adapter) AnalyzeBIM(ctx context.Context, sourceURI, projectContext string) (*analysis.Result, error) {
	return a.analyze(ctx, analysis.KindBIM, sourceURI, prompt.BIMPrompt(sourceURI, projectContext), a.models.BIM)
}

func (a *Adapter) AnalyzeImage(ctx context.Context, sourceURI, projectContext string) (*analysis.Result, error) {
	return a.analyze(ctx, analysis.KindImage, sourceURI, prompt.ImagePrompt(sourceURI, projectContext), a.models.Image)
}

func (a *Adapter) Compare(ctx context.Context, projectName string, bim, image *analysis.Result) (*analysis.Comparison, error) {
	if bim == nil || image == nil {
		return nil, fmt.Errorf("%w: comparison needs both analyses", analysis.ErrInvalidInput)
	}
	var payload prompt.ComparisonPayload
	user := prompt.ComparisonPrompt(projectName, bim.Summary, image.Summary)
	_, err := a.complete(ctx, "comparison", user, a.models.Comparison, func(text string) error {
		p, err := prompt.ParseComparison(text)
		if err == nil {
			payload = p
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return analysis.NewComparison(
		uuid.NewString(),
		*payload.SimilarityScore,
		*payload.CompletionPercentage,
		*payload.Summary,
		payload.Mismatches,
		a.now(),
	), nil
}

func (a *Adapter) analyze(ctx context.Context, kind analysis.Kind, sourceURI, user, model string) (*analysis.Result, error) {
	var (
		payload prompt.AnalysisPayload
		issues  []analysis.DetectedIssue
	)
	raw, err := a.complete(ctx, string(kind), user, model, func(text string) error {
		p, is, err := prompt.ParseAnalysis(text)
		if err == nil {
			payload, issues = p, is
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	now := a.now()
	res := &analysis.Result{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      analysis.StatusCompleted,
		SourceURI:   sourceURI,
		Summary:     *payload.Summary,
		RawOutput:   raw,
		Issues:      issues,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if payload.RawOutput != nil && *payload.RawOutput != "" {
		res.RawOutput = *payload.RawOutput
	}
	switch kind {
	case analysis.KindBIM:
		res.Notes = deref(payload.ComplianceNotes)
	case analysis.KindImage:
		res.Notes = deref(payload.ObservedConditions)
	}
	return res, nil
}

// complete runs the selected capability and validates its answer with parse.
// In live mode any failure is replaced by the fallback payload.
func (a *Adapter) complete(ctx context.Context, stage, user, model string, parse func(string) error) (string, error) {
	system := prompt.GetSystemPrompt()
	text, err := a.capability.Submit(ctx, system, user, model)
	if err == nil && strings.TrimSpace(text) == "" {
		err = domai.ErrEmptyResponse
	}
	if err == nil {
		if err = parse(text); err == nil {
			return text, nil
		}
	}
	if a.degraded {
		return "", fmt.Errorf("fallback payload rejected: %w", err)
	}

	entry := a.log.WithError(err).WithFields(logrus.Fields{"stage": stage, "model": model})
	if errors.Is(err, domai.ErrQuotaExceeded) {
		entry.Warn("provider quota exceeded; using fallback payload")
	} else {
		entry.Warn("provider call degraded to fallback payload")
	}
	text, err = a.fallback.Submit(ctx, system, user, model)
	if err != nil {
		return "", fmt.Errorf("fallback capability: %w", err)
	}
	if err := parse(text); err != nil {
		return "", fmt.Errorf("fallback payload rejected: %w", err)
	}
	return text, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
