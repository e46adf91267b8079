// Package models implements model uploads and the IFC ingestion pipeline.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/metro-bim/internal/application"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
	"github.com/bryanwahyu/metro-bim/internal/domain/files"
)

// MaxElementsPerCategory caps extraction; extra elements are dropped silently.
const MaxElementsPerCategory = 100

// InternalErrorMessage is stored on a document when ingestion fails after parsing.
const InternalErrorMessage = "internal error while processing the model"

// Service implements use-cases untuk ModelDocument.
// Objects, Failures and Rules are optional.
type Service struct {
	Repo     bim.Repository
	Parser   bim.Parser
	Files    files.Resolver
	Objects  files.ObjectStore
	Failures failures.Repository
	Rules    []bim.Rule
	Clock    application.Clock
	Log      logrus.FieldLogger
}

//
// ==== USE CASES ====
//

// UploadCommand registers a model file already written under the uploads root.
type UploadCommand struct {
	ProjectID string
	FilePath  string
}

// Upload registers a processing document for the project, replacing any prior
// document together with its elements and comparisons.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*bim.Document, error) {
	if strings.TrimSpace(cmd.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", bim.ErrInvalidInput)
	}
	abs, err := files.Locate(s.Files, cmd.FilePath)
	if err != nil {
		return nil, err
	}

	doc := &bim.Document{
		ID:         bim.DocumentID(uuid.New().String()),
		ProjectID:  cmd.ProjectID,
		FileURL:    cmd.FilePath,
		Status:     bim.StatusProcessing,
		UploadedAt: s.Clock.Now(),
	}
	if s.Objects != nil {
		key := fmt.Sprintf("models/%s/%s", doc.ID, filepath.Base(abs))
		url, err := s.Objects.Upload(ctx, abs, key)
		if err != nil {
			// archive is best effort; the local copy is what ingestion reads
			s.logger().WithError(err).WithField("document_id", doc.ID).Warn("archive model")
		} else {
			doc.FileURL = url
		}
	}
	if err := s.Repo.ReplaceForProject(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	return doc, nil
}

// Get returns the document with its elements and comparisons.
func (s *Service) Get(ctx context.Context, id bim.DocumentID) (*DocumentView, error) {
	doc, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", bim.ErrNotFound, id)
	}
	els, err := s.Repo.ListElements(ctx, id)
	if err != nil {
		return nil, err
	}
	cmps, err := s.Repo.ListComparisons(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentView{Document: doc, Elements: els, Comparisons: cmps}, nil
}

// DocumentView is a document with its owned collections.
type DocumentView struct {
	*bim.Document
	Elements    []bim.Element    `json:"elements"`
	Comparisons []bim.Comparison `json:"comparisons"`
}

// Ingest parses the model at filePath into elements and moves the document to
// ready or error. It is idempotent: re-running replaces elements and comparisons.
func (s *Service) Ingest(ctx context.Context, id bim.DocumentID, filePath string) (*bim.Document, error) {
	log := s.logger().WithField("document_id", id)
	doc, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", bim.ErrNotFound, id)
	}

	abs, err := files.Locate(s.Files, filePath)
	if err != nil {
		return doc, s.markError(ctx, doc, "resolve", err.Error(), err)
	}

	model, err := s.Parser.Open(abs)
	if err != nil {
		// the sentinel text leads the message
		return doc, s.markError(ctx, doc, "parse", err.Error(), err)
	}

	elements := s.extract(model, id, log)
	if err := s.Repo.ReplaceElements(ctx, id, elements); err != nil {
		return doc, s.markError(ctx, doc, "persist", InternalErrorMessage, err)
	}
	doc.MarkReady(model.Schema(), len(elements), s.Clock.Now())
	if err := s.Repo.Update(ctx, doc); err != nil {
		return doc, s.markError(ctx, doc, "persist", InternalErrorMessage, err)
	}
	log.WithFields(logrus.Fields{"schema": doc.Schema, "elements": doc.ElementsCount}).Info("model ingested")

	if err := s.compare(ctx, id, elements); err != nil {
		// heuristics never change the ready status
		log.WithError(err).Warn("heuristic comparison pass")
	}
	return doc, nil
}

// extract reads every supported category, capping each at MaxElementsPerCategory.
func (s *Service) extract(model bim.Model, id bim.DocumentID, log logrus.FieldLogger) []bim.Element {
	var out []bim.Element
	for _, cat := range bim.Categories {
		raws := model.ElementsByCategory(cat)
		if len(raws) > MaxElementsPerCategory {
			raws = raws[:MaxElementsPerCategory]
		}
		for _, raw := range raws {
			el, err := toElement(raw, cat, id)
			if err != nil {
				log.WithError(err).WithField("category", cat).Warn("skip element")
				continue
			}
			out = append(out, el)
		}
	}
	return out
}

func toElement(raw bim.RawElement, cat bim.Category, id bim.DocumentID) (bim.Element, error) {
	name, err := raw.Name()
	if err != nil {
		return bim.Element{}, err
	}
	tag, err := raw.Tag()
	if err != nil {
		return bim.Element{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%s_%s", cat, raw.ID())
	}
	return bim.Element{
		ID:         uuid.New().String(),
		DocumentID: id,
		ExternalID: raw.ID(),
		Name:       name,
		Category:   cat,
		Code:       tag,
		Properties: map[string]any{},
	}, nil
}

func (s *Service) compare(ctx context.Context, id bim.DocumentID, elements []bim.Element) error {
	rules := s.Rules
	if rules == nil {
		rules = bim.DefaultRules()
	}
	now := s.Clock.Now()
	var out []bim.Comparison
	for _, r := range rules {
		f, ok := r.Evaluate(elements)
		if !ok {
			continue
		}
		out = append(out, bim.Comparison{
			ID:          uuid.New().String(),
			DocumentID:  id,
			Category:    f.Category,
			Description: f.Description,
			Severity:    f.Severity,
			ElementID:   f.ElementID,
			Details:     f.Details,
			CreatedAt:   now,
		})
	}
	return s.Repo.ReplaceComparisons(ctx, id, out)
}

// markError moves the document to error and returns cause for the caller.
func (s *Service) markError(ctx context.Context, doc *bim.Document, phase, msg string, cause error) error {
	log := s.logger().WithFields(logrus.Fields{"document_id": doc.ID, "phase": phase})
	doc.MarkError(msg, s.Clock.Now())
	ctx = context.WithoutCancel(ctx)
	if err := s.Repo.Update(ctx, doc); err != nil {
		log.WithError(err).Error("mark document error")
	}
	log.WithError(cause).Warn("model ingestion failed")
	s.journal(ctx, doc.ID, phase, msg, cause)
	return fmt.Errorf("ingest %s: %w", doc.ID, cause)
}

func (s *Service) journal(ctx context.Context, id bim.DocumentID, phase, msg string, cause error) {
	if s.Failures == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	entry := &failures.Entry{
		Unit:        failures.UnitIngestion,
		EntityID:    string(id),
		Phase:       phase,
		Message:     msg,
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Failures.Save(ctx, entry); err != nil {
		s.logger().WithError(err).Warn("save failure entry")
	}
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
