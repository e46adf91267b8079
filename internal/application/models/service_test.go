package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/metro-bim/internal/application"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/files"
	"github.com/bryanwahyu/metro-bim/internal/infra/db/memory"
	infrafiles "github.com/bryanwahyu/metro-bim/internal/infra/files"
	"github.com/bryanwahyu/metro-bim/internal/infra/ifc"
)

const ifcHeader = "ISO-10303-21;\nHEADER;\nFILE_DESCRIPTION((''),'2;1');\nFILE_SCHEMA(('IFC2X3'));\nENDSEC;\n"

func ifcModel(instances ...string) string {
	return ifcHeader + "DATA;\n" + strings.Join(instances, "\n") + "\nENDSEC;\nEND-ISO-10303-21;\n"
}

func wall(id int, name string) string {
	return fmt.Sprintf("#%d=IFCWALLSTANDARDCASE('g%d',$,%s,$,$,$,$,'W-%d');", id, id, name, id)
}

type recordingStore struct {
	keys []string
	err  error
}

func (r *recordingStore) Upload(_ context.Context, localPath, key string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.keys = append(r.keys, key)
	return "http://minio:9000/metro/" + key, nil
}

type fixture struct {
	svc   *Service
	store *memory.Store
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	resolver, err := infrafiles.NewResolver(root)
	require.NoError(t, err)
	l := logrus.New()
	l.SetOutput(io.Discard)
	store := memory.New()
	return &fixture{
		svc: &Service{
			Repo:     store.Documents(),
			Parser:   ifc.Parser{},
			Files:    resolver,
			Failures: store.Failures(),
			Clock:    application.NewStepClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Second),
			Log:      l,
		},
		store: store,
		root:  root,
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.root, name), []byte(content), 0o644))
	return name
}

func (f *fixture) upload(t *testing.T, project, name, content string) *bim.Document {
	t.Helper()
	doc, err := f.svc.Upload(context.Background(), UploadCommand{ProjectID: project, FilePath: f.write(t, name, content)})
	require.NoError(t, err)
	require.Equal(t, bim.StatusProcessing, doc.Status)
	return doc
}

func TestIngestThreeWalls(t *testing.T) {
	f := newFixture(t)
	content := ifcModel(wall(10, "'Parede 1'"), wall(11, "$"), wall(12, "'Parede 3'"))
	doc := f.upload(t, "p1", "walls.ifc", content)

	got, err := f.svc.Ingest(context.Background(), doc.ID, "walls.ifc")
	require.NoError(t, err)
	assert.Equal(t, bim.StatusReady, got.Status)
	assert.Equal(t, 3, got.ElementsCount)
	assert.Equal(t, "IFC2X3", got.Schema)
	require.NotNil(t, got.ProcessedAt)

	view, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, view.Elements, 3)
	assert.Equal(t, "wall_11", view.Elements[1].Name)
	assert.Equal(t, "W-10", view.Elements[0].Code)
	assert.NotNil(t, view.Elements[0].Properties)

	require.Len(t, view.Comparisons, 2)
	cats := map[string]bim.Severity{}
	for _, c := range view.Comparisons {
		cats[c.Category] = c.Severity
	}
	assert.Equal(t, map[string]bim.Severity{"completeness": bim.SeverityMedium, "structural": bim.SeverityLow}, cats)
}

func TestIngestCapsEachCategory(t *testing.T) {
	f := newFixture(t)
	var inst []string
	for i := 1; i <= 130; i++ {
		inst = append(inst, wall(i, "$"))
	}
	inst = append(inst, "#500=IFCSLAB('s',$,'Laje',$,$,$,$,$);")
	doc := f.upload(t, "p1", "big.ifc", ifcModel(inst...))

	got, err := f.svc.Ingest(context.Background(), doc.ID, "big.ifc")
	require.NoError(t, err)
	assert.Equal(t, MaxElementsPerCategory+1, got.ElementsCount)

	view, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, view.Comparisons, 1, "enough elements, so only the wall finding")
	assert.Equal(t, "structural", view.Comparisons[0].Category)
}

func TestIngestSkipsBrokenElements(t *testing.T) {
	f := newFixture(t)
	content := ifcModel(wall(1, "'ok'"), "#2=IFCBEAM('g',$,42,$,$,$,$,$);")
	doc := f.upload(t, "p1", "m.ifc", content)

	got, err := f.svc.Ingest(context.Background(), doc.ID, "m.ifc")
	require.NoError(t, err)
	assert.Equal(t, bim.StatusReady, got.Status)
	assert.Equal(t, 1, got.ElementsCount)
}

func TestIngestEmptyFileIsUnrecognized(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "empty.ifc", "")

	_, err := f.svc.Ingest(context.Background(), doc.ID, "empty.ifc")
	require.ErrorIs(t, err, bim.ErrUnrecognizedFormat)

	stored, err := f.store.Documents().Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, bim.StatusError, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "unrecognized")

	journal, err := f.store.Failures().ListByEntity(context.Background(), string(doc.ID), 0)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "parse", journal[0].Phase)
}

func TestIngestTruncatedIsParseError(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "cut.ifc", ifcHeader+"DATA;\n#1=IFCWALL('a',$,'W")

	_, err := f.svc.Ingest(context.Background(), doc.ID, "cut.ifc")
	require.ErrorIs(t, err, bim.ErrParse)

	stored, err := f.store.Documents().Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, bim.StatusError, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "parse error")
	assert.NotContains(t, stored.ErrorMessage, "unrecognized")
}

func TestIngestMissingFile(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "m.ifc", ifcModel(wall(1, "$")))

	_, err := f.svc.Ingest(context.Background(), doc.ID, "gone.ifc")
	require.ErrorIs(t, err, files.ErrFileNotFound)
	stored, _ := f.store.Documents().Get(context.Background(), doc.ID)
	assert.Equal(t, bim.StatusError, stored.Status)

	_, err = f.svc.Ingest(context.Background(), "unknown", "m.ifc")
	assert.ErrorIs(t, err, bim.ErrNotFound)
}

// failingElements makes element persistence fail after a successful parse.
type failingElements struct {
	bim.Repository
}

func (failingElements) ReplaceElements(context.Context, bim.DocumentID, []bim.Element) error {
	return errors.New("disk full")
}

func TestIngestPersistenceFailureIsInternalError(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "m.ifc", ifcModel(wall(1, "$")))
	f.svc.Repo = failingElements{f.store.Documents()}

	_, err := f.svc.Ingest(context.Background(), doc.ID, "m.ifc")
	require.Error(t, err)
	stored, _ := f.store.Documents().Get(context.Background(), doc.ID)
	assert.Equal(t, bim.StatusError, stored.Status)
	assert.Equal(t, InternalErrorMessage, stored.ErrorMessage)
}

// failingComparisons breaks only the heuristic pass.
type failingComparisons struct {
	bim.Repository
}

func (failingComparisons) ReplaceComparisons(context.Context, bim.DocumentID, []bim.Comparison) error {
	return errors.New("comparisons table locked")
}

func TestHeuristicFailureKeepsReady(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "m.ifc", ifcModel(wall(1, "$")))
	f.svc.Repo = failingComparisons{f.store.Documents()}

	got, err := f.svc.Ingest(context.Background(), doc.ID, "m.ifc")
	require.NoError(t, err)
	assert.Equal(t, bim.StatusReady, got.Status)
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "p1", "m.ifc", ifcModel(wall(1, "$"), wall(2, "$")))
	for i := 0; i < 2; i++ {
		_, err := f.svc.Ingest(context.Background(), doc.ID, "m.ifc")
		require.NoError(t, err)
	}
	view, err := f.svc.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, view.Elements, 2)
	assert.Len(t, view.Comparisons, 2)
}

func TestUploadReplacesPriorDocumentAndArchives(t *testing.T) {
	f := newFixture(t)
	objects := &recordingStore{}
	f.svc.Objects = objects

	first := f.upload(t, "p1", "a.ifc", ifcModel(wall(1, "$")))
	_, err := f.svc.Ingest(context.Background(), first.ID, "a.ifc")
	require.NoError(t, err)

	second := f.upload(t, "p1", "b.ifc", ifcModel(wall(1, "$")))
	assert.True(t, strings.HasPrefix(second.FileURL, "http://minio:9000/metro/models/"))
	require.Len(t, objects.keys, 2)
	assert.Equal(t, fmt.Sprintf("models/%s/b.ifc", second.ID), objects.keys[1])

	_, err = f.svc.Get(context.Background(), first.ID)
	assert.ErrorIs(t, err, bim.ErrNotFound)
	els, err := f.store.Documents().ListElements(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Empty(t, els)
}

func TestUploadArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.svc.Objects = &recordingStore{err: errors.New("minio down")}
	doc := f.upload(t, "p1", "a.ifc", ifcModel(wall(1, "$")))
	assert.Equal(t, "a.ifc", doc.FileURL)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), UploadCommand{ProjectID: "", FilePath: "x.ifc"})
	assert.ErrorIs(t, err, bim.ErrInvalidInput)

	_, err = f.svc.Upload(context.Background(), UploadCommand{ProjectID: "p", FilePath: "absent.ifc"})
	assert.ErrorIs(t, err, files.ErrFileNotFound)
}
