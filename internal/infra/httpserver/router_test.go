package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/metro-bim/internal/application"
	appanalysis "github.com/bryanwahyu/metro-bim/internal/application/analysis"
	appevidence "github.com/bryanwahyu/metro-bim/internal/application/evidence"
	appmodels "github.com/bryanwahyu/metro-bim/internal/application/models"
	"github.com/bryanwahyu/metro-bim/internal/application/worker"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
	infraai "github.com/bryanwahyu/metro-bim/internal/infra/ai"
	"github.com/bryanwahyu/metro-bim/internal/infra/db/memory"
	infrafiles "github.com/bryanwahyu/metro-bim/internal/infra/files"
	"github.com/bryanwahyu/metro-bim/internal/infra/ifc"
)

const threeWalls = "ISO-10303-21;\nHEADER;\nFILE_SCHEMA(('IFC4'));\nENDSEC;\nDATA;\n" +
	"#1=IFCWALL('a',$,'W1',$,$,$,$,$);\n#2=IFCWALL('b',$,'W2',$,$,$,$,$);\n#3=IFCWALL('c',$,$,$,$,$,$,$);\n" +
	"ENDSEC;\nEND-ISO-10303-21;\n"

type server struct {
	h     http.Handler
	exec  *worker.Executor
	store *memory.Store
}

func newServer(t *testing.T, keys map[string]string) *server {
	t.Helper()
	root := t.TempDir()
	resolver, err := infrafiles.NewResolver(root)
	require.NoError(t, err)

	l := logrus.New()
	l.SetOutput(io.Discard)
	store := memory.New()
	clock := application.SystemClock{}
	adapter := infraai.NewAdapter(nil, infraai.Models{}, l)
	exec := worker.New(2)
	exec.Log = l
	exec.Failures = store.Failures()

	h := NewRouter(Deps{
		Analyses: &appanalysis.Service{Repo: store.Runs(), Analyzer: adapter, Failures: store.Failures(), Clock: clock, Log: l},
		Models: &appmodels.Service{
			Repo: store.Documents(), Parser: ifc.Parser{}, Files: resolver, Failures: store.Failures(), Clock: clock, Log: l,
		},
		Evidence: &appevidence.Service{
			Repo: store.Evidence(), Analyzer: adapter, Files: resolver, Failures: store.Failures(), Clock: clock, Log: l,
		},
		Executor:   exec,
		Failures:   store.Failures(),
		UploadsDir: root,
		APIKeys:    keys,
		Log:        l,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = exec.Shutdown(ctx)
	})
	return &server{h: h, exec: exec, store: store}
}

func (s *server) do(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRunAnalysis(t *testing.T) {
	s := newServer(t, nil)

	var run analysis.Run
	code := s.do(t, jsonRequest(http.MethodPost, "/v1/analyses",
		`{"project_name":"Linha 6","bim_source_uri":"s3://bim/estacao.ifc","image_source_uri":"https://cdn.example.com/frente.jpg"}`), &run)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, analysis.StatusCompleted, run.Status)
	require.NotNil(t, run.Comparison)

	var got analysis.Run
	require.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+string(run.ID), nil), &got))
	assert.Equal(t, run.ID, got.ID)

	var list []analysis.Run
	require.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses?limit=5", nil), &list))
	assert.Len(t, list, 1)

	code = s.do(t, jsonRequest(http.MethodPost, "/v1/analyses/"+string(run.ID)+"/retry", ""), nil)
	assert.Equal(t, http.StatusConflict, code, "completed runs are not retried")
}

func TestRunAnalysisErrors(t *testing.T) {
	s := newServer(t, nil)

	bodies := []string{
		`{`,
		`{"bim_source_uri":"s3://b/a.ifc","image_source_uri":"s3://b/a.jpg"}`,
		`{"project_name":"p","bim_source_uri":"ftp://x/a.ifc","image_source_uri":"s3://b/a.jpg"}`,
	}
	for _, body := range bodies {
		assert.Equal(t, http.StatusBadRequest, s.do(t, jsonRequest(http.MethodPost, "/v1/analyses", body), nil), body)
	}

	var e map[string]string
	assert.Equal(t, http.StatusNotFound, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses/nope", nil), &e))
	assert.Contains(t, e["error"], "not found")
	assert.Equal(t, http.StatusBadRequest, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses?limit=x", nil), nil))
}

func TestModelUploadAndIngest(t *testing.T) {
	s := newServer(t, nil)

	var doc bim.Document
	code := s.do(t, multipartRequest(t, "/v1/projects/linha-6/models", "estacao.ifc", threeWalls, nil), &doc)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, bim.StatusProcessing, doc.Status)
	s.exec.Wait()

	var view struct {
		bim.Document
		Elements    []bim.Element    `json:"elements"`
		Comparisons []bim.Comparison `json:"comparisons"`
	}
	require.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/models/"+string(doc.ID), nil), &view))
	assert.Equal(t, bim.StatusReady, view.Status)
	assert.Equal(t, 3, view.ElementsCount)
	assert.Len(t, view.Elements, 3)
	assert.Len(t, view.Comparisons, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(t, multipartRequest(t, "/v1/projects/linha-6/models", "planta.dwg", "x", nil), nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, multipartRequest(t, "/v1/projects/linha%206/models", "a.ifc", "x", nil), nil))
}

func TestBrokenModelIsJournaled(t *testing.T) {
	s := newServer(t, nil)

	var doc bim.Document
	require.Equal(t, http.StatusAccepted, s.do(t, multipartRequest(t, "/v1/projects/p1/models", "vazio.ifc", "", nil), &doc))
	s.exec.Wait()

	var got bim.Document
	s.do(t, httptest.NewRequest(http.MethodGet, "/v1/models/"+string(doc.ID), nil), &got)
	assert.Equal(t, bim.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "unrecognized")

	var entries []failures.Entry
	require.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/failures/"+string(doc.ID), nil), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, failures.UnitIngestion, entries[0].Unit)

	assert.Equal(t, http.StatusBadRequest, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/failures/nope", nil), nil))
}

func TestEvidenceFlow(t *testing.T) {
	s := newServer(t, nil)

	var e evidence.Evidence
	code := s.do(t, multipartRequest(t, "/v1/projects/p1/evidence", "frente.jpg", "\xff\xd8\xff", map[string]string{"description": "fachada"}), &e)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, evidence.StatusPending, e.Status)
	assert.Equal(t, "fachada", e.Description)

	require.Equal(t, http.StatusAccepted, s.do(t, httptest.NewRequest(http.MethodPost, "/v1/evidence/"+string(e.ID)+"/analyze", nil), nil))
	s.exec.Wait()

	var view appevidence.View
	require.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/evidence/"+string(e.ID), nil), &view))
	assert.Equal(t, evidence.StatusCompleted, view.Status)
	assert.NotEmpty(t, view.Issues)

	// completed items can be analyzed again
	require.Equal(t, http.StatusAccepted, s.do(t, httptest.NewRequest(http.MethodPost, "/v1/evidence/"+string(e.ID)+"/analyze", nil), nil))
	s.exec.Wait()

	assert.Equal(t, http.StatusNotFound, s.do(t, httptest.NewRequest(http.MethodPost, "/v1/evidence/nope/analyze", nil), nil))
}

func TestAnalyzeEvidenceStillProcessingIsConflict(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()

	var e evidence.Evidence
	require.Equal(t, http.StatusCreated, s.do(t, multipartRequest(t, "/v1/projects/p1/evidence", "lateral.jpg", "\xff\xd8\xff", nil), &e))

	// left in processing by a unit that no longer runs, not stale yet
	stored, err := s.store.Evidence().Get(ctx, e.ID)
	require.NoError(t, err)
	require.NoError(t, stored.StartProcessing(time.Now().UTC()))
	require.NoError(t, s.store.Evidence().UpdateStatus(ctx, stored))

	var body map[string]string
	assert.Equal(t, http.StatusConflict, s.do(t, httptest.NewRequest(http.MethodPost, "/v1/evidence/"+string(e.ID)+"/analyze", nil), &body))
	assert.Contains(t, body["error"], "processing")
	s.exec.Wait()

	after, err := s.store.Evidence().Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.StatusProcessing, after.Status)
}

func TestAuthAndHealth(t *testing.T) {
	s := newServer(t, map[string]string{"ops": "k1"})

	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), nil))
	assert.Equal(t, http.StatusOK, s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, httptest.NewRequest(http.MethodGet, "/v1/analyses", nil), nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
	req.Header.Set("Authorization", "Bearer k1")
	assert.Equal(t, http.StatusOK, s.do(t, req, nil))
}
