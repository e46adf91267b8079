package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	_ analysis.Repository = (*RunRepository)(nil)
	_ bim.Repository      = (*DocumentRepository)(nil)
	_ evidence.Repository = (*EvidenceRepository)(nil)
	_ failures.Repository = (*FailureRepository)(nil)
)

func TestRunsAreCopied(t *testing.T) {
	ctx := context.Background()
	repo := New().Runs()
	run := analysis.NewRun("r1", "p", "", "a", "b", t0)
	_, err := repo.Create(ctx, run)
	require.NoError(t, err)

	run.Notes = "mutated after create"
	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.Notes)

	_, err = repo.Create(ctx, run)
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	repo.Delete("r1")
	_, err = repo.Update(ctx, run)
	assert.ErrorIs(t, err, analysis.ErrNotFound)
}

func TestDocumentsCascade(t *testing.T) {
	ctx := context.Background()
	repo := New().Documents()
	require.NoError(t, repo.ReplaceForProject(ctx, &bim.Document{ID: "d1", ProjectID: "p", UploadedAt: t0}))
	require.NoError(t, repo.ReplaceElements(ctx, "d1", []bim.Element{{ID: "e", ExternalID: "1"}}))

	err := repo.ReplaceElements(ctx, "d1", []bim.Element{{ExternalID: "1"}, {ExternalID: "1"}})
	assert.Error(t, err)

	require.NoError(t, repo.ReplaceForProject(ctx, &bim.Document{ID: "d2", ProjectID: "p", UploadedAt: t0}))
	els, err := repo.ListElements(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, els)
	d, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestEvidenceProcessingSince(t *testing.T) {
	ctx := context.Background()
	repo := New().Evidence()
	started := t0
	require.NoError(t, repo.Create(ctx, &evidence.Evidence{ID: "a", Status: evidence.StatusProcessing, ProcessingStartedAt: &started}))
	require.NoError(t, repo.Create(ctx, &evidence.Evidence{ID: "b", Status: evidence.StatusPending}))

	got, err := repo.ListProcessingSince(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, evidence.ID("a"), got[0].ID)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, &evidence.Evidence{ID: "zzz"}), evidence.ErrNotFound)
}

func TestFailuresNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := New().Failures()
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, repo.Save(ctx, &failures.Entry{Unit: failures.UnitIngestion, EntityID: "d1", Message: msg}))
	}
	require.NoError(t, repo.Save(ctx, &failures.Entry{EntityID: "other"}))

	got, err := repo.ListByEntity(ctx, "d1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "three", got[0].Message)
	assert.Equal(t, int64(3), got[0].ID)
}
