package analysis

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewComparisonClampsCompletion(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.5, 1.0},
		{-0.2, 0.0},
		{0.5, 0.5},
		{0, 0},
		{1, 1},
	}
	for _, tc := range cases {
		c := NewComparison("c", 0.3, tc.in, "", nil, t0)
		assert.Equal(t, tc.want, c.CompletionPercentage, "input %v", tc.in)

		again := NewComparison("c", c.SimilarityScore, c.CompletionPercentage, "", nil, t0)
		assert.Equal(t, c.CompletionPercentage, again.CompletionPercentage, "clamp must be idempotent")
	}
}

func TestNewComparisonDedupesMismatches(t *testing.T) {
	c := NewComparison("c", 2, 0.4, "s", []string{"roof missing", "roof missing", "door offset"}, t0)
	assert.Equal(t, 1.0, c.SimilarityScore)
	assert.Equal(t, []string{"roof missing", "door offset"}, c.Mismatches)
}

func TestRunLifecycle(t *testing.T) {
	r := NewRun("r1", "Linha 6", "ana", "s3://bim/model.ifc", "s3://img/site.jpg", t0)
	require.Equal(t, StatusPending, r.Status)

	require.NoError(t, r.MarkRunning(t0.Add(time.Second)))
	assert.Equal(t, StatusRunning, r.Status)

	bim := &Result{ID: "b", Kind: KindBIM, Status: StatusCompleted}
	img := &Result{ID: "i", Kind: KindImage, Status: StatusCompleted}
	cmpRes := NewComparison("c", 0.8, 0.6, "ok", nil, t0)

	err := r.MarkCompleted(bim, nil, cmpRes, t0)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, StatusRunning, r.Status)

	require.NoError(t, r.MarkCompleted(bim, img, cmpRes, t0.Add(2*time.Second)))
	assert.Equal(t, StatusCompleted, r.Status)
	assert.False(t, r.Retryable())

	assert.ErrorIs(t, r.MarkRunning(t0), ErrAlreadyCompleted)
	assert.ErrorIs(t, r.MarkCompleted(bim, img, cmpRes, t0), ErrAlreadyCompleted)
}

func TestRunMarkFailedSetsNotes(t *testing.T) {
	r := NewRun("r1", "p", "", "a", "b", t0)
	r.MarkFailed("", t0)
	assert.Equal(t, StatusFailed, r.Status)
	assert.NotEmpty(t, r.Notes)
	assert.Nil(t, r.Bim)
	assert.True(t, r.Retryable())
}

func TestDetectedIssueStorageRoundTrip(t *testing.T) {
	in := []DetectedIssue{
		{Description: "Fissura na laje", Severity: SeverityHigh, Confidence: 0.1 + 0.2, LocationHint: "pavimento 2"},
		{Description: "Pilar desalinhado", Severity: SeverityCritical, Confidence: math.Nextafter(1, 0)},
		{Description: "Sem localização", Severity: SeverityLow, Confidence: 0},
	}
	raw, err := EncodeIssues(in)
	require.NoError(t, err)

	out, err := DecodeIssues(raw)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	for i := range in {
		assert.Equal(t, math.Float64bits(in[i].Confidence), math.Float64bits(out[i].Confidence))
	}
}

func TestDecodeIssuesEmpty(t *testing.T) {
	out, err := DecodeIssues("")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodeIssues("{not json")
	assert.Error(t, err)
}

func TestDetectedIssueValidate(t *testing.T) {
	assert.NoError(t, DetectedIssue{Description: "x", Severity: SeverityLow, Confidence: 1}.Validate())
	assert.ErrorIs(t, DetectedIssue{Description: " ", Severity: SeverityLow}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, DetectedIssue{Description: "x", Severity: "urgent"}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, DetectedIssue{Description: "x", Severity: SeverityLow, Confidence: 1.01}.Validate(), ErrInvalidInput)
}

func TestExecutionErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	var err error = &ExecutionError{RunID: "r", Stage: "bim", Err: cause}
	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bim")
}
