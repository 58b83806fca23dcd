package synthesis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestMergeInsertsWithDefaults(t *testing.T) {
	r := NewRegistry()

	job, err := r.Merge(JobUpdate{JobID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, job.Artifacts)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestMergeRejectsMissingID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Merge(JobUpdate{Status: StatusRunning})
	require.Error(t, err)
}

func TestMergeTerminalStatusIsNeverOverwritten(t *testing.T) {
	r := NewRegistry()
	_, err := r.Merge(JobUpdate{
		JobID:     "j1",
		Status:    StatusCompleted,
		Artifacts: map[string]string{"audio": "/a.wav"},
	})
	require.NoError(t, err)

	// A stale event carrying an earlier status arrives late.
	job, err := r.Merge(JobUpdate{JobID: "j1", Status: StatusRunning, Progress: intp(10)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, map[string]string{"audio": "/a.wav"}, job.Artifacts)
	assert.Equal(t, 100, job.Progress, "terminal progress stays pinned")

	// failed never replaces completed either.
	job, err = r.Merge(JobUpdate{JobID: "j1", Status: StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestMergeProgressNeverDecreases(t *testing.T) {
	r := NewRegistry()
	_, err := r.Merge(JobUpdate{JobID: "j1", Status: StatusRunning, Progress: intp(60)})
	require.NoError(t, err)

	job, err := r.Merge(JobUpdate{JobID: "j1", Progress: intp(40)})
	require.NoError(t, err)
	assert.Equal(t, 60, job.Progress)

	job, err = r.Merge(JobUpdate{JobID: "j1", Progress: intp(60)})
	require.NoError(t, err)
	assert.Equal(t, 60, job.Progress, "equal progress is accepted")

	job, err = r.Merge(JobUpdate{JobID: "j1", Status: StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress, "terminal status forces progress to 100")
}

func TestMergeArtifactsOnlyOnCompleted(t *testing.T) {
	r := NewRegistry()
	job, err := r.Merge(JobUpdate{
		JobID:     "j1",
		Status:    StatusRunning,
		Artifacts: map[string]string{"audio": "/early.wav"},
	})
	require.NoError(t, err)
	assert.Empty(t, job.Artifacts, "artifacts ignored before completion")

	job, err = r.Merge(JobUpdate{
		JobID:     "j1",
		Status:    StatusCompleted,
		Artifacts: map[string]string{"audio": "/a.wav"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"audio": "/a.wav"}, job.Artifacts)

	// A statusless partial event after completion must not touch the
	// finished job's artifact set.
	job, err = r.Merge(JobUpdate{
		JobID:     "j1",
		Artifacts: map[string]string{"audio": "/tampered.wav"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"audio": "/a.wav"}, job.Artifacts)

	// Nor may a late completed event attach artifacts to a failed job.
	_, err = r.Merge(JobUpdate{JobID: "j2", Status: StatusFailed, Error: "boom"})
	require.NoError(t, err)
	job, err = r.Merge(JobUpdate{
		JobID:     "j2",
		Status:    StatusCompleted,
		Artifacts: map[string]string{"audio": "/late.wav"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Empty(t, job.Artifacts)
}

func TestMergeUpdatedAtAdvances(t *testing.T) {
	r := NewRegistry()
	first, err := r.Merge(JobUpdate{JobID: "j1"})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	second, err := r.Merge(JobUpdate{JobID: "j1", Progress: intp(10)})
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestInterleavedJobsStayIndependent(t *testing.T) {
	r := NewRegistry()

	updates := []JobUpdate{
		{JobID: "a", Status: StatusRunning, Progress: intp(10)},
		{JobID: "b", Status: StatusRunning, Progress: intp(80)},
		{JobID: "a", Progress: intp(30)},
		{JobID: "b", Status: StatusFailed, Error: "boom"},
		{JobID: "a", Status: StatusCompleted, Artifacts: map[string]string{"audio": "/a.wav"}},
	}
	for _, u := range updates {
		_, err := r.Merge(u)
		require.NoError(t, err)
	}

	a, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	assert.Equal(t, map[string]string{"audio": "/a.wav"}, a.Artifacts)

	b, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "boom", b.Error)
	assert.Empty(t, b.Artifacts)
}

func TestCreatePlaceholderAndRekey(t *testing.T) {
	r := NewRegistry()
	placeholder := r.CreatePlaceholder("hello", &Plan{PromptLength: 5})
	assert.True(t, strings.HasPrefix(placeholder.ID, "local-"))
	assert.Equal(t, StatusQueued, placeholder.Status)

	require.NoError(t, r.Rekey(placeholder.ID, "job-1234"))

	_, ok := r.Get(placeholder.ID)
	assert.False(t, ok, "exactly one record per job: the placeholder is gone")

	job, ok := r.Get("job-1234")
	require.True(t, ok)
	assert.Equal(t, "hello", job.Prompt)
	assert.Equal(t, placeholder.CreatedAt, job.CreatedAt)
}

func TestRekeyFoldsIntoRacingRecord(t *testing.T) {
	r := NewRegistry()
	placeholder := r.CreatePlaceholder("hello", nil)

	// An event for the server id lands before the rekey happens.
	_, err := r.Merge(JobUpdate{JobID: "job-9", Status: StatusRunning, Progress: intp(50)})
	require.NoError(t, err)

	require.NoError(t, r.Rekey(placeholder.ID, "job-9"))

	job, ok := r.Get("job-9")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, "hello", job.Prompt)
	assert.Equal(t, placeholder.CreatedAt, job.CreatedAt)
	assert.Len(t, r.List(), 1)
}

func TestRekeyUnknownID(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Rekey("nope", "job-1"))
}

func TestListReturnsSnapshotNewestFirst(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Merge(JobUpdate{JobID: "old"})
	time.Sleep(2 * time.Millisecond)
	_, _ = r.Merge(JobUpdate{JobID: "new"})

	jobs := r.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)
	assert.Equal(t, "old", jobs[1].ID)

	// Snapshots are copies: mutating one must not leak into the registry.
	jobs[0].Artifacts["x"] = "tampered"
	stored, _ := r.Get("new")
	assert.Empty(t, stored.Artifacts)
}

func TestStatusStateMachine(t *testing.T) {
	assert.True(t, StatusQueued.CanTransition(StatusRunning))
	assert.True(t, StatusQueued.CanTransition(StatusCompleted), "fast path")
	assert.True(t, StatusQueued.CanTransition(StatusFailed))
	assert.True(t, StatusRunning.CanTransition(StatusFailed))
	assert.True(t, StatusPlanned.CanTransition(StatusCompleted), "dry run resubmitted for real")

	assert.False(t, StatusCompleted.CanTransition(StatusRunning))
	assert.False(t, StatusFailed.CanTransition(StatusQueued))
	assert.False(t, StatusRunning.CanTransition(StatusQueued))
	assert.True(t, StatusCompleted.CanTransition(StatusCompleted), "self transitions are no-ops")
}
