package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mysticmarks/bark/internal/telemetry"
)

// placeholderPrefix marks client-assigned ids awaiting the server's rekey.
const placeholderPrefix = "local-"

// Registry is the single store of job records for a session. All mutation
// goes through CreatePlaceholder, Merge, and Rekey; each call is one atomic
// step, so reads interleaved between network waits never observe a
// half-updated record.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry builds an empty registry. Registries are independent; tests and
// embedders may hold several.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// CreatePlaceholder inserts an optimistic record the instant a request is
// submitted, before the server has assigned an id. The caller rekeys it once
// the authoritative id arrives.
func (r *Registry) CreatePlaceholder(prompt string, plan *Plan) Job {
	now := time.Now()
	job := &Job{
		ID:        placeholderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Status:    StatusQueued,
		Plan:      plan,
		Artifacts: map[string]string{},
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return job.Clone()
}

// Merge folds one job-shaped update into the stored record for its id,
// creating the record if absent. Policy:
//   - a terminal stored status is never overwritten by a different status;
//   - progress never decreases, except that a terminal incoming status
//     forces it to 100;
//   - artifacts are only taken from events whose status is completed;
//   - UpdatedAt is bumped on every successful merge.
func (r *Registry) Merge(u JobUpdate) (Job, error) {
	if u.JobID == "" {
		return Job{}, fmt.Errorf("merge: update carries no job id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	job, ok := r.jobs[u.JobID]
	if !ok {
		job = &Job{
			ID:        u.JobID,
			Status:    StatusQueued,
			Artifacts: map[string]string{},
			CreatedAt: now,
		}
		r.jobs[u.JobID] = job
	}

	// Non-terminal records accept any known status, even a regression, since
	// event delivery may be reordered. Terminal records accept only what the
	// lifecycle still permits, which is the self edge.
	incoming := u.Status
	if incoming != "" && incoming.Known() {
		if !job.Status.Terminal() || job.Status.CanTransition(incoming) {
			job.Status = incoming
		}
	}
	if u.Plan != nil {
		job.Plan = u.Plan
	}
	if u.Error != "" {
		job.Error = u.Error
	}
	if u.Progress != nil && *u.Progress >= job.Progress {
		job.Progress = *u.Progress
	}
	if job.Status.Terminal() {
		job.Progress = 100
	}
	if incoming == StatusCompleted && job.Status == StatusCompleted && len(u.Artifacts) > 0 {
		job.Artifacts = make(map[string]string, len(u.Artifacts))
		for k, v := range u.Artifacts {
			job.Artifacts[k] = v
		}
	}
	job.UpdatedAt = now

	telemetry.RegistryMerges.Inc()
	return job.Clone(), nil
}

// Rekey atomically replaces a placeholder id with the server-issued one,
// preserving CreatedAt and Prompt. If an event for the new id raced ahead
// and already created a record, the two are folded together instead of
// coexisting.
func (r *Registry) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	placeholder, ok := r.jobs[oldID]
	if !ok {
		return fmt.Errorf("rekey: no job under id %q", oldID)
	}
	delete(r.jobs, oldID)

	if existing, ok := r.jobs[newID]; ok {
		existing.CreatedAt = placeholder.CreatedAt
		existing.Prompt = placeholder.Prompt
		return nil
	}

	placeholder.ID = newID
	r.jobs[newID] = placeholder
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.Clone(), true
}

// List returns a snapshot of all records, newest first for display.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
