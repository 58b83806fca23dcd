package synthesis

import (
	"time"
)

// Status enumerates the lifecycle states reported by the synthesis service.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether the status is one of the service's lifecycle states.
func (s Status) Known() bool {
	switch s {
	case StatusPlanned, StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a valid forward edge.
// Terminal states accept nothing; every state accepts itself.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	case StatusPlanned:
		// A dry-run job may be re-submitted for real execution under the
		// same id and later be found terminal.
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Plan is the echoed request intent returned by the service.
type Plan struct {
	PromptLength      int                `json:"prompt_length"`
	Modalities        []string           `json:"modalities"`
	RenderVideo       bool               `json:"render_video"`
	DryRun            bool               `json:"dry_run"`
	VideoOverrides    map[string]any     `json:"video_overrides,omitempty"`
	RoutingPriorities map[string]float64 `json:"routing_priorities,omitempty"`
}

// Job represents one submitted generation request and its tracked lifecycle.
type Job struct {
	ID        string            `json:"id"`
	Status    Status            `json:"status"`
	Plan      *Plan             `json:"plan,omitempty"`
	Artifacts map[string]string `json:"artifacts"`
	Progress  int               `json:"progress"`
	Prompt    string            `json:"prompt"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so registry snapshots cannot be mutated by callers.
func (j Job) Clone() Job {
	out := j
	if j.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(j.Artifacts))
		for k, v := range j.Artifacts {
			out.Artifacts[k] = v
		}
	}
	if j.Plan != nil {
		p := *j.Plan
		out.Plan = &p
	}
	return out
}
