// Package mockserver implements the synthesis service's HTTP contract with
// simulated generation. It backs integration tests and local development of
// the client without GPU models.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mysticmarks/bark/internal/config"
	"github.com/Mysticmarks/bark/internal/ratelimit"
	"github.com/Mysticmarks/bark/internal/synthesis"
	"github.com/Mysticmarks/bark/internal/telemetry"
)

const version = "0.1.0"

// Server simulates the synthesis service: buffered dry runs, buffered
// synchronous execution, and SSE streaming execution with progress events.
type Server struct {
	cfg       config.Config
	limiter   ratelimit.Limiter
	jobs      *synthesis.Registry
	log       zerolog.Logger
	slots     chan struct{}
	stepDelay time.Duration

	mu      sync.Mutex
	outputs map[string][]byte
}

// New constructs the mock service. limiter may be nil to disable throttling.
func New(cfg config.Config, limiter ratelimit.Limiter, logger zerolog.Logger) *Server {
	queueSize := cfg.MaxQueueSize
	if queueSize <= 0 {
		queueSize = 8
	}
	return &Server{
		cfg:       cfg,
		limiter:   limiter,
		jobs:      synthesis.NewRegistry(),
		log:       logger,
		slots:     make(chan struct{}, queueSize),
		stepDelay: 10 * time.Millisecond,
		outputs:   make(map[string][]byte),
	}
}

// SetStepDelay adjusts the pause between simulated progress events.
func (s *Server) SetStepDelay(d time.Duration) { s.stepDelay = d }

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/capabilities", s.handleCapabilities)
	r.Post("/api/bark/synthesize", s.handleSynthesize)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Get("/outputs/{name}", s.handleOutput)
	r.Mount("/metrics", telemetry.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modalities": []string{"audio", "video", "captions", "control_events"},
		"video_presets": map[string][2]int{
			"4k":  {3840, 2160},
			"qhd": {2560, 1440},
			"fhd": {1920, 1080},
		},
		"audio_bitrates": []string{"160k", "256k", "320k"},
		"codecs":         map[string]string{"video": "libx264", "audio": "aac"},
		"notes": []string{
			"Set dry_run=false to trigger full synthesis when models are installed.",
			"render_video=true will automatically attach captions based on your prompt.",
		},
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
		writeDetail(w, http.StatusUnauthorized, "Invalid or missing API key")
		return
	}
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), "rl:"+clientID(r))
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			writeDetail(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
	}

	var req synthesis.SynthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusBadRequest, "Prompt cannot be empty.")
		return
	}

	jobID := "job-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	plan := planFor(req)

	if req.DryRun {
		update, _ := s.jobs.Merge(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusPlanned, Plan: plan})
		writeJSON(w, http.StatusOK, synthesis.JobUpdate{
			JobID:     update.ID,
			Status:    update.Status,
			Plan:      update.Plan,
			Artifacts: map[string]string{},
		})
		return
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		writeDetail(w, http.StatusTooManyRequests, "Job queue is full")
		return
	}

	if acceptsEventStream(r) {
		s.streamSynthesis(w, r, jobID, req, plan)
		return
	}

	// Buffered path: the whole simulated run happens before the reply.
	_, _ = s.jobs.Merge(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusQueued, Plan: plan})
	_, _ = s.jobs.Merge(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusRunning})
	artifacts := s.renderArtifacts(jobID, req)
	update, _ := s.jobs.Merge(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusCompleted, Artifacts: artifacts})

	writeJSON(w, http.StatusOK, synthesis.JobUpdate{
		JobID:     update.ID,
		Status:    update.Status,
		Plan:      update.Plan,
		Artifacts: update.Artifacts,
	})
}

// streamSynthesis drives one SSE response: queued, running, progress ticks,
// then completed with artifacts. A dropped client stops the run mid-flight.
func (s *Server) streamSynthesis(w http.ResponseWriter, r *http.Request, jobID string, req synthesis.SynthesisRequest, plan *synthesis.Plan) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	emit := func(u synthesis.JobUpdate) bool {
		if r.Context().Err() != nil {
			return false
		}
		_, _ = s.jobs.Merge(u)
		payload, _ := json.Marshal(u)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return false
		case <-time.After(s.stepDelay):
			return true
		}
	}

	if !emit(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusQueued, Plan: plan, Progress: intp(0)}) {
		return
	}
	if !emit(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusRunning, Progress: intp(5)}) {
		return
	}
	for _, pct := range []int{25, 50, 75} {
		if !emit(synthesis.JobUpdate{JobID: jobID, Progress: intp(pct)}) {
			return
		}
	}
	artifacts := s.renderArtifacts(jobID, req)
	emit(synthesis.JobUpdate{JobID: jobID, Status: synthesis.StatusCompleted, Progress: intp(100), Artifacts: artifacts})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("no job %q", id))
		return
	}
	progress := job.Progress
	writeJSON(w, http.StatusOK, synthesis.JobUpdate{
		JobID:     job.ID,
		Status:    job.Status,
		Plan:      job.Plan,
		Artifacts: job.Artifacts,
		Progress:  &progress,
		Error:     job.Error,
	})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	data, ok := s.outputs[name]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("no artifact %q", name))
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(name))
	_, _ = w.Write(data)
}

// renderArtifacts fabricates output bytes for the requested modalities and
// registers them under /outputs paths.
func (s *Server) renderArtifacts(jobID string, req synthesis.SynthesisRequest) map[string]string {
	artifacts := map[string]string{}
	store := func(kind, ext string, body []byte) {
		name := jobID + ext
		s.mu.Lock()
		s.outputs[name] = body
		s.mu.Unlock()
		artifacts[kind] = "/outputs/" + name
	}

	store("audio", ".wav", []byte("RIFF-simulated-waveform:"+req.Prompt))
	if req.RenderVideo {
		store("video", ".mp4", []byte("simulated-video:"+req.Prompt))
		store("captions", ".srt", []byte("1\n00:00:00,000 --> 00:00:02,000\n"+req.Prompt+"\n"))
		store("muxed", "_muxed.mp4", []byte("simulated-muxed:"+req.Prompt))
	}
	return artifacts
}

func planFor(req synthesis.SynthesisRequest) *synthesis.Plan {
	plan := &synthesis.Plan{
		PromptLength:      len(req.Prompt),
		Modalities:        req.Modalities,
		RenderVideo:       req.RenderVideo,
		DryRun:            req.DryRun,
		RoutingPriorities: req.RoutingPriorities,
	}
	if len(plan.Modalities) == 0 {
		plan.Modalities = []string{"audio"}
	}
	if req.Video != nil {
		raw, _ := json.Marshal(req.Video)
		overrides := map[string]any{}
		_ = json.Unmarshal(raw, &overrides)
		plan.VideoOverrides = overrides
	}
	return plan
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(name, ".srt"):
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func intp(v int) *int { return &v }
