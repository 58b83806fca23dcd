// Package client submits synthesis requests and reconciles the service's
// replies into the job registry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mysticmarks/bark/internal/stream"
	"github.com/Mysticmarks/bark/internal/synthesis"
	"github.com/Mysticmarks/bark/internal/telemetry"
)

const (
	synthesizePath   = "/api/bark/synthesize"
	healthPath       = "/api/health"
	capabilitiesPath = "/api/capabilities"
	jobsPath         = "/api/jobs/"

	eventStreamContentType = "text/event-stream"
)

// Options configures the synthesis client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the synthesis service and applies every
// job-shaped reply to the injected registry. It never retries on its own;
// retry policy belongs to the caller.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	registry       *synthesis.Registry
	log            zerolog.Logger
	requestTimeout time.Duration
}

// New constructs a client with sane defaults and injected dependencies.
func New(opts Options, registry *synthesis.Registry) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-wide Timeout: it would sever long-lived event streams.
		// RequestTimeout bounds each unary call via context instead;
		// submissions run until the stream ends or the caller cancels.
		httpClient = &http.Client{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		apiKey:         strings.TrimSpace(opts.APIKey),
		httpClient:     httpClient,
		registry:       registry,
		log:            logger,
		requestTimeout: opts.RequestTimeout,
	}
}

// unaryContext bounds a single request/response call with the configured
// timeout. Streamed submissions never pass through here.
func (c *Client) unaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return ctx, func() {}
}

// Registry exposes the job store the client reconciles into.
func (c *Client) Registry() *synthesis.Registry { return c.registry }

// HealthResponse is the service heartbeat document.
type HealthResponse struct {
	Status  string `json:"status"`
	Time    string `json:"time"`
	Version string `json:"version"`
}

// CapabilityResponse describes enabled modalities and encoding presets.
type CapabilityResponse struct {
	Modalities    []string          `json:"modalities"`
	VideoPresets  map[string][2]int `json:"video_presets"`
	AudioBitrates []string          `json:"audio_bitrates"`
	Codecs        map[string]string `json:"codecs"`
	Notes         []string          `json:"notes"`
}

// Health checks connectivity to the service.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.getJSON(ctx, healthPath, &out)
	return out, err
}

// Capabilities fetches the service's static capability document.
func (c *Client) Capabilities(ctx context.Context) (CapabilityResponse, error) {
	var out CapabilityResponse
	err := c.getJSON(ctx, capabilitiesPath, &out)
	return out, err
}

// Submit validates the input, posts it once, and reconciles the reply —
// buffered or streamed — into the registry. It returns the final snapshot of
// the job record. See SubmitWithEvents for per-event observation.
func (c *Client) Submit(ctx context.Context, in synthesis.Input) (synthesis.Job, error) {
	return c.SubmitWithEvents(ctx, in, nil)
}

// SubmitWithEvents is Submit with a per-event callback. onEvent observes each
// stream event after it has been applied to the registry, in arrival order;
// it is never called for buffered replies. onEvent may be nil.
//
// A ValidationErrors return means nothing reached the network. Cancellation
// aborts the request or stream and leaves the job at its last merged state;
// the ctx error is returned alongside that snapshot.
func (c *Client) SubmitWithEvents(ctx context.Context, in synthesis.Input, onEvent stream.Sink) (synthesis.Job, error) {
	req, err := synthesis.BuildRequest(in)
	if err != nil {
		return synthesis.Job{}, err
	}

	placeholder := c.registry.CreatePlaceholder(req.Prompt, planFromRequest(req))
	telemetry.SubmissionsTotal.Inc()
	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	body, err := json.Marshal(req)
	if err != nil {
		return synthesis.Job{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synthesizePath, bytes.NewReader(body))
	if err != nil {
		return synthesis.Job{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", eventStreamContentType+", application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		telemetry.SubmissionFailures.Inc()
		job, _ := c.registry.Get(placeholder.ID)
		return job, &synthesis.NetworkError{Op: "synthesize", Err: err}
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		telemetry.SubmissionFailures.Inc()
		job, _ := c.registry.Get(placeholder.ID)
		return job, httpError(resp)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return c.consumeStream(ctx, resp.Body, placeholder.ID, onEvent)
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.SubmissionFailures.Inc()
		job, _ := c.registry.Get(placeholder.ID)
		return job, &synthesis.NetworkError{Op: "read response", Err: err}
	}
	var update synthesis.JobUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		job, _ := c.registry.Get(placeholder.ID)
		return job, fmt.Errorf("decode synthesis response: %w", err)
	}
	return c.apply(placeholder.ID, update)
}

// consumeStream hands the response body to a fresh decoder and folds every
// structured event into the registry, in emission order.
func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, placeholderID string, onEvent stream.Sink) (synthesis.Job, error) {
	currentID := placeholderID
	var mergeErr error

	decoder := stream.NewDecoder(body, c.log)
	runErr := decoder.Run(ctx, func(ev synthesis.StreamEvent) {
		if ev.Structured() && ev.Update.JobID != "" {
			job, err := c.applyTo(&currentID, *ev.Update)
			if err != nil && mergeErr == nil {
				mergeErr = err
			}
			c.log.Debug().
				Str("job_id", job.ID).
				Str("status", string(job.Status)).
				Int("progress", job.Progress).
				Msg("stream event merged")
		} else if !ev.Structured() {
			c.log.Warn().Str("payload", ev.Raw).Msg("raw stream event")
		}
		if onEvent != nil {
			onEvent(ev)
		}
	})

	job, _ := c.registry.Get(currentID)
	switch {
	case runErr != nil:
		return job, runErr
	case mergeErr != nil:
		return job, mergeErr
	default:
		return job, nil
	}
}

// apply reconciles a single update arriving for the placeholder id.
func (c *Client) apply(placeholderID string, update synthesis.JobUpdate) (synthesis.Job, error) {
	id := placeholderID
	return c.applyTo(&id, update)
}

// applyTo rekeys the tracked id to the server-issued one on first contact,
// then merges the update. currentID is updated in place.
func (c *Client) applyTo(currentID *string, update synthesis.JobUpdate) (synthesis.Job, error) {
	if update.JobID != "" && update.JobID != *currentID {
		if err := c.registry.Rekey(*currentID, update.JobID); err != nil {
			return synthesis.Job{}, err
		}
		*currentID = update.JobID
	}
	if update.JobID == "" {
		update.JobID = *currentID
	}
	return c.registry.Merge(update)
}

// GetJob polls the job resource and merges the result; the fallback for
// servers that answer buffered and complete asynchronously.
func (c *Client) GetJob(ctx context.Context, id string) (synthesis.Job, error) {
	var update synthesis.JobUpdate
	if err := c.getJSON(ctx, jobsPath+id, &update); err != nil {
		return synthesis.Job{}, err
	}
	if update.JobID == "" {
		update.JobID = id
	}
	return c.registry.Merge(update)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &synthesis.NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return httpError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func planFromRequest(req synthesis.SynthesisRequest) *synthesis.Plan {
	return &synthesis.Plan{
		PromptLength:      len(req.Prompt),
		Modalities:        req.Modalities,
		RenderVideo:       req.RenderVideo,
		DryRun:            req.DryRun,
		RoutingPriorities: req.RoutingPriorities,
	}
}

// httpError builds the typed error for a non-success status, pulling the
// server's detail out of the error envelope when present. The service has
// emitted both {"detail": ...} and {"error": ...} envelopes over time.
func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var envelope struct {
		Detail string `json:"detail"`
		Err    string `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(raw, &envelope); err == nil {
		detail = envelope.Detail
		if detail == "" {
			detail = envelope.Err
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	return &synthesis.HTTPError{StatusCode: resp.StatusCode, Detail: detail}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(contentType, eventStreamContentType)
	}
	return mediaType == eventStreamContentType
}
