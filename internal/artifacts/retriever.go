// Package artifacts fetches the binary outputs of completed jobs.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/Mysticmarks/bark/internal/config"
	"github.com/Mysticmarks/bark/internal/synthesis"
	"github.com/Mysticmarks/bark/internal/telemetry"
)

// FetchError reports an unreachable artifact. Generation already succeeded,
// so it never alters the owning job's status.
type FetchError struct {
	JobID string
	Path  string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch artifact %q for job %s: %v", e.Path, e.JobID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Sink stores fetched bytes and returns a locally addressable handle.
type Sink interface {
	Store(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Retriever downloads artifacts over HTTP and hands them to a sink.
type Retriever struct {
	baseURL    string
	httpClient *http.Client
	sink       Sink
	maxBytes   int64
	log        zerolog.Logger
}

// New constructs the retriever and chooses a sink (local directory or S3).
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Retriever, error) {
	timeout := cfg.ArtifactFetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var sink Sink
	if cfg.ArtifactS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		sink = &s3Sink{client: client, bucket: cfg.ArtifactS3Bucket}
	} else {
		baseDir := cfg.ArtifactOutputDir
		if baseDir == "" {
			baseDir = "./artifacts"
		}
		sink = &localSink{baseDir: baseDir}
	}

	maxBytes := cfg.ArtifactMaxBytes
	if maxBytes == 0 {
		maxBytes = 256 * 1024 * 1024
	}

	return &Retriever{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		sink:       sink,
		maxBytes:   maxBytes,
		log:        logger,
	}, nil
}

// NewWithSink builds a retriever around an injected sink; used by tests and
// embedders that already have a storage layer.
func NewWithSink(baseURL string, httpClient *http.Client, sink Sink, maxBytes int64, logger zerolog.Logger) *Retriever {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes == 0 {
		maxBytes = 256 * 1024 * 1024
	}
	return &Retriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		sink:       sink,
		maxBytes:   maxBytes,
		log:        logger,
	}
}

// Fetch downloads one named artifact of a completed job and returns the
// sink's handle for it. The job must already be completed; a failed fetch is
// reported but leaves the job record untouched.
func (r *Retriever) Fetch(ctx context.Context, job synthesis.Job, name string) (string, error) {
	if job.Status != synthesis.StatusCompleted {
		return "", fmt.Errorf("job %s is %s; artifacts exist only once completed", job.ID, job.Status)
	}
	artifactPath, ok := job.Artifacts[name]
	if !ok || artifactPath == "" {
		return "", fmt.Errorf("job %s has no artifact named %q", job.ID, name)
	}

	data, contentType, err := r.download(ctx, artifactPath)
	if err != nil {
		telemetry.ArtifactFetchFailures.Inc()
		return "", &FetchError{JobID: job.ID, Path: artifactPath, Err: err}
	}

	key := sanitizeKey(path.Join(job.ID, path.Base(artifactPath)))
	handle, err := r.sink.Store(ctx, key, data, contentType)
	if err != nil {
		telemetry.ArtifactFetchFailures.Inc()
		return "", &FetchError{JobID: job.ID, Path: artifactPath, Err: err}
	}

	telemetry.ArtifactFetches.Inc()
	r.log.Info().
		Str("job_id", job.ID).
		Str("artifact", name).
		Str("handle", handle).
		Int("bytes", len(data)).
		Msg("artifact fetched")
	return handle, nil
}

// download resolves relative artifact paths against the service base URL and
// pulls the bytes once, bounded by maxBytes.
func (r *Retriever) download(ctx context.Context, artifactPath string) ([]byte, string, error) {
	target := artifactPath
	if parsed, err := url.Parse(artifactPath); err != nil || parsed.Scheme == "" {
		if r.baseURL == "" {
			return nil, "", fmt.Errorf("relative artifact path %q with no base url", artifactPath)
		}
		target = r.baseURL + "/" + strings.TrimLeft(artifactPath, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, r.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, "", fmt.Errorf("artifact too large (>%d bytes)", r.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	return key
}

type localSink struct {
	baseDir string
}

func (l *localSink) Store(_ context.Context, key string, body []byte, _ string) (string, error) {
	p := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

type s3Sink struct {
	client *s3.Client
	bucket string
}

func (s *s3Sink) Store(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
