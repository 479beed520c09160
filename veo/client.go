package veo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/transport"
	"github.com/hqta1110/video-pipeline/types"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 600 * time.Second

	googleAPIPrefix = "https://generativelanguage.googleapis.com/"
)

// Sink receives downloaded artifacts. store.ArtifactStore satisfies it.
type Sink interface {
	Write(key string, r io.Reader) error
	Path(key string) string
}

// Options configures the job client.
type Options struct {
	APIKey       string
	Base         string
	DownloadBase string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client hides the submit/poll/download cycle of the long-running video
// generation endpoint behind Generate.
type Client struct {
	http    *transport.Client
	opts    Options
	headers transport.Headers
	log     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client. Zero poll interval and timeout take the defaults.
func New(t *transport.Client, opts Options, logger *slog.Logger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.Base = strings.TrimRight(opts.Base, "/")
	opts.DownloadBase = strings.TrimRight(opts.DownloadBase, "/")
	return &Client{
		http: t,
		opts: opts,
		headers: transport.Headers{
			"x-goog-api-key": opts.APIKey,
			"Content-Type":   "application/json",
		},
		log:   logging.OrDiscard(logger).With("component", "veo"),
		now:   time.Now,
		sleep: transport.SleepContext,
	}
}

// Generate submits req, waits for the job and streams the result into sink
// under key. It returns the artifact path reported by the sink.
func (c *Client) Generate(ctx context.Context, req Request, sink Sink, key string) (string, error) {
	job, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	uri, err := c.Wait(ctx, job)
	if err != nil {
		return "", err
	}
	if err := c.Download(ctx, uri, sink, key); err != nil {
		return "", err
	}
	return sink.Path(key), nil
}

// Submit starts a generation job. Submissions are never retried here:
// a duplicate submission is a second billed job.
func (c *Client) Submit(ctx context.Context, req Request) (*Job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", types.ErrInvalidRequest)
	}

	inst := instance{Prompt: req.Prompt}
	img, err := loadReference(req.ReferenceImage)
	if err != nil {
		return nil, err
	}
	if img != nil {
		inst.Image = img
		c.log.Info("attaching reference image", "path", req.ReferenceImage)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.opts.Base, c.opts.Model)
	var resp submitResponse
	if err := c.http.PostJSON(ctx, endpoint, c.headers, submitRequest{Instances: []instance{inst}}, &resp); err != nil {
		return nil, fmt.Errorf("submit video job: %w", err)
	}
	if resp.Name == "" {
		return nil, fmt.Errorf("%w: no operation name in submit response", types.ErrProtocol)
	}

	job := &Job{Name: resp.Name, State: JobSubmitted, SubmittedAt: c.now()}
	c.log.Info("video job submitted", "job", job.Name)
	return job, nil
}

// Wait polls the job until it reports done or the timeout elapses, and
// returns the result locator. Every iteration makes exactly one status call
// and sleeps at most until the deadline, so a job that never finishes fails
// with ErrJobTimeout no later than timeout + poll interval after submission.
func (c *Client) Wait(ctx context.Context, job *Job) (string, error) {
	endpoint := fmt.Sprintf("%s/%s", c.opts.Base, strings.TrimLeft(job.Name, "/"))
	deadline := job.SubmittedAt.Add(c.opts.Timeout)
	job.State = JobPolling

	// Status calls and sleeps share one budget so a slow or retried poll
	// cannot carry the wait past timeout + poll interval.
	pollCtx, cancel := context.WithTimeout(ctx, deadline.Sub(c.now())+c.opts.PollInterval)
	defer cancel()
	timedOut := func() error {
		job.State = JobFailed
		return fmt.Errorf("%w: %s not done after %v (%d polls)", types.ErrJobTimeout, job.Name, c.opts.Timeout, job.Polls)
	}

	for {
		if !c.now().Before(deadline) {
			return "", timedOut()
		}

		var op operation
		err := c.http.GetJSON(pollCtx, endpoint, c.headers, &op)
		job.Polls++
		if err != nil {
			if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return "", timedOut()
			}
			job.State = JobFailed
			return "", fmt.Errorf("poll %s: %w", job.Name, err)
		}

		if op.Done {
			if op.Error != nil {
				job.State = JobFailed
				return "", fmt.Errorf("%w: %s: %s (code %d)", types.ErrJobFailed, job.Name, op.Error.Message, op.Error.Code)
			}
			uri := op.videoURI()
			if uri == "" {
				job.State = JobFailed
				return "", fmt.Errorf("%w: done operation %s has no video uri", types.ErrProtocol, job.Name)
			}
			job.State = JobDone
			c.log.Info("video job done", "job", job.Name, "polls", job.Polls,
				"elapsed", c.now().Sub(job.SubmittedAt).Round(time.Second))
			return uri, nil
		}

		wait := c.opts.PollInterval
		if remaining := deadline.Sub(c.now()); remaining < wait {
			wait = remaining
		}
		c.log.Debug("waiting for video job", "job", job.Name, "next_poll", wait)
		if err := c.sleep(pollCtx, wait); err != nil {
			if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return "", timedOut()
			}
			job.State = JobFailed
			return "", err
		}
	}
}

// Download resolves uri against the download base and streams the bytes
// into sink under key.
func (c *Client) Download(ctx context.Context, uri string, sink Sink, key string) error {
	target, err := c.resolve(uri)
	if err != nil {
		return err
	}
	body, err := c.http.Stream(ctx, http.MethodGet, target, c.headers, nil)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	defer body.Close()
	if err := sink.Write(key, body); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	c.log.Info("video downloaded", "key", key)
	return nil
}

func (c *Client) resolve(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	rel := strings.TrimPrefix(uri, googleAPIPrefix)
	if rel == uri {
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("%w: bad video uri %q: %v", types.ErrProtocol, uri, err)
		}
		if u.IsAbs() {
			rel = u.Path
			if u.RawQuery != "" {
				rel += "?" + u.RawQuery
			}
		}
	}
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty video uri %q", types.ErrProtocol, uri)
	}
	return c.opts.DownloadBase + "/" + rel, nil
}

func loadReference(path string) (*imageData, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return &imageData{
		BytesBase64Encoded: base64.StdEncoding.EncodeToString(data),
		MimeType:           mime,
	}, nil
}
