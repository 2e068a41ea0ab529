// Package runner executes manifest jobs: every download first, then every
// extraction, either one job at a time or a whole wave at once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/models"
)

var ErrDependencyFailed = errors.New("download this extraction depends on failed")

const downloadTimeout = time.Hour

type basicAuth struct {
	username string
	password string
}

type Runner struct {
	workingDirectory string
	concurrent       bool
	maxParallel      int
	log              logging.Sink
	client           *http.Client
	auth             map[string]basicAuth

	mu     sync.Mutex
	failed map[string]struct{}
}

func NewRunner(workingDirectory string, log logging.Sink) *Runner {
	if log == nil {
		log = logging.Discard
	}
	return &Runner{
		workingDirectory: workingDirectory,
		log:              log,
		client:           &http.Client{Timeout: downloadTimeout},
		auth:             make(map[string]basicAuth),
	}
}

// Concurrently launches all jobs of a wave together instead of one by one.
func (r *Runner) Concurrently(concurrent bool) *Runner {
	r.concurrent = concurrent
	return r
}

// WithMaxParallel bounds how many jobs of a wave run at once in concurrent
// mode. Zero or less means no bound.
func (r *Runner) WithMaxParallel(n int) *Runner {
	r.maxParallel = n
	return r
}

func (r *Runner) WithHTTPClient(client *http.Client) *Runner {
	if client != nil {
		r.client = client
	}
	return r
}

// Run executes jobs and reports whether every job succeeded. A failing job
// is logged and never stops the others; no extraction starts before every
// download has finished.
func (r *Runner) Run(ctx context.Context, jobs []models.Job) bool {
	r.mu.Lock()
	r.failed = make(map[string]struct{})
	r.mu.Unlock()

	var downloads, extracts []models.Job
	ok := true
	for _, job := range jobs {
		switch job.Kind {
		case models.KindDownload:
			downloads = append(downloads, job)
		case models.KindExtract:
			extracts = append(extracts, job)
		default:
			r.log.LogError("Unknown job kind %q for job %s", job.Kind, job.ID)
			ok = false
		}
	}

	ok = r.runWave(ctx, downloads) && ok
	ok = r.runWave(ctx, extracts) && ok
	return ok
}

func (r *Runner) runWave(ctx context.Context, jobs []models.Job) bool {
	results := make([]bool, len(jobs))

	if r.concurrent {
		var eg errgroup.Group
		if r.maxParallel > 0 {
			eg.SetLimit(r.maxParallel)
		}
		for i := range jobs {
			i := i
			eg.Go(func() error {
				results[i] = r.runJob(ctx, jobs[i])
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for i := range jobs {
			results[i] = r.runJob(ctx, jobs[i])
		}
	}

	ok := true
	for _, res := range results {
		ok = ok && res
	}
	return ok
}

func (r *Runner) runJob(ctx context.Context, job models.Job) bool {
	var err error
	switch job.Kind {
	case models.KindDownload:
		if job.Download == nil {
			err = fmt.Errorf("download job %s has no download payload", job.ID)
			break
		}
		if derr := r.download(ctx, *job.Download); derr != nil {
			err = &models.DownloadError{Job: *job.Download, Err: derr}
		} else {
			r.log.LogMessage("Downloaded %s", job.Download.Path)
		}
	case models.KindExtract:
		if job.Extract == nil {
			err = fmt.Errorf("extract job %s has no extract payload", job.ID)
			break
		}
		if eerr := r.extract(*job.Extract); eerr != nil {
			err = &models.ExtractionError{Job: *job.Extract, Err: eerr}
		} else {
			r.log.LogMessage("Extracted %s to %s", job.Extract.Archive, job.Extract.Dest)
		}
	}

	if err != nil {
		r.markFailed(job.ID)
		r.log.LogError("%v", err)
		return false
	}
	return true
}

func (r *Runner) markFailed(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = struct{}{}
}

func (r *Runner) hasFailed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[id]
	return ok
}
