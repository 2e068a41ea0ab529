// Package resolver turns artifact templates into download and extract jobs
// by asking each template's build server for its artifact listing.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opnlabs/artifetch/pkg/buildserver"
	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/store"
)

type Resolver struct {
	factory    buildserver.Factory
	log        logging.Sink
	listings   store.Store[[]models.ArtifactInfo]
	concurrent bool

	mu      sync.Mutex
	clients map[string]buildserver.BuildServer
}

func New(factory buildserver.Factory, log logging.Sink) *Resolver {
	if factory == nil {
		factory = buildserver.New
	}
	if log == nil {
		log = logging.Discard
	}
	return &Resolver{
		factory:  factory,
		log:      log,
		listings: store.NewMemStore[[]models.ArtifactInfo](),
		clients:  make(map[string]buildserver.BuildServer),
	}
}

// Concurrently makes Resolve query build servers for all templates at once.
// Job order is unaffected.
func (r *Resolver) Concurrently(concurrent bool) *Resolver {
	r.concurrent = concurrent
	return r
}

// WithCache shares listings between resolvers. Entries are keyed by server,
// build configuration and condition.
func (r *Resolver) WithCache(s store.Store[[]models.ArtifactInfo]) *Resolver {
	r.listings = s
	return r
}

// Resolve resolves every template independently. Jobs come back in template
// order; a failing template contributes no jobs and a *models.ResolutionError
// to the joined error, which is logged before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, templates []models.ArtifactTemplate) ([]models.Job, error) {
	results := make([][]models.Job, len(templates))
	errs := make([]error, len(templates))

	if r.concurrent {
		var eg errgroup.Group
		for i := range templates {
			i := i
			eg.Go(func() error {
				results[i], errs[i] = r.ResolveTemplate(ctx, templates[i])
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for i := range templates {
			results[i], errs[i] = r.ResolveTemplate(ctx, templates[i])
		}
	}

	var jobs []models.Job
	seen := make(map[string]struct{})
	for i, res := range results {
		if errs[i] != nil {
			r.log.LogError("%v", errs[i])
			continue
		}
		for _, job := range res {
			if _, ok := seen[job.ID]; ok {
				r.log.LogMessage("Skipping duplicate %s", job)
				continue
			}
			seen[job.ID] = struct{}{}
			jobs = append(jobs, job)
		}
	}
	return jobs, errors.Join(errs...)
}

// ResolveTemplate produces the jobs for a single template.
func (r *Resolver) ResolveTemplate(ctx context.Context, t models.ArtifactTemplate) ([]models.Job, error) {
	rules, err := ParseRules(t.Rules)
	if err != nil {
		return nil, &models.ResolutionError{Template: t, Err: err}
	}

	listing, err := r.listing(ctx, t)
	if err != nil {
		return nil, &models.ResolutionError{Template: t, Err: err}
	}

	var jobs []models.Job
	for _, item := range listing {
		sel, ok := selectArtifact(rules, item.RelativePath)
		if !ok {
			continue
		}
		download := models.NewDownloadJob(jobID(models.KindDownload, item.RemoteURL, sel.Dest), item.RemoteURL, sel.Dest)
		jobs = append(jobs, download)

		if !item.IsArchive {
			continue
		}
		dest := path.Dir(sel.Dest)
		jobs = append(jobs, models.NewExtractJob(jobID(models.KindExtract, sel.Dest, dest), models.ExtractJob{
			Archive: sel.Dest,
			Dest:    dest,
			Include: sel.Include,
			Exclude: sel.Exclude,
			After:   download.ID,
		}))
	}

	if len(jobs) == 0 {
		r.log.LogMessage("No artifacts of %s matched its path rules", t)
	} else {
		r.log.LogMessage("Resolved %s to %d job(s)", t, len(jobs))
	}
	return jobs, nil
}

func (r *Resolver) listing(ctx context.Context, t models.ArtifactTemplate) ([]models.ArtifactInfo, error) {
	key := fmt.Sprintf("%s|%s|%s", t.Server.ID, t.ConfigID, t.Condition.Key())
	if cached, err := r.listings.Get(key); err == nil {
		return cached, nil
	}

	client, err := r.client(t.Server)
	if err != nil {
		return nil, err
	}
	listing, err := client.ListArtifacts(ctx, t.ConfigID, t.Condition)
	if err != nil {
		return nil, err
	}
	r.listings.Put(key, listing)
	return listing, nil
}

func (r *Resolver) client(s models.Server) (buildserver.BuildServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[s.ID]; ok {
		return c, nil
	}
	c, err := r.factory(s)
	if err != nil {
		return nil, err
	}
	r.clients[s.ID] = c
	return c, nil
}

// jobID derives a stable id from the job's kind and endpoints, so a
// regenerated manifest names the same jobs the same way.
func jobID(kind models.JobKind, from, to string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(kind)+"\x00"+from+"\x00"+to)).String()
}
