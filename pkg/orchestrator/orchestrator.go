// Package orchestrator decides whether a run resolves a fresh manifest from
// the descriptor or reuses the existing one, executes the manifest and
// applies the manifest retention policy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opnlabs/artifetch/pkg/buildserver"
	"github.com/opnlabs/artifetch/pkg/descriptor"
	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/manifest"
	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/resolver"
	"github.com/opnlabs/artifetch/pkg/runner"
	"github.com/opnlabs/artifetch/pkg/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the invocation configuration handed over by the host.
type Config struct {
	DescriptorPath  string
	ManifestPath    string
	UseDescriptor   bool
	WorkingDir      string
	RunConcurrently bool
	KeepManifest    bool
	MaxParallel     int `validate:"gte=0"`
}

// Env carries the collaborators of a run.
type Env struct {
	Log     logging.Sink
	Servers buildserver.Factory
}

type Result struct {
	RunID        string
	Success      bool
	ManifestPath string
	Regenerated  bool
	Events       []logging.Event
}

// Run executes one invocation. Invalid configuration yields a
// *models.ConfigurationError before anything is touched; every other
// failure is logged and reported through Result.Success.
func Run(ctx context.Context, cfg Config, env Env) (Result, error) {
	rec := logging.NewRecorder(env.Log)
	res := Result{RunID: uuid.NewString()}

	if err := Validate(&cfg); err != nil {
		rec.LogError("%v", err)
		res.Events = rec.Events()
		return res, err
	}
	res.ManifestPath = cfg.ManifestPath

	regenerate, err := needsRegeneration(cfg)
	if err != nil {
		rec.LogError("%v", err)
		res.Events = rec.Events()
		return res, nil
	}
	res.Regenerated = regenerate

	success := true
	discardManifest := false
	var servers []models.Server
	if regenerate {
		d, err := descriptor.Load(cfg.DescriptorPath)
		if err != nil {
			rec.LogError("%v", err)
			res.Events = rec.Events()
			return res, nil
		}
		servers = d.Servers
		rec.LogMessage("Resolving %d artifact template(s) from %s", len(d.Templates), cfg.DescriptorPath)

		jobs, err := resolver.New(env.Servers, rec).Concurrently(cfg.RunConcurrently).Resolve(ctx, d.Templates)
		if err != nil {
			// Failures were logged by the resolver. A partial manifest must
			// not be reused by a later run.
			success = false
			discardManifest = true
		}
		if err := manifest.Save(cfg.ManifestPath, jobs); err != nil {
			rec.LogError("%v", err)
			res.Events = rec.Events()
			return res, nil
		}
	} else if cfg.UseDescriptor {
		rec.LogMessage("Reusing manifest %s", cfg.ManifestPath)
		d, err := descriptor.Load(cfg.DescriptorPath)
		if err != nil {
			rec.LogError("%v", err)
			success = false
		}
		servers = d.Servers
	} else {
		rec.LogMessage("Running manifest %s", cfg.ManifestPath)
	}

	jobs, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		rec.LogError("%v", err)
		res.Events = rec.Events()
		return res, nil
	}

	success = runner.NewRunner(cfg.WorkingDir, rec).
		Concurrently(cfg.RunConcurrently).
		WithMaxParallel(cfg.MaxParallel).
		WithCredentials(servers).
		Run(ctx, jobs) && success

	if cfg.UseDescriptor && (!cfg.KeepManifest || discardManifest) {
		if err := os.Remove(cfg.ManifestPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rec.LogError("could not remove manifest %s: %v", cfg.ManifestPath, err)
			success = false
		}
	}

	if success {
		rec.LogMessage("All %d job(s) succeeded", len(jobs))
	} else {
		rec.LogError("Run %s finished with failures", res.RunID)
	}
	res.Success = success
	res.Events = rec.Events()
	return res, nil
}

// Validate checks cfg before a run and fills in the derived manifest path.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &models.ConfigurationError{Field: verrs[0].Field(), Msg: fmt.Sprintf("failed %q check", verrs[0].Tag())}
		}
		return &models.ConfigurationError{Msg: err.Error()}
	}

	if cfg.UseDescriptor {
		if strings.TrimSpace(cfg.DescriptorPath) == "" {
			return &models.ConfigurationError{Field: "DescriptorPath", Msg: "descriptor mode requested but no descriptor given"}
		}
		if !utils.FileExists(cfg.DescriptorPath) {
			return &models.ConfigurationError{Field: "DescriptorPath", Msg: fmt.Sprintf("can't find descriptor %s", cfg.DescriptorPath)}
		}
		if strings.TrimSpace(cfg.ManifestPath) == "" {
			cfg.ManifestPath = utils.ChangeExt(cfg.DescriptorPath, manifest.Extension)
		}
		return nil
	}

	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return &models.ConfigurationError{Field: "ManifestPath", Msg: "manifest mode requested but no manifest given"}
	}
	if !utils.FileExists(cfg.ManifestPath) {
		return &models.ConfigurationError{Field: "ManifestPath", Msg: fmt.Sprintf("can't find manifest %s", cfg.ManifestPath)}
	}
	return nil
}

// needsRegeneration applies the provenance decision table to a validated
// configuration.
func needsRegeneration(cfg Config) (bool, error) {
	if !cfg.UseDescriptor {
		return false, nil
	}

	manifestTime, exists, err := utils.ModTime(cfg.ManifestPath)
	if err != nil {
		return false, fmt.Errorf("could not stat manifest %s: %w", cfg.ManifestPath, err)
	}
	if !exists {
		return true, nil
	}

	descriptorTime, _, err := utils.ModTime(cfg.DescriptorPath)
	if err != nil {
		return false, fmt.Errorf("could not stat descriptor %s: %w", cfg.DescriptorPath, err)
	}
	if descriptorTime.After(manifestTime) {
		return true, nil
	}
	return !cfg.KeepManifest, nil
}
