// Package manifest reads and writes the resolved job list. A manifest can be
// executed without contacting any build server.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/utils"
)

const (
	// Extension is appended to the descriptor path when no manifest path is given.
	Extension = ".files"
	Version   = 1
)

type file struct {
	Version int      `yaml:"version"`
	Jobs    []record `yaml:"jobs"`
}

// record is the on-disk form of one job. Kind selects which fields apply.
type record struct {
	Kind    models.JobKind `yaml:"kind"`
	ID      string         `yaml:"id,omitempty"`
	After   string         `yaml:"after,omitempty"`
	URL     string         `yaml:"url,omitempty"`
	Path    string         `yaml:"path,omitempty"`
	Archive string         `yaml:"archive,omitempty"`
	Dest    string         `yaml:"dest,omitempty"`
	Include []string       `yaml:"include,omitempty"`
	Exclude []string       `yaml:"exclude,omitempty"`
}

func Load(path string) ([]models.Job, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &models.MissingFileError{Path: path, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("could not read manifest %s: %w", path, err)
	}
	return Parse(path, data)
}

func Parse(name string, data []byte) ([]models.Job, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, models.Formatf(name, "empty manifest")
		}
		return nil, &models.FormatError{Path: name, Err: err}
	}
	if f.Version != Version {
		return nil, models.Formatf(name, "unsupported manifest version %d", f.Version)
	}

	jobs := make([]models.Job, 0, len(f.Jobs))
	for i, r := range f.Jobs {
		job, err := fromRecord(r)
		if err != nil {
			return nil, models.Formatf(name, "job %d: %v", i+1, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func fromRecord(r record) (models.Job, error) {
	switch r.Kind {
	case models.KindDownload:
		if r.URL == "" || r.Path == "" {
			return models.Job{}, fmt.Errorf("download job needs url and path")
		}
		if r.Archive != "" || r.Dest != "" || r.After != "" || len(r.Include) > 0 || len(r.Exclude) > 0 {
			return models.Job{}, fmt.Errorf("download job carries extract fields")
		}
		return models.NewDownloadJob(r.ID, r.URL, r.Path), nil
	case models.KindExtract:
		if r.Archive == "" || r.Dest == "" {
			return models.Job{}, fmt.Errorf("extract job needs archive and dest")
		}
		if r.URL != "" || r.Path != "" {
			return models.Job{}, fmt.Errorf("extract job carries download fields")
		}
		return models.NewExtractJob(r.ID, models.ExtractJob{
			Archive: r.Archive,
			Dest:    r.Dest,
			Include: r.Include,
			Exclude: r.Exclude,
			After:   r.After,
		}), nil
	case "":
		return models.Job{}, fmt.Errorf("missing job kind")
	default:
		return models.Job{}, fmt.Errorf("unknown job kind %q", r.Kind)
	}
}

func toRecord(j models.Job) (record, error) {
	switch j.Kind {
	case models.KindDownload:
		if j.Download == nil {
			return record{}, fmt.Errorf("download job %s has no download payload", j.ID)
		}
		return record{Kind: j.Kind, ID: j.ID, URL: j.Download.URL, Path: j.Download.Path}, nil
	case models.KindExtract:
		if j.Extract == nil {
			return record{}, fmt.Errorf("extract job %s has no extract payload", j.ID)
		}
		return record{
			Kind:    j.Kind,
			ID:      j.ID,
			After:   j.Extract.After,
			Archive: j.Extract.Archive,
			Dest:    j.Extract.Dest,
			Include: j.Extract.Include,
			Exclude: j.Extract.Exclude,
		}, nil
	default:
		return record{}, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func Marshal(jobs []models.Job) ([]byte, error) {
	f := file{Version: Version, Jobs: make([]record, 0, len(jobs))}
	for _, j := range jobs {
		r, err := toRecord(j)
		if err != nil {
			return nil, err
		}
		f.Jobs = append(f.Jobs, r)
	}

	var b bytes.Buffer
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Save atomically overwrites path with one record per job, in order.
func Save(path string, jobs []models.Job) error {
	data, err := Marshal(jobs)
	if err != nil {
		return fmt.Errorf("could not encode manifest %s: %w", path, err)
	}
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("could not write manifest %s: %w", path, err)
	}
	return nil
}
