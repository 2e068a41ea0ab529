// Package descriptor reads and writes the dependency descriptor: the
// author-facing list of build servers and the artifacts wanted from them.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/utils"
)

// Extension is the conventional descriptor file extension.
const Extension = ".dep"

var validate = validator.New(validator.WithRequiredStructEnabled())

type file struct {
	Servers   []models.Server `yaml:"servers" validate:"dive"`
	Artifacts []artifact      `yaml:"artifacts" validate:"dive"`
}

type artifact struct {
	Server    string           `yaml:"server" validate:"required"`
	Config    string           `yaml:"config" validate:"required"`
	Condition models.Condition `yaml:"condition"`
	Rules     []string         `yaml:"rules,omitempty"`
}

// Load reads the descriptor at path.
func Load(path string) (models.Descriptor, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return models.Descriptor{}, &models.MissingFileError{Path: path, Err: err}
	}
	if err != nil {
		return models.Descriptor{}, fmt.Errorf("could not read descriptor %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes descriptor content. name is only used in error messages.
func Parse(name string, data []byte) (models.Descriptor, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return models.Descriptor{}, &models.FormatError{Path: name, Err: err}
	}

	for i := range f.Servers {
		f.Servers[i].ID = serverID(f.Servers[i])
	}
	for i := range f.Artifacts {
		f.Artifacts[i].Condition = withDefaultType(f.Artifacts[i].Condition)
	}

	if err := validate.Struct(f); err != nil {
		return models.Descriptor{}, &models.FormatError{Path: name, Err: err}
	}

	d := models.Descriptor{Servers: f.Servers}
	seen := make(map[string]struct{}, len(f.Servers))
	for _, s := range f.Servers {
		if _, ok := seen[s.ID]; ok {
			return models.Descriptor{}, models.Formatf(name, "duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	for i, a := range f.Artifacts {
		server, ok := d.Server(a.Server)
		if !ok {
			return models.Descriptor{}, models.Formatf(name, "artifact %d references unknown server %q", i+1, a.Server)
		}
		if err := a.Condition.Validate(); err != nil {
			return models.Descriptor{}, models.Formatf(name, "artifact %d: %v", i+1, err)
		}
		d.Templates = append(d.Templates, models.ArtifactTemplate{
			Server:    server,
			ConfigID:  a.Config,
			Rules:     a.Rules,
			Condition: a.Condition,
		})
	}
	return d, nil
}

// Marshal renders d in the descriptor format. Servers and artifacts keep
// their order.
func Marshal(d models.Descriptor) ([]byte, error) {
	f := file{
		Servers:   make([]models.Server, 0, len(d.Servers)),
		Artifacts: make([]artifact, 0, len(d.Templates)),
	}
	for _, s := range d.Servers {
		s.ID = serverID(s)
		f.Servers = append(f.Servers, s)
	}
	written := models.Descriptor{Servers: f.Servers}

	for _, t := range d.Templates {
		id := serverID(t.Server)
		if _, ok := written.Server(id); !ok {
			return nil, fmt.Errorf("artifact %s references server %q which is not part of the descriptor", t.ConfigID, id)
		}
		f.Artifacts = append(f.Artifacts, artifact{
			Server:    id,
			Config:    t.ConfigID,
			Condition: withDefaultType(t.Condition),
			Rules:     t.Rules,
		})
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

// serverID is the id s is stored under. Servers without one are named by
// the slug of their display name.
func serverID(s models.Server) string {
	if strings.TrimSpace(s.ID) == "" && s.Name != "" {
		return slug.Make(s.Name)
	}
	return s.ID
}

func withDefaultType(c models.Condition) models.Condition {
	if c.Type == "" {
		c.Type = models.LastSuccessful
	}
	return c
}

// Save atomically overwrites path with d.
func Save(path string, d models.Descriptor) error {
	data, err := Marshal(d)
	if err != nil {
		return fmt.Errorf("could not encode descriptor %s: %w", path, err)
	}
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("could not write descriptor %s: %w", path, err)
	}
	return nil
}
