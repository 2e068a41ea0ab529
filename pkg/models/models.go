// Package models holds the descriptor, template and job types shared by the
// codecs, the resolver and the runner.
package models

import (
	"fmt"
	"path"
	"strings"
)

const ServerTypeTeamCity = "teamcity"

type ConditionType string

const (
	LastSuccessful ConditionType = "lastSuccessful"
	LastPinned     ConditionType = "lastPinned"
	LastFinished   ConditionType = "lastFinished"
	BuildNumber    ConditionType = "buildNumber"
	BuildTag       ConditionType = "buildTag"
)

type Credentials struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password,omitempty"`
}

// Server is an upstream build server. Two servers are the same server when
// their ids match.
type Server struct {
	ID          string       `yaml:"id" validate:"required"`
	Name        string       `yaml:"name,omitempty"`
	URL         string       `yaml:"url" validate:"required,url"`
	Type        string       `yaml:"type" validate:"required,oneof=teamcity"`
	Credentials *Credentials `yaml:"credentials,omitempty"`
}

func (s Server) Equal(other Server) bool {
	return s.ID == other.ID
}

func (s Server) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Condition selects which build of a configuration the artifacts are taken from.
type Condition struct {
	Type   ConditionType `yaml:"type" validate:"required,oneof=lastSuccessful lastPinned lastFinished buildNumber buildTag"`
	Value  string        `yaml:"value,omitempty"`
	Branch string        `yaml:"branch,omitempty"`
}

func (c Condition) Validate() error {
	switch c.Type {
	case BuildNumber, BuildTag:
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("condition %s requires a value", c.Type)
		}
	case LastSuccessful, LastPinned, LastFinished:
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

func (c Condition) String() string {
	var s string
	switch c.Type {
	case LastSuccessful:
		s = "latest successful"
	case LastPinned:
		s = "latest pinned"
	case LastFinished:
		s = "latest finished"
	case BuildNumber:
		s = "build #" + c.Value
	case BuildTag:
		s = "build tagged " + c.Value
	default:
		s = string(c.Type)
	}
	if c.Branch != "" {
		s += " on " + c.Branch
	}
	return s
}

// Key identifies the condition for caching server listings.
func (c Condition) Key() string {
	return strings.Join([]string{string(c.Type), c.Value, c.Branch}, "|")
}

type ArtifactTemplate struct {
	Server    Server
	ConfigID  string
	Rules     []string
	Condition Condition
}

func (a ArtifactTemplate) String() string {
	return fmt.Sprintf("%s:%s (%s)", a.Server, a.ConfigID, a.Condition)
}

type Descriptor struct {
	Servers   []Server
	Templates []ArtifactTemplate
}

// Server returns the server with the given id.
func (d Descriptor) Server(id string) (Server, bool) {
	for _, s := range d.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// ArtifactInfo is one entry of a build server's artifact listing.
type ArtifactInfo struct {
	RemoteURL    string
	RelativePath string
	IsArchive    bool
}

// ArtifactProperties describes an artifact dependency configured on the
// build server itself.
type ArtifactProperties struct {
	ID               string
	SourceConfigID   string
	SourceConfigName string
	PathRules        string
	RevisionName     string
	RevisionValue    string
	Branch           string
}

func IsArchive(name string) bool {
	name = strings.ToLower(path.Base(name))
	for _, ext := range []string{".zip", ".tar", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

type JobKind string

const (
	KindDownload JobKind = "download"
	KindExtract  JobKind = "extract"
)

type DownloadJob struct {
	URL  string
	Path string
}

type ExtractJob struct {
	Archive string
	Dest    string
	Include []string
	Exclude []string
	// After is the id of the download job producing Archive.
	After string
}

// Job is a tagged variant: exactly one of Download or Extract is set,
// matching Kind.
type Job struct {
	ID       string
	Kind     JobKind
	Download *DownloadJob
	Extract  *ExtractJob
}

func NewDownloadJob(id, url, dest string) Job {
	return Job{ID: id, Kind: KindDownload, Download: &DownloadJob{URL: url, Path: dest}}
}

// NewExtractJob stores empty filters as nil; an empty filter means no filter.
func NewExtractJob(id string, e ExtractJob) Job {
	if len(e.Include) == 0 {
		e.Include = nil
	}
	if len(e.Exclude) == 0 {
		e.Exclude = nil
	}
	return Job{ID: id, Kind: KindExtract, Extract: &e}
}

func (j Job) String() string {
	switch j.Kind {
	case KindDownload:
		return fmt.Sprintf("download %s -> %s", j.Download.URL, j.Download.Path)
	case KindExtract:
		return fmt.Sprintf("extract %s -> %s", j.Extract.Archive, j.Extract.Dest)
	default:
		return fmt.Sprintf("job %s (%s)", j.ID, j.Kind)
	}
}
