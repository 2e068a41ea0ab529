package models

import (
	"fmt"
)

// ConfigurationError reports invalid invocation inputs. It is raised before
// any side effect.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file %s does not exist", e.Path)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// FormatError reports a malformed descriptor or manifest.
type FormatError struct {
	Path string
	Err  error
}

type ParseError = FormatError

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func Formatf(path, format string, args ...any) error {
	return &FormatError{Path: path, Err: fmt.Errorf(format, args...)}
}

type ResolutionError struct {
	Template ArtifactTemplate
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Template, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type DownloadError struct {
	Job DownloadJob
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s to %s: %v", e.Job.URL, e.Job.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type ExtractionError struct {
	Job ExtractJob
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s to %s: %v", e.Job.Archive, e.Job.Dest, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
