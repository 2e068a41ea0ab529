// Package buildserver talks to upstream build servers. The resolver only
// sees the BuildServer interface; New picks an implementation from the
// server's type tag.
package buildserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/opnlabs/artifetch/pkg/models"
)

var (
	ErrUnknownServerType = errors.New("buildserver: unknown server type")
	ErrNoBuild           = errors.New("buildserver: no build matches the condition")
)

type BuildServer interface {
	// ListArtifacts returns every artifact of the build of configID selected
	// by cond.
	ListArtifacts(ctx context.Context, configID string, cond models.Condition) ([]models.ArtifactInfo, error)

	// ListArtifactDependencies returns the artifact dependencies configured
	// on configID itself.
	ListArtifactDependencies(ctx context.Context, configID string) ([]models.ArtifactProperties, error)
}

// Factory creates the client for a server. The orchestrator takes one so
// tests can substitute fakes.
type Factory func(models.Server) (BuildServer, error)

// New returns a client for s based on its type tag.
func New(s models.Server) (BuildServer, error) {
	switch s.Type {
	case models.ServerTypeTeamCity:
		return NewTeamCity(s, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q (server %s)", ErrUnknownServerType, s.Type, s.ID)
	}
}

// ConnectivityError reports that the server could not be reached at all.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.IsAuth() {
		return fmt.Sprintf("%s: not authorized (%s)", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %s", e.URL, e.Status)
}

func (e *StatusError) IsAuth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// Credentials returns s's credentials with environment references such as
// ${TC_PASSWORD} expanded.
func Credentials(s models.Server) (username, password string, ok bool) {
	if s.Credentials == nil || s.Credentials.Username == "" {
		return "", "", false
	}
	return os.ExpandEnv(s.Credentials.Username), os.ExpandEnv(s.Credentials.Password), true
}
