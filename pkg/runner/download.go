package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/opnlabs/artifetch/pkg/buildserver"
	"github.com/opnlabs/artifetch/pkg/models"
)

// WithCredentials sends the credentials of each server with downloads from
// that server's host.
func (r *Runner) WithCredentials(servers []models.Server) *Runner {
	for _, s := range servers {
		user, pass, ok := buildserver.Credentials(s)
		if !ok {
			continue
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" {
			continue
		}
		r.auth[u.Host] = basicAuth{username: user, password: pass}
	}
	return r
}

func (r *Runner) download(ctx context.Context, d models.DownloadJob) error {
	dest, err := r.withinWorkingDir(d.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", dest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	if a, ok := r.auth[req.URL.Host]; ok {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
