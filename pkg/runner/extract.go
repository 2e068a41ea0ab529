package runner

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/utils"
)

func (r *Runner) extract(e models.ExtractJob) error {
	if e.After != "" && r.hasFailed(e.After) {
		return ErrDependencyFailed
	}
	archive, err := r.withinWorkingDir(e.Archive)
	if err != nil {
		return err
	}
	dest, err := r.withinWorkingDir(e.Dest)
	if err != nil {
		return err
	}
	return utils.Decompress(archive, dest, entryFilter(e.Include, e.Exclude))
}

// withinWorkingDir resolves p against the working directory. Relative paths
// must stay inside it.
func (r *Runner) withinWorkingDir(p string) (string, error) {
	resolved := utils.ResolvePath(r.workingDirectory, p)
	if !filepath.IsAbs(p) && !utils.WithinDir(r.workingDirectory, resolved) {
		return "", fmt.Errorf("%w: %s", utils.ErrPathTraversal, p)
	}
	return resolved, nil
}

// entryFilter keeps entries matching any include pattern (all entries when
// there are none) and no exclude pattern.
func entryFilter(include, exclude []string) utils.EntryFilter {
	if len(include) == 0 && len(exclude) == 0 {
		return nil
	}
	return func(name string) bool {
		for _, p := range exclude {
			if ok, _ := doublestar.Match(p, name); ok {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, p := range include {
			if ok, _ := doublestar.Match(p, name); ok {
				return true
			}
		}
		return false
	}
}
