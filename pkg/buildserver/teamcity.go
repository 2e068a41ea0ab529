package buildserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/opnlabs/artifetch/pkg/models"
)

const defaultTimeout = 30 * time.Second

// TeamCity is a client for the TeamCity REST API. Without credentials it uses
// guest access.
type TeamCity struct {
	server   models.Server
	baseURL  string
	client   *http.Client
	username string
	password string
	hasAuth  bool
}

func NewTeamCity(s models.Server, client *http.Client) *TeamCity {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	tc := &TeamCity{
		server:  s,
		baseURL: strings.TrimRight(s.URL, "/"),
		client:  client,
	}
	tc.username, tc.password, tc.hasAuth = Credentials(s)
	return tc
}

type tcBuilds struct {
	Count int       `json:"count"`
	Build []tcBuild `json:"build"`
}

type tcBuild struct {
	ID          int    `json:"id"`
	Number      string `json:"number"`
	BuildTypeID string `json:"buildTypeId"`
	Status      string `json:"status"`
}

type tcFiles struct {
	Count int      `json:"count"`
	File  []tcFile `json:"file"`
}

type tcFile struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Content  *tcHref `json:"content"`
	Children *tcHref `json:"children"`
}

type tcHref struct {
	Href string `json:"href"`
}

type tcDependencies struct {
	Count      int            `json:"count"`
	Dependency []tcDependency `json:"artifact-dependency"`
}

type tcDependency struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Properties  tcProperties `json:"properties"`
	SourceBuild tcBuildType  `json:"source-buildType"`
}

type tcProperties struct {
	Property []tcProperty `json:"property"`
}

type tcProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type tcBuildType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (t *TeamCity) authPrefix() string {
	if t.hasAuth {
		return "httpAuth"
	}
	return "guestAuth"
}

func (t *TeamCity) restURL(p string) string {
	return t.baseURL + "/" + t.authPrefix() + "/app/rest/" + strings.TrimLeft(p, "/")
}

func (t *TeamCity) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if t.hasAuth {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &ConnectivityError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: rawURL, Code: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response from %s: %w", rawURL, err)
	}
	return nil
}

// locator builds the TeamCity build locator for a condition.
func locator(configID string, cond models.Condition) string {
	parts := []string{fmt.Sprintf("buildType:(id:%s)", configID)}
	switch cond.Type {
	case models.LastSuccessful, "":
		parts = append(parts, "status:SUCCESS", "state:finished")
	case models.LastPinned:
		parts = append(parts, "pinned:true")
	case models.LastFinished:
		parts = append(parts, "state:finished")
	case models.BuildNumber:
		parts = append(parts, fmt.Sprintf("number:%s", cond.Value))
	case models.BuildTag:
		parts = append(parts, fmt.Sprintf("tag:%s", cond.Value))
	}
	if cond.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch:(name:%s)", cond.Branch))
	}
	parts = append(parts, "count:1")
	return strings.Join(parts, ",")
}

func (t *TeamCity) findBuild(ctx context.Context, configID string, cond models.Condition) (tcBuild, error) {
	q := url.Values{}
	q.Set("locator", locator(configID, cond))
	var builds tcBuilds
	if err := t.get(ctx, t.restURL("builds")+"?"+q.Encode(), &builds); err != nil {
		return tcBuild{}, err
	}
	if len(builds.Build) == 0 {
		return tcBuild{}, fmt.Errorf("%w: %s %s", ErrNoBuild, configID, cond)
	}
	return builds.Build[0], nil
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (t *TeamCity) ListArtifacts(ctx context.Context, configID string, cond models.Condition) ([]models.ArtifactInfo, error) {
	build, err := t.findBuild(ctx, configID, cond)
	if err != nil {
		return nil, err
	}

	var out []models.ArtifactInfo
	if err := t.walk(ctx, build.ID, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *TeamCity) walk(ctx context.Context, buildID int, dir string, out *[]models.ArtifactInfo) error {
	listURL := t.restURL(fmt.Sprintf("builds/id:%d/artifacts/children", buildID))
	if dir != "" {
		listURL += "/" + escapePath(dir)
	}

	var files tcFiles
	if err := t.get(ctx, listURL, &files); err != nil {
		return err
	}
	for _, f := range files.File {
		rel := path.Join(dir, f.Name)
		switch {
		case f.Content != nil:
			*out = append(*out, models.ArtifactInfo{
				RemoteURL:    t.restURL(fmt.Sprintf("builds/id:%d/artifacts/files/%s", buildID, escapePath(rel))),
				RelativePath: rel,
				IsArchive:    models.IsArchive(rel),
			})
		case f.Children != nil:
			if err := t.walk(ctx, buildID, rel, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *TeamCity) ListArtifactDependencies(ctx context.Context, configID string) ([]models.ArtifactProperties, error) {
	var deps tcDependencies
	if err := t.get(ctx, t.restURL(fmt.Sprintf("buildTypes/id:%s/artifact-dependencies", configID)), &deps); err != nil {
		return nil, err
	}

	out := make([]models.ArtifactProperties, 0, len(deps.Dependency))
	for _, d := range deps.Dependency {
		p := models.ArtifactProperties{
			ID:               d.ID,
			SourceConfigID:   d.SourceBuild.ID,
			SourceConfigName: d.SourceBuild.Name,
		}
		for _, prop := range d.Properties.Property {
			switch prop.Name {
			case "pathRules":
				p.PathRules = prop.Value
			case "revisionName":
				p.RevisionName = prop.Value
			case "revisionValue":
				p.RevisionValue = prop.Value
			case "revisionBranch":
				p.Branch = prop.Value
			case "source_buildTypeId":
				if p.SourceConfigID == "" {
					p.SourceConfigID = prop.Value
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Template turns an artifact dependency configured on a build server into
// an artifact template bound to s.
func Template(s models.Server, p models.ArtifactProperties) models.ArtifactTemplate {
	cond := models.Condition{Branch: p.Branch}
	switch p.RevisionName {
	case "lastPinned":
		cond.Type = models.LastPinned
	case "lastFinished":
		cond.Type = models.LastFinished
	case "buildNumber":
		cond.Type = models.BuildNumber
		cond.Value = p.RevisionValue
	case "buildTag":
		cond.Type = models.BuildTag
		cond.Value = strings.TrimSuffix(p.RevisionValue, ".tcbuildtag")
	default:
		cond.Type = models.LastSuccessful
	}

	var rules []string
	for _, line := range strings.Split(p.PathRules, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rules = append(rules, line)
		}
	}

	return models.ArtifactTemplate{
		Server:    s,
		ConfigID:  p.SourceConfigID,
		Rules:     rules,
		Condition: cond,
	}
}
