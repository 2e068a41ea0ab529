package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/models"
)

type Test struct {
	Name        string
	Jobs        func(base string) []models.Job
	Success     bool
	Expectation func(*testing.T, string, *logging.Recorder)
}

func zipBytes(t testing.TB, entries map[string]string) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zip.NewWriter(&b)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return b.Bytes()
}

func newArtifactServer(t *testing.T) *httptest.Server {
	t.Helper()
	lib := zipBytes(t, map[string]string{
		"lib/a.dll":       "A",
		"docs/index.html": "I",
		"docs/api/x.html": "X",
	})
	evil := zipBytes(t, map[string]string{"../../outside.txt": "E"})

	r := chi.NewRouter()
	r.Get("/files/lib.zip", func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write(lib)
	})
	r.Get("/files/evil.zip", func(w http.ResponseWriter, req *http.Request) {
		w.Write(evil)
	})
	r.Get("/files/notes.txt", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("notes"))
	})
	r.Get("/secure/notes.txt", func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "builder" || pass != "pw" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("secret notes"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func libJobs(base string) []models.Job {
	return []models.Job{
		models.NewDownloadJob("d1", base+"/files/lib.zip", "deps/lib.zip"),
		models.NewExtractJob("e1", models.ExtractJob{Archive: "deps/lib.zip", Dest: "deps", After: "d1"}),
		models.NewDownloadJob("d2", base+"/files/notes.txt", "deps/notes.txt"),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun(t *testing.T) {
	srv := newArtifactServer(t)

	tests := []Test{
		{
			Name:    "Download and extract",
			Jobs:    libJobs,
			Success: true,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.FileExists(t, filepath.Join(wd, "deps", "lib.zip"))
				assert.Equal(t, "A", readFile(t, filepath.Join(wd, "deps", "lib", "a.dll")))
				assert.Equal(t, "notes", readFile(t, filepath.Join(wd, "deps", "notes.txt")))
				assert.Empty(t, rec.Errors())
			},
		},
		{
			Name: "Extract filters",
			Jobs: func(base string) []models.Job {
				return []models.Job{
					models.NewDownloadJob("d1", base+"/files/lib.zip", "lib.zip"),
					models.NewExtractJob("e1", models.ExtractJob{
						Archive: "lib.zip",
						Dest:    "out",
						Include: []string{"docs/**"},
						Exclude: []string{"docs/api/**"},
						After:   "d1",
					}),
				}
			},
			Success: true,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.FileExists(t, filepath.Join(wd, "out", "docs", "index.html"))
				assert.NoFileExists(t, filepath.Join(wd, "out", "docs", "api", "x.html"))
				assert.NoFileExists(t, filepath.Join(wd, "out", "lib", "a.dll"))
			},
		},
		{
			Name: "Failed download does not stop siblings",
			Jobs: func(base string) []models.Job {
				return append(libJobs(base), models.NewDownloadJob("d3", base+"/files/missing.bin", "deps/missing.bin"))
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.Equal(t, "A", readFile(t, filepath.Join(wd, "deps", "lib", "a.dll")))
				assert.Equal(t, "notes", readFile(t, filepath.Join(wd, "deps", "notes.txt")))
				assert.NoFileExists(t, filepath.Join(wd, "deps", "missing.bin"))
				require.Len(t, rec.Errors(), 1)
				assert.Contains(t, rec.Errors()[0].Message, "404")
			},
		},
		{
			Name: "Extract after failed download",
			Jobs: func(base string) []models.Job {
				return []models.Job{
					models.NewDownloadJob("d1", base+"/files/gone.zip", "gone.zip"),
					models.NewExtractJob("e1", models.ExtractJob{Archive: "gone.zip", Dest: "gone", After: "d1"}),
				}
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				errs := rec.Errors()
				require.Len(t, errs, 2)
				assert.Contains(t, errs[0].Message, "downloading")
				assert.Contains(t, errs[1].Message, ErrDependencyFailed.Error())
				assert.NoDirExists(t, filepath.Join(wd, "gone"))
			},
		},
		{
			Name: "Path traversal is rejected",
			Jobs: func(base string) []models.Job {
				return []models.Job{
					models.NewDownloadJob("d1", base+"/files/evil.zip", "box/evil.zip"),
					models.NewExtractJob("e1", models.ExtractJob{Archive: "box/evil.zip", Dest: "box", After: "d1"}),
				}
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.NoFileExists(t, filepath.Join(filepath.Dir(wd), "outside.txt"))
				require.Len(t, rec.Errors(), 1)
				assert.Contains(t, rec.Errors()[0].Message, "escapes destination")
			},
		},
		{
			Name: "Download outside working directory is rejected",
			Jobs: func(base string) []models.Job {
				return []models.Job{models.NewDownloadJob("d1", base+"/files/notes.txt", "../notes.txt")}
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.NoFileExists(t, filepath.Join(filepath.Dir(wd), "notes.txt"))
				require.Len(t, rec.Errors(), 1)
				assert.Contains(t, rec.Errors()[0].Message, "escapes destination")
			},
		},
		{
			Name: "Extract outside working directory is rejected",
			Jobs: func(base string) []models.Job {
				return []models.Job{
					models.NewDownloadJob("d1", base+"/files/lib.zip", "lib.zip"),
					models.NewExtractJob("e1", models.ExtractJob{Archive: "lib.zip", Dest: "../escaped", After: "d1"}),
				}
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.FileExists(t, filepath.Join(wd, "lib.zip"))
				assert.NoDirExists(t, filepath.Join(filepath.Dir(wd), "escaped"))
				require.Len(t, rec.Errors(), 1)
				assert.Contains(t, rec.Errors()[0].Message, "extracting lib.zip")
				assert.Contains(t, rec.Errors()[0].Message, "escapes destination")
			},
		},
		{
			Name: "Unknown job kind",
			Jobs: func(base string) []models.Job {
				return []models.Job{{ID: "x", Kind: "copy"}, models.NewDownloadJob("d2", base+"/files/notes.txt", "notes.txt")}
			},
			Success: false,
			Expectation: func(t *testing.T, wd string, rec *logging.Recorder) {
				assert.FileExists(t, filepath.Join(wd, "notes.txt"))
				assert.Len(t, rec.Errors(), 1)
			},
		},
	}

	for _, test := range tests {
		for _, concurrent := range []bool{false, true} {
			name := test.Name + "/sequential"
			if concurrent {
				name = test.Name + "/concurrent"
			}
			t.Run(name, func(t *testing.T) {
				wd := filepath.Join(t.TempDir(), "work")
				rec := logging.NewRecorder(nil)
				ok := NewRunner(wd, rec).Concurrently(concurrent).Run(context.Background(), test.Jobs(srv.URL))
				assert.Equal(t, test.Success, ok)
				test.Expectation(t, wd, rec)
			})
		}
	}
}

func TestRunModesProduceSameTree(t *testing.T) {
	srv := newArtifactServer(t)
	jobs := append(libJobs(srv.URL), models.NewDownloadJob("d9", srv.URL+"/files/nope", "nope"))

	snapshot := func(concurrent bool) (map[string]string, bool) {
		wd := t.TempDir()
		ok := NewRunner(wd, nil).Concurrently(concurrent).Run(context.Background(), jobs)
		tree := make(map[string]string)
		require.NoError(t, filepath.Walk(wd, func(p string, info os.FileInfo, err error) error {
			require.NoError(t, err)
			if info.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(wd, p)
			tree[rel] = readFile(t, p)
			return nil
		}))
		return tree, ok
	}

	seqTree, seqOK := snapshot(false)
	conTree, conOK := snapshot(true)
	assert.Equal(t, seqOK, conOK)
	assert.Equal(t, seqTree, conTree)
}

func TestConcurrentWaveBarrier(t *testing.T) {
	srv := newArtifactServer(t)
	rec := logging.NewRecorder(nil)

	var jobs []models.Job
	for _, dir := range []string{"a", "b", "c"} {
		jobs = append(jobs,
			models.NewDownloadJob("d-"+dir, srv.URL+"/files/lib.zip", dir+"/lib.zip"),
			models.NewExtractJob("e-"+dir, models.ExtractJob{Archive: dir + "/lib.zip", Dest: dir, After: "d-" + dir}),
		)
	}
	jobs = append(jobs, models.NewDownloadJob("d-bad", srv.URL+"/files/bad", "bad"))

	ok := NewRunner(t.TempDir(), rec).Concurrently(true).Run(context.Background(), jobs)
	assert.False(t, ok)

	lastDownload, firstExtract := -1, -1
	for i, e := range rec.Events() {
		isDownload := strings.HasPrefix(e.Message, "Downloaded") || strings.HasPrefix(e.Message, "downloading")
		isExtract := strings.HasPrefix(e.Message, "Extracted") || strings.HasPrefix(e.Message, "extracting")
		if isDownload {
			lastDownload = i
		}
		if isExtract && firstExtract < 0 {
			firstExtract = i
		}
	}
	require.GreaterOrEqual(t, firstExtract, 0)
	assert.Less(t, lastDownload, firstExtract, "every download, failed or not, finishes before any extraction")
}

type countingTransport struct {
	inFlight int32
	peak     int32
	next     http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	return c.next.RoundTrip(req)
}

func TestMaxParallel(t *testing.T) {
	srv := newArtifactServer(t)
	transport := &countingTransport{next: http.DefaultTransport}

	var jobs []models.Job
	for _, dir := range []string{"a", "b", "c", "d"} {
		jobs = append(jobs, models.NewDownloadJob("d-"+dir, srv.URL+"/files/lib.zip", dir+"/lib.zip"))
	}

	ok := NewRunner(t.TempDir(), nil).
		Concurrently(true).
		WithMaxParallel(2).
		WithHTTPClient(&http.Client{Transport: transport}).
		Run(context.Background(), jobs)
	assert.True(t, ok)
	assert.LessOrEqual(t, atomic.LoadInt32(&transport.peak), int32(2))
}

func TestUnreachableDownloadsAreEachLoggedOnce(t *testing.T) {
	rec := logging.NewRecorder(nil)
	jobs := []models.Job{
		models.NewDownloadJob("d1", "http://127.0.0.1:1/a.zip", "a.zip"),
		models.NewDownloadJob("d2", "http://127.0.0.1:1/b.zip", "b.zip"),
	}

	ok := NewRunner(t.TempDir(), rec).Concurrently(true).Run(context.Background(), jobs)
	assert.False(t, ok)

	errs := rec.Errors()
	require.Len(t, errs, 2)
	var joined []string
	for _, e := range errs {
		joined = append(joined, e.Message)
	}
	sort.Strings(joined)
	assert.Contains(t, joined[0], "a.zip")
	assert.Contains(t, joined[1], "b.zip")
}

func TestDownloadCredentials(t *testing.T) {
	srv := newArtifactServer(t)
	wd := t.TempDir()
	servers := []models.Server{{
		ID:          "ci",
		URL:         srv.URL,
		Type:        models.ServerTypeTeamCity,
		Credentials: &models.Credentials{Username: "builder", Password: "pw"},
	}}
	jobs := []models.Job{models.NewDownloadJob("d1", srv.URL+"/secure/notes.txt", "notes.txt")}

	assert.False(t, NewRunner(wd, nil).Run(context.Background(), jobs))
	assert.True(t, NewRunner(wd, nil).WithCredentials(servers).Run(context.Background(), jobs))
	assert.Equal(t, "secret notes", readFile(t, filepath.Join(wd, "notes.txt")))
}

func TestDownloadOverwritesExistingFile(t *testing.T) {
	srv := newArtifactServer(t)
	wd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(wd, "notes.txt"), []byte("a much longer stale content"), 0644))

	ok := NewRunner(wd, nil).Run(context.Background(), []models.Job{
		models.NewDownloadJob("d1", srv.URL+"/files/notes.txt", "notes.txt"),
	})
	assert.True(t, ok)
	assert.Equal(t, "notes", readFile(t, filepath.Join(wd, "notes.txt")))
}
