package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	"sjsage522/modaggregator/services/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingTemplate = `
<!DOCTYPE html>
<html>
<body>
    <div class="mods">
        <div class="mod">
            <h3 class="name"><a href="/mods/roads">Better Roads</a></h3>
            <span class="version">%s</span>
            <span class="author">alice</span>
            <time class="updated" datetime="%s"></time>
        </div>
        <div class="mod">
            <h3 class="name"><a href="/mods/sky">Night Sky</a></h3>
            <span class="version">2.0</span>
            <time class="updated" datetime="2024-01-15T08:00:00Z"></time>
        </div>
    </div>
</body>
</html>`

// listingServer serves a mod listing whose first entry can be bumped.
type listingServer struct {
	*httptest.Server
	mu      sync.Mutex
	version string
	updated string
	hits    atomic.Int32
}

func newListingServer(t *testing.T) *listingServer {
	ls := &listingServer{version: "1.0", updated: "2024-03-01T10:00:00Z"}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.hits.Add(1)
		ls.mu.Lock()
		defer ls.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, listingTemplate, ls.version, ls.updated)
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *listingServer) bump(version, updated string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.version = version
	ls.updated = updated
}

func writeSitesFile(t *testing.T, dir, listURL string) string {
	doc := fmt.Sprintf(`
sites:
  - name: test-mods
    url: %s/mods
    parser_config:
      list_selector: .mod
      title_selector: .name a
      url_selector: .name a
      version_selector: .version
      author_selector: .author
      updated_selector: time.updated
`, listURL)
	path := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func setTestEnv(t *testing.T, dir string) {
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "modagg.db"))
	t.Setenv("SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("LEGACY_SNAPSHOT_DIR", filepath.Join(dir, "saved_pages"))
	t.Setenv("SITES_FILE", "")
	t.Setenv("MEMCACHE_ADDR", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("METRICS_ADDR", "")
}

func TestPipelineDetectsVersionBump(t *testing.T) {
	logger.Init()
	ctx := context.Background()
	dir := t.TempDir()
	server := newListingServer(t)

	setTestEnv(t, dir)
	cfg, err := loadConfig()
	require.NoError(t, err)

	deps, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	n, err := importSites(ctx, deps, writeSitesFile(t, dir, server.URL))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w := newWorker(deps, cfg)

	// First sight only creates records.
	report := w.CheckSites(ctx, model.AnySite, false)
	require.NoError(t, report.Err)
	require.Len(t, report.Succeeded(), 1)
	first := report.Sites[0]
	assert.Equal(t, 2, first.Created)
	assert.Empty(t, first.Events)
	assert.EqualValues(t, 1, server.hits.Load())

	// A cached check serves the stored capture.
	server.bump("1.1", "2024-04-01T10:00:00Z")
	report = w.CheckSites(ctx, model.AnySite, false)
	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Sites[0].Unchanged)
	assert.Empty(t, report.Events())
	assert.EqualValues(t, 1, server.hits.Load())

	// A live check sees the bump.
	report = w.CheckSites(ctx, model.AnySite, true)
	require.NoError(t, report.Err)
	assert.EqualValues(t, 2, server.hits.Load())
	events := report.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Better Roads", events[0].Title)
	assert.Equal(t, "1.0", events[0].OldVersion)
	assert.Equal(t, "1.1", events[0].NewVersion)
	assert.Equal(t, server.URL+"/mods/roads", events[0].URL)
	assert.Equal(t, 1, report.Sites[0].Notified)

	notes, err := deps.Notifications.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Mod update: Better Roads", notes[0].Title)
	assert.Equal(t, "Version changed: 1.0 → 1.1", notes[0].Message)

	// Both captures of the listing are kept as versions.
	versions, err := deps.Snapshots.Versions(ctx, model.AnySite, server.URL+"/mods")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	records, err := deps.Records.List(ctx, model.AnySite)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1.1", records[0].Version)
}

func TestScheduledRunDetectsVersionBump(t *testing.T) {
	logger.Init()
	dir := t.TempDir()
	server := newListingServer(t)

	setTestEnv(t, dir)
	cfg, err := loadConfig()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()
	_, err = importSites(ctx, deps, writeSitesFile(t, dir, server.URL))
	require.NoError(t, err)

	w := worker.NewWorker(deps.Sites, deps.Resolver, deps.Detector, deps.Notifier, deps.Metrics, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		records, err := deps.Records.List(ctx, model.AnySite)
		return err == nil && len(records) == 2
	}, 5*time.Second, 10*time.Millisecond)

	server.bump("1.2", "2024-05-01T10:00:00Z")

	var notes []model.Notification
	assert.Eventually(t, func() bool {
		unread, err := deps.Notifications.List(ctx, true)
		notes = unread
		return err == nil && len(unread) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.Len(t, notes, 1)
	assert.Equal(t, "Version changed: 1.0 → 1.2", notes[0].Message)
	assert.Greater(t, server.hits.Load(), int32(1), "every scheduled run fetches the listing")
}

func TestPipelineIsolatesFailingSite(t *testing.T) {
	logger.Init()
	ctx := context.Background()
	dir := t.TempDir()
	good := newListingServer(t)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	setTestEnv(t, dir)
	cfg, err := loadConfig()
	require.NoError(t, err)
	deps, err := initializeServices(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	_, err = importSites(ctx, deps, writeSitesFile(t, dir, good.URL))
	require.NoError(t, err)
	_, err = deps.Sites.Upsert(ctx, &model.Site{
		Name:   "broken",
		URL:    bad.URL + "/mods",
		Config: model.ExtractionConfig{ItemSelector: ".mod", URLSelector: "a"},
	})
	require.NoError(t, err)

	report := newWorker(deps, cfg).CheckSites(ctx, model.AnySite, false)
	require.NoError(t, report.Err)
	require.Len(t, report.Succeeded(), 1)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "test-mods", report.Succeeded()[0].Site.Name)
	assert.Contains(t, report.Failed()[0].Err.Error(), "site=broken")

	// Nothing is cached for the failed fetch.
	snaps, err := deps.Snapshots.Versions(ctx, model.AnySite, bad.URL+"/mods")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func runCommand(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	logger.Init()
	dir := t.TempDir()
	server := newListingServer(t)
	setTestEnv(t, dir)

	out, err := runCommand(t, "sites", "import", writeSitesFile(t, dir, server.URL))
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 sites")

	out, err = runCommand(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "test-mods")
	assert.Contains(t, out, "new=2")

	server.bump("1.1", "2024-04-01T10:00:00Z")
	out, err = runCommand(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Better Roads: 1.0 → 1.1")

	out, err = runCommand(t, "mods", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "1.1"`)

	out, err = runCommand(t, "notifications", "list", "--unread")
	require.NoError(t, err)
	assert.Contains(t, out, "Mod update: Better Roads")

	out, err = runCommand(t, "snapshots", "list", "--url", server.URL+"/mods/")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "`+server.URL+`/mods"`)

	_, err = runCommand(t, "snapshots", "show", "abc")
	assert.Error(t, err)
}

func TestPreviewCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(listingTemplate, "1.0", "2024-03-01T10:00:00Z")), 0o644))

	out, err := runCommand(t, "preview", "--file", path, "--selector", ".mod .version")
	require.NoError(t, err)
	assert.Contains(t, out, `"matches": 2`)
	assert.Contains(t, out, `"text": "1.0"`)

	_, err = runCommand(t, "preview", "--file", path, "--selector", "((")
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	setTestEnv(t, t.TempDir())
	t.Setenv("CHECK_INTERVAL_SECONDS", "0")
	_, err := loadConfig()
	assert.Error(t, err)
}
