package drl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/italia/drl-sync/pkg/progress"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VersionInfo{Version: 1, ID: "v1", TotalNumberUCVI: 1, TotalChunks: 1, SingleChunkSize: 1})
	})
	mux.HandleFunc("/chunk", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ChunkData{
			VersionInfo:     VersionInfo{Version: 1, ID: "v1"},
			Chunk:           1,
			RevokedUCVIList: []string{HashUCVI("REVOKED-UCVI")},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_RefreshAndCheck(t *testing.T) {
	srv := newTestServer(t)

	opts := DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL
	opts.MinRefreshInterval = 0

	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()

	revoked, err := p.Check(ctx, "REVOKED-UCVI")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !revoked {
		t.Error("expected REVOKED-UCVI to be reported revoked after refresh")
	}

	clean, err := p.Check(ctx, "CLEAN-UCVI")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if clean {
		t.Error("expected CLEAN-UCVI to be reported not revoked")
	}

	status, err := p.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.CurrentVersionMatchesTarget() {
		t.Errorf("expected synced status, got %+v", status)
	}
}

func TestProvider_SupportedCountries(t *testing.T) {
	srv := newTestServer(t)
	opts := DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL

	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	countries := p.SupportedCountries()
	if len(countries) != 1 || countries[0] != "IT" {
		t.Errorf("unexpected supported countries: %v", countries)
	}
}

func TestProvider_SubscribeReceivesProgress(t *testing.T) {
	srv := newTestServer(t)
	opts := DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL
	opts.MinRefreshInterval = 0

	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	var gotCompleted bool
	unsubscribe := p.Subscribe(func(evt progress.DownloadProgress) {
		if evt.IsCompleted {
			gotCompleted = true
		}
	})
	defer unsubscribe()

	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !gotCompleted {
		t.Error("expected a completed progress event after Refresh")
	}
}

// TestProvider_Check_SkipsRefreshWhenFresh confirms that once LastCheck has
// been set by a prior sync, a Check call inside both RefreshInterval and
// MaxFileAge triggers no further refresh at all, per SPEC_FULL.md §4.5 step 4.
func TestProvider_Check_SkipsRefreshWhenFresh(t *testing.T) {
	srv := newTestServer(t)
	opts := DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL
	opts.MinRefreshInterval = 0

	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	status, err := p.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.LastCheck.IsZero() {
		t.Fatal("expected LastCheck to be set after a successful sync")
	}

	if _, err := p.Check(context.Background(), "CLEAN-UCVI"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	after, err := p.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !after.LastCheck.Equal(status.LastCheck) {
		t.Error("expected Check to skip refreshing (and so leave LastCheck untouched) while within both intervals")
	}
}

// TestProvider_Check_BackgroundRefreshWhenStaleButNotExpired confirms that
// once LastCheck is older than RefreshInterval but not MaxFileAge, Check
// answers immediately from whatever is currently stored (not blocking on the
// triggered refresh) when UseAvailableValuesWhileRefreshing is set.
func TestProvider_Check_BackgroundRefreshWhenStaleButNotExpired(t *testing.T) {
	srv := newTestServer(t)
	opts := DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL
	opts.MinRefreshInterval = 0
	opts.UseAvailableValuesWhileRefreshing = true

	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Force LastCheck into the "stale but not expired" window: older than
	// RefreshInterval, still inside MaxFileAge.
	status, err := p.store.LoadOrInitStatus()
	if err != nil {
		t.Fatalf("LoadOrInitStatus failed: %v", err)
	}
	status.LastCheck = time.Now().Add(-2 * opts.RefreshInterval)
	if err := p.store.UpdateStatus(status); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	revoked, err := p.Check(context.Background(), "REVOKED-UCVI")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !revoked {
		t.Error("expected Check to answer from the still-available local data while refreshing in the background")
	}
}
