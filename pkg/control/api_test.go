package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/italia/drl-sync/pkg/drl"
)

func newTestProvider(t *testing.T) *drl.Provider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(drl.VersionInfo{Version: 1, ID: "v1", TotalNumberUCVI: 1, TotalChunks: 1, SingleChunkSize: 1})
	})
	mux.HandleFunc("/chunk", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(drl.ChunkData{
			VersionInfo:     drl.VersionInfo{Version: 1, ID: "v1"},
			Chunk:           1,
			RevokedUCVIList: []string{drl.HashUCVI("REVOKED-UCVI")},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts := drl.DefaultOptions()
	opts.BasePath = t.TempDir()
	opts.UpstreamURL = srv.URL
	opts.MinRefreshInterval = 0

	p, err := drl.NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func startTestServer(t *testing.T, provider *drl.Provider) net.Listener {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	server := NewServer(provider)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go func() {
		_ = server.Serve(ctx, listener)
	}()
	time.Sleep(10 * time.Millisecond)
	return listener
}

func roundTrip(t *testing.T, listener net.Listener, request Request) Response {
	t.Helper()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	var response Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return response
}

func TestControlAPIServer_Refresh(t *testing.T) {
	provider := newTestProvider(t)
	listener := startTestServer(t, provider)

	response := roundTrip(t, listener, Request{Method: "refresh", ID: "test-1"})
	if response.ID != "test-1" {
		t.Errorf("Expected response ID 'test-1', got %s", response.ID)
	}
	if response.Error != "" {
		t.Errorf("Unexpected error in response: %s", response.Error)
	}
}

func TestControlAPIServer_Check(t *testing.T) {
	provider := newTestProvider(t)
	listener := startTestServer(t, provider)

	roundTrip(t, listener, Request{Method: "refresh", ID: "warmup"})

	response := roundTrip(t, listener, Request{
		Method: "check",
		ID:     "test-2",
		Params: map[string]interface{}{"ucvi": "REVOKED-UCVI"},
	})
	if response.Error != "" {
		t.Fatalf("Unexpected error in response: %s", response.Error)
	}
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result to be a map, got %T", response.Result)
	}
	if revoked, _ := result["revoked"].(bool); !revoked {
		t.Error("Expected revoked=true for REVOKED-UCVI")
	}
}

func TestControlAPIServer_CheckMissingParam(t *testing.T) {
	provider := newTestProvider(t)
	listener := startTestServer(t, provider)

	response := roundTrip(t, listener, Request{Method: "check", ID: "test-3"})
	if response.Error == "" {
		t.Error("Expected error in response for missing ucvi parameter")
	}
}

func TestControlAPIServer_UnknownMethod(t *testing.T) {
	provider := newTestProvider(t)
	listener := startTestServer(t, provider)

	response := roundTrip(t, listener, Request{Method: "bogus", ID: "test-4"})
	if response.Error == "" {
		t.Error("Expected error in response for unknown method")
	}
}
