package transmission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

func setupTestClient(server *httptest.Server) *Client {
	client := New(&types.ClientConfig{Host: "127.0.0.1", Port: 9091}, zerolog.Nop())
	client.rpcURL = server.URL + "/transmission/rpc"
	return client
}

func rpcSuccess(w http.ResponseWriter, args map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"result": "success", "arguments": args})
}

func TestClient_SessionBootstrap409(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get(sessionIDHeader) == "" {
			w.Header().Set(sessionIDHeader, "session-abc")
			w.WriteHeader(http.StatusConflict)
			return
		}
		if got := r.Header.Get(sessionIDHeader); got != "session-abc" {
			t.Errorf("expected session id from 409 header, got %q", got)
		}
		rpcSuccess(w, nil)
	}))
	defer server.Close()

	client := setupTestClient(server)
	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 requests (409 + retry), got %d", calls)
	}
}

func TestClient_DoubleConflictFailsWithoutLooping(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set(sessionIDHeader, "rotating")
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := setupTestClient(server)
	err := client.Test(context.Background())
	if !provider.IsAuthError(err) {
		t.Fatalf("expected auth error after second 409, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 requests, got %d", calls)
	}
}

func TestClient_AddURL_ReturnsHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "torrent-add" {
			t.Errorf("unexpected method %s", req.Method)
		}
		if req.Arguments["filename"] != "https://idx.example/file.torrent" {
			t.Errorf("unexpected filename %v", req.Arguments["filename"])
		}
		if req.Arguments["download-dir"] != "/books" {
			t.Errorf("download dir not set, got %v", req.Arguments["download-dir"])
		}
		rpcSuccess(w, map[string]any{
			"torrent-added": map[string]any{"hashString": "cafebabe", "id": float64(7)},
		})
	}))
	defer server.Close()

	client := setupTestClient(server)
	id, err := client.AddURL(context.Background(), "https://idx.example/file.torrent", &types.AddOptions{DownloadDir: "/books"})
	if err != nil {
		t.Fatalf("AddURL() failed: %v", err)
	}
	if id != "cafebabe" {
		t.Errorf("expected hash id, got %q", id)
	}
}

func TestClient_AddURL_DuplicateStillReturnsID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpcSuccess(w, map[string]any{
			"torrent-duplicate": map[string]any{"hashString": "deadbeef"},
		})
	}))
	defer server.Close()

	client := setupTestClient(server)
	id, err := client.AddURL(context.Background(), "magnet:?xt=urn:btih:deadbeef", nil)
	if err != nil {
		t.Fatalf("AddURL() failed: %v", err)
	}
	if id != "deadbeef" {
		t.Errorf("expected duplicate hash, got %q", id)
	}
}

func TestClient_Items_MapsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpcSuccess(w, map[string]any{
			"torrents": []any{
				map[string]any{
					"hashString": "aaa", "name": "Dune.epub", "status": float64(4),
					"percentDone": 0.5, "sizeWhenDone": float64(1000),
					"downloadedEver": float64(500), "rateDownload": float64(100),
					"eta": float64(5), "downloadDir": "/books",
				},
				map[string]any{
					"hashString": "bbb", "name": "Bad.epub", "status": float64(0),
					"percentDone": 0.1, "error": float64(3), "errorString": "tracker gone",
					"eta": float64(-1),
				},
			},
		})
	}))
	defer server.Close()

	client := setupTestClient(server)
	items, err := client.Items(context.Background())
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Status != types.StatusDownloading || items[0].Progress != 0.5 {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].Status != types.StatusFailed || items[1].Error != "tracker gone" {
		t.Errorf("expected failed item with error, got %+v", items[1])
	}
	if items[1].ETA != -1 {
		t.Errorf("expected ETA -1, got %d", items[1].ETA)
	}
}

func TestClient_RPCFailureResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": "invalid argument"})
	}))
	defer server.Close()

	client := setupTestClient(server)
	err := client.Test(context.Background())
	if provider.GetKind(err) != provider.KindProtocolFault {
		t.Fatalf("expected protocol fault, got %v", err)
	}
}
