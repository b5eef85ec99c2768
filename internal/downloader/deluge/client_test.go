package deluge

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

type rpcCall struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

func decodeCall(t *testing.T, r *http.Request) rpcCall {
	t.Helper()
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		t.Fatalf("failed to decode RPC call: %v", err)
	}
	return call
}

func respond(w http.ResponseWriter, id int, result any, rpcErr map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rpcErr, "id": id})
}

func setupTestClient(server *httptest.Server) *Client {
	client := New(&types.ClientConfig{Password: "deluge"}, zerolog.Nop())
	client.rpcURL = server.URL + "/json"
	return client
}

func TestClient_Test_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "auth.login":
			w.Header().Set("Set-Cookie", "_session_id=test123; Path=/")
			respond(w, call.ID, true, nil)
		case "web.connected":
			respond(w, call.ID, true, nil)
		case "daemon.get_version":
			respond(w, call.ID, "2.1.1", nil)
		default:
			t.Errorf("unexpected method: %s", call.Method)
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() failed: %v", err)
	}
}

func TestClient_Test_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		if call.Method == "auth.login" {
			respond(w, call.ID, false, nil)
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	if err := client.Test(context.Background()); !provider.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestClient_SessionExpiry_RetriesOnce(t *testing.T) {
	logins := 0
	versionCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "auth.login":
			logins++
			respond(w, call.ID, true, nil)
		case "web.connected":
			respond(w, call.ID, true, nil)
		case "daemon.get_version":
			versionCalls++
			if versionCalls == 1 {
				respond(w, call.ID, nil, map[string]any{"message": "Not authenticated", "code": 1})
				return
			}
			respond(w, call.ID, "2.1.1", nil)
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() failed after session refresh: %v", err)
	}
	if logins != 2 {
		t.Errorf("expected 2 logins, got %d", logins)
	}
	if versionCalls != 2 {
		t.Errorf("expected request retried exactly once, got %d calls", versionCalls)
	}
}

func TestClient_SessionExpiry_SecondRejectionFails(t *testing.T) {
	versionCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "auth.login":
			respond(w, call.ID, true, nil)
		case "web.connected":
			respond(w, call.ID, true, nil)
		case "daemon.get_version":
			versionCalls++
			respond(w, call.ID, nil, map[string]any{"message": "Not authenticated", "code": 1})
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	err := client.Test(context.Background())
	if !provider.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if versionCalls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", versionCalls)
	}
}

func TestClient_AddMagnet_SetsLabel(t *testing.T) {
	var labeled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "auth.login", "web.connected":
			respond(w, call.ID, true, nil)
		case "core.add_torrent_magnet":
			respond(w, call.ID, "abc123hash", nil)
		case "label.set_torrent":
			labeled = true
			if call.Params[1] != "books" {
				t.Errorf("expected label books, got %v", call.Params[1])
			}
			respond(w, call.ID, nil, nil)
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	id, err := client.AddMagnet(context.Background(), "magnet:?xt=urn:btih:abc123hash", &types.AddOptions{Category: "books"})
	if err != nil {
		t.Fatalf("AddMagnet() failed: %v", err)
	}
	if id != "abc123hash" {
		t.Errorf("unexpected id %q", id)
	}
	if !labeled {
		t.Error("expected label.set_torrent call")
	}
}

func TestClient_Items(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "auth.login", "web.connected":
			respond(w, call.ID, true, nil)
		case "core.get_torrents_status":
			respond(w, call.ID, map[string]any{
				"abc123": map[string]any{
					"name": "Dune.epub", "state": "Downloading", "progress": 45.5,
					"total_size": 1048576.0, "total_done": 471859.0,
					"download_payload_rate": 2048.0, "eta": 300.0, "save_path": "/books",
				},
			}, nil)
		}
	}))
	defer server.Close()

	client := setupTestClient(server)
	items, err := client.Items(context.Background())
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ID != "abc123" || items[0].Status != types.StatusDownloading {
		t.Errorf("unexpected item: %+v", items[0])
	}
	if items[0].Progress != 0.455 {
		t.Errorf("expected progress 0.455, got %v", items[0].Progress)
	}
}
