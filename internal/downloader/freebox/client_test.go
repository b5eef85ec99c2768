package freebox

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // matches the API's challenge algorithm
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

const testAppToken = "app-token-123"

func newTestClient(t *testing.T, server *httptest.Server, appToken string) *Client {
	t.Helper()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	port := 80
	fmt.Sscanf(u.Port(), "%d", &port)

	return New(&types.ClientConfig{
		Name:     "freebox",
		Host:     u.Hostname(),
		Port:     port,
		AppToken: appToken,
	}, zerolog.Nop())
}

func expectedAnswer(challenge string) string {
	mac := hmac.New(sha1.New, []byte(testAppToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTest_ChallengeLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			fmt.Fprint(w, `{"success": true, "result": {"challenge": "nonce-1"}}`)
		case "/api/v1/login/session":
			var payload struct {
				AppID    string `json:"app_id"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatal(err)
			}
			if payload.Password != expectedAnswer("nonce-1") {
				t.Errorf("challenge answer = %q", payload.Password)
			}
			fmt.Fprint(w, `{"success": true, "result": {"session_token": "sess-1"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	if err := newTestClient(t, server, testAppToken).Test(context.Background()); err != nil {
		t.Fatalf("Test() = %v", err)
	}
}

func TestMissingAppToken_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an app token")
	}))
	defer server.Close()

	err := newTestClient(t, server, "").Test(context.Background())
	if !provider.IsAuthError(err) {
		t.Fatalf("error = %v, want auth error", err)
	}
}

func TestExpiredSession_ReopensOnce(t *testing.T) {
	var logins, listCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			fmt.Fprint(w, `{"success": true, "result": {"challenge": "nonce"}}`)
		case "/api/v1/login/session":
			logins++
			fmt.Fprintf(w, `{"success": true, "result": {"session_token": "sess-%d"}}`, logins)
		case "/api/v1/downloads/":
			listCalls++
			if r.Header.Get("X-Fbx-App-Auth") == "sess-1" {
				fmt.Fprint(w, `{"success": false, "error_code": "auth_required", "msg": "session expired"}`)
				return
			}
			fmt.Fprint(w, `{"success": true, "result": []}`)
		}
	}))
	defer server.Close()

	items, err := newTestClient(t, server, testAppToken).Items(context.Background())
	if err != nil {
		t.Fatalf("Items() = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d", len(items))
	}
	if logins != 2 {
		t.Errorf("logins = %d, want 2", logins)
	}
	if listCalls != 2 {
		t.Errorf("listCalls = %d, want 2", listCalls)
	}
}

func TestAddURL_EncodesDownloadDir(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			fmt.Fprint(w, `{"success": true, "result": {"challenge": "n"}}`)
		case "/api/v1/login/session":
			fmt.Fprint(w, `{"success": true, "result": {"session_token": "s"}}`)
		case "/api/v1/downloads/add":
			if err := r.ParseForm(); err != nil {
				t.Fatal(err)
			}
			// "/books" base64-encoded
			if got := r.PostForm.Get("download_dir"); got != "L2Jvb2tz" {
				t.Errorf("download_dir = %q", got)
			}
			fmt.Fprint(w, `{"success": true, "result": {"id": 42}}`)
		}
	}))
	defer server.Close()

	id, err := newTestClient(t, server, testAppToken).AddURL(context.Background(),
		"http://indexer.example/book.torrent", &types.AddOptions{DownloadDir: "/books"})
	if err != nil {
		t.Fatalf("AddURL() = %v", err)
	}
	if id != "42" {
		t.Errorf("id = %q", id)
	}
}

func TestItems_MapsTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/login":
			fmt.Fprint(w, `{"success": true, "result": {"challenge": "n"}}`)
		case "/api/v1/login/session":
			fmt.Fprint(w, `{"success": true, "result": {"session_token": "s"}}`)
		case "/api/v1/downloads/":
			fmt.Fprint(w, `{"success": true, "result": [
				{"id": 7, "name": "Dune.epub", "size": 1000, "rx_bytes": 300, "rx_rate": 150, "rx_pct": 30, "status": "downloading", "eta": 5},
				{"id": 8, "name": "Emma.epub", "size": 2000, "rx_bytes": 2000, "rx_pct": 100, "status": "done", "eta": 0}
			]}`)
		}
	}))
	defer server.Close()

	items, err := newTestClient(t, server, testAppToken).Items(context.Background())
	if err != nil {
		t.Fatalf("Items() = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}

	if items[0].Status != types.StatusDownloading || items[0].Progress != 0.3 || items[0].ETA != 5 {
		t.Errorf("first item mapped wrong: %+v", items[0])
	}
	if items[1].Status != types.StatusCompleted || items[1].ETA != -1 {
		t.Errorf("second item mapped wrong: %+v", items[1])
	}
}
