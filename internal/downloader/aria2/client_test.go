package aria2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

func newTestClient(t *testing.T, server *httptest.Server, secret string) *Client {
	t.Helper()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	port := 80
	fmt.Sscanf(u.Port(), "%d", &port)

	return New(&types.ClientConfig{
		Name:   "aria2",
		Host:   u.Hostname(),
		Port:   port,
		APIKey: secret,
	}, zerolog.Nop())
}

type rpcCall struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func decodeCall(t *testing.T, r *http.Request) rpcCall {
	t.Helper()
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		t.Fatalf("bad rpc request: %v", err)
	}
	return call
}

func TestCall_PrependsSecretToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		if call.Method != "aria2.getVersion" {
			t.Errorf("method = %q", call.Method)
		}
		if len(call.Params) == 0 || call.Params[0] != "token:sekrit" {
			t.Errorf("params = %v, want token first", call.Params)
		}
		fmt.Fprint(w, `{"result": {"version": "1.37.0"}}`)
	}))
	defer server.Close()

	if err := newTestClient(t, server, "sekrit").Test(context.Background()); err != nil {
		t.Fatalf("Test() = %v", err)
	}
}

func TestUnauthorizedRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 1, "message": "Unauthorized"}}`)
	}))
	defer server.Close()

	err := newTestClient(t, server, "wrong").Test(context.Background())
	if !provider.IsAuthError(err) {
		t.Fatalf("error = %v, want auth error", err)
	}
}

func TestRPCErrorBecomesProtocolFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 2, "message": "GID not found"}}`)
	}))
	defer server.Close()

	err := newTestClient(t, server, "").Remove(context.Background(), "deadbeef", false)
	if err == nil {
		t.Fatal("expected error")
	}

	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindProtocolFault {
		t.Errorf("error = %v, want protocol fault", err)
	}
}

func TestAddMagnet_ReturnsGID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		if call.Method != "aria2.addUri" {
			t.Errorf("method = %q", call.Method)
		}
		fmt.Fprint(w, `{"result": "2089b05ecca3d829"}`)
	}))
	defer server.Close()

	gid, err := newTestClient(t, server, "").AddMagnet(context.Background(), "magnet:?xt=urn:btih:abcd", nil)
	if err != nil {
		t.Fatalf("AddMagnet() = %v", err)
	}
	if gid != "2089b05ecca3d829" {
		t.Errorf("gid = %q", gid)
	}
}

func TestItems_MergesQueues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		switch call.Method {
		case "aria2.tellActive":
			fmt.Fprint(w, `{"result": [{"gid": "a1", "status": "active", "totalLength": "1000", "completedLength": "400", "downloadSpeed": "200", "dir": "/dl"}]}`)
		case "aria2.tellWaiting":
			fmt.Fprint(w, `{"result": [{"gid": "b2", "status": "waiting", "totalLength": "0", "completedLength": "0", "downloadSpeed": "0"}]}`)
		case "aria2.tellStopped":
			fmt.Fprint(w, `{"result": [{"gid": "c3", "status": "error", "totalLength": "500", "completedLength": "100", "downloadSpeed": "0", "errorMessage": "disk full"}]}`)
		}
	}))
	defer server.Close()

	items, err := newTestClient(t, server, "").Items(context.Background())
	if err != nil {
		t.Fatalf("Items() = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}

	if items[0].Status != types.StatusDownloading || items[0].Progress != 0.4 || items[0].ETA != 3 {
		t.Errorf("active item mapped wrong: %+v", items[0])
	}
	if items[1].Status != types.StatusQueued {
		t.Errorf("waiting item status = %q", items[1].Status)
	}
	if items[2].Status != types.StatusFailed || items[2].Error != "disk full" {
		t.Errorf("stopped item mapped wrong: %+v", items[2])
	}
}
