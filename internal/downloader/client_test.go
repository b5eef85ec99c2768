package downloader

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

// trackedClient counts calls so tests can assert short-circuits.
type trackedClient struct {
	baseClient
	addCalls  int
	lastOpts  *types.AddOptions
	testErr   error
	items     []types.DownloadItem
	itemsErr  error
	removedID string
}

func (c *trackedClient) Test(context.Context) error { return c.testErr }

func (c *trackedClient) AddMagnet(_ context.Context, _ string, opts *types.AddOptions) (string, error) {
	c.addCalls++
	c.lastOpts = opts
	return "id-1", nil
}

func (c *trackedClient) Items(context.Context) ([]types.DownloadItem, error) {
	return c.items, c.itemsErr
}

func (c *trackedClient) Remove(_ context.Context, id string, _ bool) error {
	c.removedID = id
	return nil
}

func newManaged(client types.Client, cfg *types.ClientConfig) *ManagedClient {
	return NewManagedClient(client, cfg, NewStrategyRegistry(), nil, zerolog.Nop())
}

func TestAddDownload_DisabledShortCircuits(t *testing.T) {
	client := &trackedClient{baseClient: baseClient{name: "t"}}
	managed := newManaged(client, &types.ClientConfig{Name: "t"})
	managed.SetEnabled(false)

	_, err := managed.AddDownload(context.Background(), "magnet:?xt=urn:btih:abcd", nil)
	if !errors.Is(err, provider.ErrDisabled) {
		t.Fatalf("error = %v, want disabled", err)
	}
	if client.addCalls != 0 {
		t.Errorf("addCalls = %d, want 0", client.addCalls)
	}
}

func TestAddDownload_AppliesConfigDefaults(t *testing.T) {
	client := &trackedClient{baseClient: baseClient{name: "t"}}
	managed := newManaged(client, &types.ClientConfig{
		Name:        "t",
		Category:    "books",
		DownloadDir: "/library/incoming",
	})

	if _, err := managed.AddDownload(context.Background(), "magnet:?xt=urn:btih:abcd", nil); err != nil {
		t.Fatalf("AddDownload() = %v", err)
	}
	if client.lastOpts == nil {
		t.Fatal("options not passed through")
	}
	if client.lastOpts.Category != "books" {
		t.Errorf("Category = %q", client.lastOpts.Category)
	}
	if client.lastOpts.DownloadDir != "/library/incoming" {
		t.Errorf("DownloadDir = %q", client.lastOpts.DownloadDir)
	}
}

func TestAddDownload_ExplicitOptionsWin(t *testing.T) {
	client := &trackedClient{baseClient: baseClient{name: "t"}}
	managed := newManaged(client, &types.ClientConfig{Name: "t", Category: "books"})

	_, err := managed.AddDownload(context.Background(), "magnet:?xt=urn:btih:abcd",
		&types.AddOptions{Category: "audiobooks"})
	if err != nil {
		t.Fatalf("AddDownload() = %v", err)
	}
	if client.lastOpts.Category != "audiobooks" {
		t.Errorf("Category = %q", client.lastOpts.Category)
	}
}

func TestItems_NonTrackableClient(t *testing.T) {
	managed := newManaged(&baseClient{name: "b"}, &types.ClientConfig{Name: "b"})

	_, err := managed.Items(context.Background())
	if !errors.Is(err, provider.ErrCapability) {
		t.Fatalf("error = %v, want capability error", err)
	}
	if err := managed.Remove(context.Background(), "x", false); !errors.Is(err, provider.ErrCapability) {
		t.Fatalf("Remove error = %v, want capability error", err)
	}
}

func TestItems_PassThrough(t *testing.T) {
	client := &trackedClient{
		baseClient: baseClient{name: "t"},
		items:      []types.DownloadItem{{ID: "a", Status: types.StatusDownloading}},
	}
	managed := newManaged(client, &types.ClientConfig{Name: "t"})

	items, err := managed.Items(context.Background())
	if err != nil {
		t.Fatalf("Items() = %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("items = %+v", items)
	}

	if err := managed.Remove(context.Background(), "a", true); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if client.removedID != "a" {
		t.Errorf("removedID = %q", client.removedID)
	}
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name    string
		testErr error
		wantOK  bool
		wantErr bool
	}{
		{"healthy", nil, true, false},
		{"unreachable", provider.NewNetworkError("t", 502, []byte("bad gateway")), false, false},
		{"bad credentials", provider.NewAuthError("t", "rejected"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &trackedClient{baseClient: baseClient{name: "t"}, testErr: tt.testErr}
			managed := newManaged(client, &types.ClientConfig{Name: "t"})

			ok, err := managed.TestConnection(context.Background())
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
