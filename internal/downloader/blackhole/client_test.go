package blackhole

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
)

type fakeFetcher struct {
	payload []byte
	err     error
	fetched string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.fetched = url
	return f.payload, f.err
}

func newTorrentClient(t *testing.T, dir string, fetch *fakeFetcher) *Client {
	t.Helper()

	client, err := NewTorrent(&types.ClientConfig{
		Name:        "drop",
		DownloadDir: dir,
	}, fetch, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return client.(*Client)
}

func TestNew_RequiresWatchDirectory(t *testing.T) {
	_, err := NewTorrent(&types.ClientConfig{Name: "drop"}, &fakeFetcher{}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing watch directory")
	}
}

func TestTest_WritableDirectory(t *testing.T) {
	dir := t.TempDir()
	client := newTorrentClient(t, dir, &fakeFetcher{})

	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestTest_MissingDirectory(t *testing.T) {
	client := newTorrentClient(t, filepath.Join(t.TempDir(), "missing"), &fakeFetcher{})
	if err := client.Test(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestAddFile_WritesWithExtension(t *testing.T) {
	dir := t.TempDir()
	client := newTorrentClient(t, dir, &fakeFetcher{})

	id, err := client.AddFile(context.Background(), "dune", []byte("payload"), nil)
	if err != nil {
		t.Fatalf("AddFile() = %v", err)
	}
	if id != "dune.torrent" {
		t.Errorf("id = %q", id)
	}

	content, err := os.ReadFile(filepath.Join(dir, "dune.torrent"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Errorf("content = %q", content)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}

func TestAddFile_PrefersTitle(t *testing.T) {
	dir := t.TempDir()
	client := newTorrentClient(t, dir, &fakeFetcher{})

	id, err := client.AddFile(context.Background(), "whatever.torrent", []byte("x"),
		&types.AddOptions{Title: "Dune - Frank Herbert"})
	if err != nil {
		t.Fatalf("AddFile() = %v", err)
	}
	if id != "Dune - Frank Herbert.torrent" {
		t.Errorf("id = %q", id)
	}
}

func TestAddURL_FetchesAndDrops(t *testing.T) {
	dir := t.TempDir()
	fetch := &fakeFetcher{payload: []byte("torrent-bytes")}
	client := newTorrentClient(t, dir, fetch)

	id, err := client.AddURL(context.Background(), "http://indexer.example/releases/dune.torrent?key=1", nil)
	if err != nil {
		t.Fatalf("AddURL() = %v", err)
	}
	if fetch.fetched != "http://indexer.example/releases/dune.torrent?key=1" {
		t.Errorf("fetched = %q", fetch.fetched)
	}
	if id != "dune.torrent" {
		t.Errorf("id = %q", id)
	}
}

func TestAddURL_FetchFailure(t *testing.T) {
	client := newTorrentClient(t, t.TempDir(), &fakeFetcher{err: errors.New("boom")})

	_, err := client.AddURL(context.Background(), "http://indexer.example/x.torrent", nil)
	if err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestUsenetVariant_UsesNZBExtension(t *testing.T) {
	dir := t.TempDir()
	client, err := NewUsenet(&types.ClientConfig{Name: "nzb-drop", DownloadDir: dir}, &fakeFetcher{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if client.Protocol() != types.ProtocolUsenet {
		t.Errorf("protocol = %q", client.Protocol())
	}

	id, err := client.(*Client).AddFile(context.Background(), "emma", []byte("nzb"), nil)
	if err != nil {
		t.Fatalf("AddFile() = %v", err)
	}
	if id != "emma.nzb" {
		t.Errorf("id = %q", id)
	}
}
