package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/embedding"
	"github.com/hyperjump/casefind/internal/ingest"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/server"
	"github.com/hyperjump/casefind/internal/storage"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"tattoo"}, "tattoo"},
		{"multiple words", []string{"eagle", "tattoo"}, "eagle tattoo"},
		{"single quoted phrase", []string{"eagle tattoo"}, "eagle tattoo"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSelectStages(t *testing.T) {
	tests := []struct {
		name                   string
		records, assets, embed bool
		expected               []string
	}{
		{"no flags runs everything", false, false, false, ingest.Stages},
		{"records only", true, false, false, []string{ingest.StageRecords}},
		{"assets and embed", false, true, true, []string{ingest.StageAssets, ingest.StageEmbedRecords, ingest.StageEmbedAssets}},
		{"all flags", true, true, true, ingest.Stages},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectStages(tt.records, tt.assets, tt.embed)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("selectStages() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  data_dir: "data"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// t.TempDir() may sit behind a symlink (macOS /var -> /private/var)
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "casefind.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingFileSuggestsInit(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "casefind init") {
		t.Errorf("error %q should mention casefind init", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	out, err := execute(t, "--config", path, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output %q should name the written file", out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Search.K != 10 {
		t.Errorf("search.k = %d, want default 10", cfg.Search.K)
	}

	if _, err := execute(t, "--config", path, "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "--config", path, "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "casefind version ") {
		t.Errorf("unexpected output %q", out)
	}
}

// writeMockConfig writes a config using the mock providers over a fresh data dir.
func writeMockConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  data_dir: "data"
  catalog_path: "data/catalog.db"
embedding:
  image:
    provider: mock
    dimensions: 8
  text:
    provider: mock
    dimensions: 12
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return path, cfg
}

func TestSearchTextCommand_localEngine(t *testing.T) {
	path, cfg := writeMockConfig(t)
	vectors, err := storage.NewEmbeddingStore(cfg.Storage.EmbeddingsDir())
	if err != nil {
		t.Fatal(err)
	}
	clip := embedding.NewMockProvider("mock-clip", 8)
	for i, caption := range []string{"red jacket", "eagle tattoo"} {
		vec, err := clip.EmbedText(context.Background(), caption)
		if err != nil {
			t.Fatal(err)
		}
		if err := vectors.Put(models.AssetKey(models.ModalityImage, int64(i+1), 7), vec); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, "--config", path, "-o", "json", "search", "text", "eagle", "tattoo", "-k", "1")
	if err != nil {
		t.Fatalf("search: %v\n%s", err, out)
	}
	var resp models.SearchResponse[models.ImageHit]
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Query != "eagle tattoo" || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	hit := resp.Results[0]
	if hit.RecordID != 2 || hit.AssetID != 7 || !hit.Missing {
		t.Errorf("unexpected hit %+v", hit)
	}
}

func TestSearchAltCommand_emptyCollection(t *testing.T) {
	path, _ := writeMockConfig(t)
	_, err := execute(t, "--config", path, "search", "alt", "anything")
	if err == nil || !strings.Contains(err.Error(), "casefind ingest") {
		t.Errorf("err = %v, want a hint to run ingest", err)
	}
}

type fakeSearcher struct {
	err      error
	lastK    int
	lastText string
	lastData []byte
}

func (f *fakeSearcher) SearchByText(_ context.Context, query string, k int) ([]models.ImageHit, error) {
	f.lastText, f.lastK = query, k
	if f.err != nil {
		return nil, f.err
	}
	return []models.ImageHit{{RecordID: 4, AssetID: 9, Name: "Ann Roe", Distance: 0.25}}, nil
}

func (f *fakeSearcher) SearchByImage(_ context.Context, data []byte, k int) ([]models.RecordHit, error) {
	f.lastData, f.lastK = data, k
	if f.err != nil {
		return nil, f.err
	}
	return []models.RecordHit{{RecordID: 4, AssetID: 9, HasAsset: true, Name: "Ann Roe"}}, nil
}

func (f *fakeSearcher) SearchByTextAlternateModel(_ context.Context, query string, k int) ([]models.RecordHit, error) {
	f.lastText, f.lastK = query, k
	if f.err != nil {
		return nil, f.err
	}
	return []models.RecordHit{{RecordID: 5, Name: "Ben Roe", Document: json.RawMessage(`{"a":1}`)}}, nil
}

func newTestServer(t *testing.T, s server.Searcher) *httptest.Server {
	t.Helper()
	srv := server.NewServer(s, &config.ServerConfig{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPSearcher(t *testing.T) {
	fake := &fakeSearcher{}
	ts := newTestServer(t, fake)
	client := newHTTPSearcher(ts.URL + "/")
	ctx := context.Background()

	imgs, err := client.SearchByText(ctx, "red jacket", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].AssetID != 9 || fake.lastText != "red jacket" || fake.lastK != 3 {
		t.Errorf("text: hits %+v, fake %+v", imgs, fake)
	}

	recs, err := client.SearchByImage(ctx, []byte("jpeg bytes"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].HasAsset || string(fake.lastData) != "jpeg bytes" || fake.lastK != 2 {
		t.Errorf("image: hits %+v, fake k %d data %q", recs, fake.lastK, fake.lastData)
	}

	recs, err = client.SearchByTextAlternateModel(ctx, "blue hat", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].RecordID != 5 || string(recs[0].Document) != `{"a":1}` {
		t.Errorf("text-alt: hits %+v", recs)
	}
}

func TestHTTPSearcher_errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid argument", models.ErrInvalidArgument, models.ErrInvalidArgument},
		{"provider unavailable", models.ErrProviderUnavailable, models.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeSearcher{err: tt.err})
			_, err := newHTTPSearcher(ts.URL).SearchByText(context.Background(), "x", 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	ts := newTestServer(t, &fakeSearcher{err: errors.New("boom")})
	_, err := newHTTPSearcher(ts.URL).SearchByImage(context.Background(), []byte("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want a 500 error", err)
	}
}
