package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DreamCats/pdfchat/internal/event"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  root: /tmp/pdfchat-data\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Indexer.ChunkSize != 1000 || cfg.Indexer.ChunkOverlap != 200 {
		t.Errorf("chunking = %d/%d, want 1000/200", cfg.Indexer.ChunkSize, cfg.Indexer.ChunkOverlap)
	}
	if cfg.Search.TopK != 2 {
		t.Errorf("TopK = %d, want 2", cfg.Search.TopK)
	}
	if cfg.Search.VectorWeight != 1 || cfg.Search.KeywordWeight != 0 {
		t.Errorf("weights = %v/%v, want 1/0", cfg.Search.VectorWeight, cfg.Search.KeywordWeight)
	}
	if cfg.Memory.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", cfg.Memory.MaxTurns)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Chat.Provider != "ollama" {
		t.Errorf("providers = %s/%s, want ollama/ollama", cfg.Embedding.Provider, cfg.Chat.Provider)
	}
	if !cfg.Explain.StreamEnabled() {
		t.Error("explain streaming should default to enabled")
	}
	if cfg.Database.Root != "/tmp/pdfchat-data" {
		t.Errorf("Database.Root = %s", cfg.Database.Root)
	}
}

func TestExplainStreamDisabled(t *testing.T) {
	cfg, err := Parse([]byte("explain:\n  stream: false\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Explain.StreamEnabled() {
		t.Error("StreamEnabled() = true, want false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "defaults are valid",
			yaml: "",
		},
		{
			name:    "unknown embedding provider",
			yaml:    "embedding:\n  provider: word2vec\n",
			wantErr: "unsupported embedding provider",
		},
		{
			name:    "openai embedding without key",
			yaml:    "embedding:\n  provider: openai\n",
			wantErr: "openai_api_key",
		},
		{
			name:    "volcengine bad dimensions",
			yaml:    "embedding:\n  provider: volcengine\n  api_key: k\n  dimensions: 512\n",
			wantErr: "dimensions",
		},
		{
			name:    "gemini chat without key",
			yaml:    "chat:\n  provider: gemini\n",
			wantErr: "chat.api_key",
		},
		{
			name:    "overlap not smaller than chunk",
			yaml:    "indexer:\n  chunk_size: 100\n  chunk_overlap: 100\n",
			wantErr: "chunk_overlap",
		},
		{
			name:    "negative weight",
			yaml:    "search:\n  vector_weight: -1\n",
			wantErr: "weights",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !IsConfigNotFound(err) {
		t.Fatalf("LoadFromFile() error = %v, want ConfigNotFoundError", err)
	}
}

func TestLoadFromFileExpandsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { os.Unsetenv("PDFCHAT_TEST_OPENAI_KEY") })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PDFCHAT_TEST_OPENAI_KEY=sk-test\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "pdfchat.yaml")
	body := "chat:\n  provider: openai\n  api_key: ${PDFCHAT_TEST_OPENAI_KEY}\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Chat.APIKey != "sk-test" {
		t.Errorf("Chat.APIKey = %q, want sk-test", cfg.Chat.APIKey)
	}
}

func TestWriteDefaultTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "pdfchat.yaml")

	created, err := WriteDefaultTemplate(path)
	if err != nil || !created {
		t.Fatalf("WriteDefaultTemplate() = %v, %v", created, err)
	}
	created, err = WriteDefaultTemplate(path)
	if err != nil || created {
		t.Fatalf("second WriteDefaultTemplate() = %v, %v, want false, nil", created, err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile(template) error = %v", err)
	}
	if cfg.Language.Target != "English" {
		t.Errorf("Language.Target = %s", cfg.Language.Target)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Language.Target = "German"
	path := filepath.Join(t.TempDir(), "out.yaml")

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Language.Target != "German" {
		t.Errorf("Language.Target = %s, want German", loaded.Language.Target)
	}
}

func TestFileProviderReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfchat.yaml")
	if err := os.WriteFile(path, []byte("language:\n  target: French\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("embedding:\n  provider: nope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Reload(); err == nil {
		t.Fatal("Reload() error = nil, want validation error")
	}
	if got := p.Current().Language.Target; got != "French" {
		t.Errorf("Current().Language.Target = %s, want French", got)
	}
}

func TestWatcherPublishesChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfchat.yaml")
	if err := os.WriteFile(path, []byte("language:\n  target: French\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	bus := event.NewBus[Change]()
	changes := make(chan Change, 4)
	bus.Subscribe(func(c Change) { changes <- c })

	w, err := NewWatcher(p, bus, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("language:\n  target: Spanish\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Config.Language.Target != "Spanish" {
			t.Errorf("published target = %s, want Spanish", c.Config.Language.Target)
		}
		if p.Current().Language.Target != "Spanish" {
			t.Errorf("provider target = %s, want Spanish", p.Current().Language.Target)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config change published")
	}
}
