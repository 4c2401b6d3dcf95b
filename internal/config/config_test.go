package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if cfg.Store.Workers != 4 || cfg.Store.TimeoutMS != 1000 {
		t.Errorf("unexpected store defaults %+v", cfg.Store)
	}
	m, err := cfg.Model("")
	if err != nil {
		t.Fatal(err)
	}
	if m.Timeout != -1 || m.MaxContext != -1 {
		t.Errorf("unexpected model defaults %+v", m)
	}
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "default_model": "fast",
  "models": {
    "fast": {
      "url": "http://localhost:8080/",
      "endpoint": "v1/chat/completions",
      "model_type": "test-model",
      "timeout": 30,
      "auth_level_required": 2,
      "max_context": 10,
      "stream": true
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m, err := cfg.Model("fast")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Stream || m.MaxContext != 10 || m.AuthLevelRequired != 2 {
		t.Errorf("unexpected model %+v", m)
	}
	if _, err := cfg.Model("missing"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	// The broken file must survive untouched.
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("broken config file was overwritten")
	}
}
