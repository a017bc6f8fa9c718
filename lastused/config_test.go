package lastused

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lastused.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile_Defaults(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, "db_path: /tmp/x.db\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RescanDelay != 100*time.Millisecond {
		t.Errorf("RescanDelay = %v", cfg.RescanDelay)
	}
	if cfg.Retention.MaxRecords != 100 {
		t.Errorf("MaxRecords = %d", cfg.Retention.MaxRecords)
	}
	if cfg.Marker.Label != "⭐ Last used" {
		t.Errorf("Label = %q", cfg.Marker.Label)
	}
	if len(cfg.Selectors) != 9 {
		t.Errorf("Selectors = %d, want 9", len(cfg.Selectors))
	}
	if cfg.Browser.Mode != "headless" {
		t.Errorf("Mode = %q", cfg.Browser.Mode)
	}
}

func TestLoadConfigFile_Overrides(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, `
rescan_delay: 250ms
retention:
  max_records: 5
marker:
  label: "<b>Previously</b> used"
providers:
  - name: GitLab
    keywords: [gitlab]
pages:
  - id: demo
    url: https://example.com/login
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RescanDelay != 250*time.Millisecond || cfg.Retention.MaxRecords != 5 {
		t.Errorf("RescanDelay=%v MaxRecords=%d", cfg.RescanDelay, cfg.Retention.MaxRecords)
	}
	if cfg.Marker.Label != "Previously used" {
		t.Errorf("Label = %q, markup not stripped", cfg.Marker.Label)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "GitLab" {
		t.Errorf("Providers = %+v", cfg.Providers)
	}
	if len(cfg.Pages) != 1 || cfg.Pages[0].ID != "demo" {
		t.Errorf("Pages = %+v", cfg.Pages)
	}
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"mode":      "browser:\n  mode: sideways\n",
		"page url":  "pages:\n  - id: a\n",
		"duplicate": "pages:\n  - {id: a, url: 'https://a.test'}\n  - {id: a, url: 'https://b.test'}\n",
		"yaml":      "pages: [",
	} {
		if _, err := LoadConfigFile(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "⭐ Last used"},
		{"<script>x</script>", "⭐ Last used"},
		{"Tom & Jerry", "Tom & Jerry"},
		{`<img src=x onerror=alert(1)>Used`, "Used"},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
