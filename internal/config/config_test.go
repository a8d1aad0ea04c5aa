package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfigPath, "")
	return dir
}

func TestGetDefaultWorkers(t *testing.T) {
	expected := runtime.NumCPU() * 2
	if expected < 4 {
		expected = 4
	}
	if expected > 64 {
		expected = 64
	}

	if actual := getDefaultWorkers(); actual != expected {
		t.Errorf("getDefaultWorkers() = %d, want %d", actual, expected)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.File != "" {
		t.Errorf("File = %q, want empty when no settings file exists", cfg.File)
	}
	if cfg.Data.Driver != "sqlite3" || cfg.Data.Path != "" {
		t.Errorf("Data = %+v, want disabled sqlite3 store", cfg.Data)
	}
	if cfg.Results.Path != "" {
		t.Errorf("Results.Path = %q, want empty", cfg.Results.Path)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Notifications.SMTPHost != "smtp.stsci.edu" || cfg.Notifications.SMTPPort != 25 {
		t.Errorf("Notifications SMTP = %s:%d", cfg.Notifications.SMTPHost, cfg.Notifications.SMTPPort)
	}
	if cfg.Notifications.MaxFailures != 3 || cfg.Notifications.CooldownSecs != 300 {
		t.Errorf("Notifications breaker = %d failures, %ds cooldown", cfg.Notifications.MaxFailures, cfg.Notifications.CooldownSecs)
	}
	if cfg.Notifications.SenderDomain != "stsci.edu" {
		t.Errorf("Notifications.SenderDomain = %q", cfg.Notifications.SenderDomain)
	}
	if cfg.Scheduler.Schedule != "0 6 * * *" {
		t.Errorf("Scheduler.Schedule = %q", cfg.Scheduler.Schedule)
	}
	if cfg.Monitoring.SourceDir != "/grp/hst/cos2/cosmo" {
		t.Errorf("Monitoring.SourceDir = %q", cfg.Monitoring.SourceDir)
	}
	if cfg.Monitoring.Workers != getDefaultWorkers() {
		t.Errorf("Monitoring.Workers = %d, want %d", cfg.Monitoring.Workers, getDefaultWorkers())
	}
	if cfg.Output.S3MultipartMinSize != 32*1024*1024 {
		t.Errorf("Output.S3MultipartMinSize = %d", cfg.Output.S3MultipartMinSize)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MONITOR_DATA_DB_SETTINGS_PATH", "/tmp/cosmo.db")
	t.Setenv("MONITOR_RESULTS_DB_SETTINGS_DRIVER", "duckdb")
	t.Setenv("MONITOR_LOG_LEVEL", "debug")
	t.Setenv("MONITOR_MONITORING_WORKERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Data.Path != "/tmp/cosmo.db" {
		t.Errorf("Data.Path = %q, want /tmp/cosmo.db (from env)", cfg.Data.Path)
	}
	if cfg.Results.Driver != "duckdb" {
		t.Errorf("Results.Driver = %q, want duckdb (from env)", cfg.Results.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
	if cfg.Monitoring.Workers != 3 {
		t.Errorf("Monitoring.Workers = %d, want 3 (from env)", cfg.Monitoring.Workers)
	}
}

const settingsYAML = `
data:
  db_settings:
    driver: sqlite3
    path: data.db
    flags:
      _busy_timeout: "5000"
results:
  db_settings:
    driver: duckdb
    path: results.duckdb
    flags:
      memory_limit: 1GB
output:
  backend: local
  local_path: reports
notifications:
  active: true
  username: cosmo
  recipients:
    - team@stsci.edu
  monitor_recipients:
    - "AcqImageMonitor:fgs@stsci.edu"
scheduler:
  enabled: true
  schedule: "30 5 * * 1-5"
`

func TestLoad_File(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte(settingsYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Data.Path != "data.db" || cfg.Data.Flags["_busy_timeout"] != "5000" {
		t.Errorf("Data = %+v", cfg.Data)
	}
	if cfg.Results.Driver != "duckdb" || cfg.Results.Flags["memory_limit"] != "1GB" {
		t.Errorf("Results = %+v", cfg.Results)
	}
	if cfg.Output.LocalPath != "reports" {
		t.Errorf("Output.LocalPath = %q", cfg.Output.LocalPath)
	}
	if !cfg.Notifications.Active || cfg.Notifications.Username != "cosmo" {
		t.Errorf("Notifications = %+v", cfg.Notifications)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Schedule != "30 5 * * 1-5" {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}

	recipients, err := cfg.Notifications.RecipientsFor("AcqImageMonitor")
	if err != nil {
		t.Fatal(err)
	}
	if len(recipients) != 1 || recipients[0] != "fgs@stsci.edu" {
		t.Errorf("RecipientsFor(AcqImageMonitor) = %v", recipients)
	}
}

func TestLoad_ConfigFromEnvPath(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(path, []byte("log:\n  format: console\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "driver", yaml: "data:\n  db_settings:\n    driver: postgres\n", wantErr: "driver"},
		{name: "backend", yaml: "output:\n  backend: azure\n", wantErr: "output.backend"},
		{name: "s3 without bucket", yaml: "output:\n  backend: s3\n", wantErr: "s3_bucket"},
		{name: "workers", yaml: "monitoring:\n  workers: 0\n", wantErr: "workers"},
		{name: "multipart size", yaml: "output:\n  s3_multipart_min_size: 1TB\n", wantErr: "s3_multipart_min_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			path := filepath.Join(dir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"32MB", 32 * 1024 * 1024, false},
		{"1gb", 1024 * 1024 * 1024, false},
		{"1.5KB", 1536, false},
		{"100B", 100, false},
		{"2048", 2048, false},
		{"", 0, true},
		{"1TB", 0, true},
		{"-1MB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
