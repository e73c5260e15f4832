package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "./data/sweeps.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Progress.Interval != 500*time.Millisecond {
		t.Errorf("Progress.Interval = %v, want 500ms", cfg.Progress.Interval)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("Retention.Days = %d, want 30", cfg.Retention.Days)
	}
	if cfg.Worker.ItemTimeout != 0 {
		t.Errorf("Worker.ItemTimeout = %v, want 0", cfg.Worker.ItemTimeout)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	body := `
worker:
  concurrency: 6
  item_timeout: 2m
retention:
  enabled: true
  days: 7
  interval: 1h
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Worker.Concurrency != 6 || cfg.Worker.ItemTimeout != 2*time.Minute {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Days != 7 || cfg.Retention.Interval != time.Hour {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWEEP_CONCURRENCY", "3")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Worker.Concurrency != 3 {
		t.Errorf("Worker.Concurrency = %d, want 3", cfg.Worker.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Progress: ProgressConfig{Interval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"negative concurrency", func(c *Config) { c.Worker.Concurrency = -1 }, "worker.concurrency"},
		{"retention without days", func(c *Config) {
			c.Retention = RetentionConfig{Enabled: true, Interval: time.Hour}
		}, "retention.days"},
		{"export without bucket", func(c *Config) { c.Export.Enabled = true }, "export.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/s.db"}
	if got := sqlite.DSN(); !strings.HasPrefix(got, "/tmp/s.db?") || !strings.Contains(got, "_foreign_keys=on") {
		t.Errorf("sqlite DSN = %q", got)
	}

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p@ss", Name: "sweeps", SSLMode: "disable"}
	want := "postgres://u:p%40ss@db:5432/sweeps?sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Errorf("postgres DSN = %q, want %q", got, want)
	}
}
