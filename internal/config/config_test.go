package config

import (
	"testing"
	"time"

	"github.com/paiban/bnpdive/pkg/scheduler/colgen"
	"github.com/paiban/bnpdive/pkg/scheduler/diving"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.App.Port != 7012 || cfg.Database.Enabled {
		t.Errorf("unexpected defaults: %+v", cfg.App)
	}
	d := cfg.Diving
	if d.CGPolicy != "sequential" || d.Branching != "threshold" || d.Threshold != 0.6 {
		t.Errorf("unexpected diving defaults: %+v", d)
	}
	if d.TotalTime != time.Hour || d.RootTime != 30*time.Minute || d.NodeTime != 10*time.Second {
		t.Errorf("unexpected time defaults: %+v", d)
	}
	if d.RunLog != "solution.txt" || d.ImproveConfig() != nil {
		t.Errorf("unexpected run log / improve defaults: %+v", d)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DIVING_CG_POLICY", "full_sweep")
	t.Setenv("DIVING_BRANCHING", "largest")
	t.Setenv("DIVING_TOTAL_TIME", "2m")
	t.Setenv("DIVING_IMPROVE", "true")
	t.Setenv("DIVING_IMPROVE_TIME", "5s")
	t.Setenv("API_CORS_ORIGINS", "http://a,http://b")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	opts, err := cfg.Diving.DivingOptions(nil)
	if err != nil {
		t.Fatalf("DivingOptions() error: %v", err)
	}
	if opts.CGPolicy != colgen.FullSweep || opts.Branching != diving.LargestFractional || opts.TotalTime != 2*time.Minute {
		t.Errorf("unexpected options: %+v", opts)
	}
	imp := cfg.Diving.ImproveConfig()
	if imp == nil || imp.MaxTime != 5*time.Second {
		t.Errorf("unexpected improve config: %+v", imp)
	}
	if len(cfg.API.CORS.Origins) != 2 {
		t.Errorf("Origins = %v", cfg.API.CORS.Origins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"未知列生成策略", "DIVING_CG_POLICY", "random"},
		{"阈值超过 1", "DIVING_THRESHOLD", "1.5"},
		{"端口不是数字", "APP_PORT", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	if got, want := c.DSN(), "host=db port=5432 user=u password=p dbname=n sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, expected %q", got, want)
	}
}
