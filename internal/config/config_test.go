package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Catalog.BaseURL != "https://cmr.earthdata.nasa.gov/search" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.Provider != "NSIDC_ECS" {
		t.Errorf("Catalog.Provider = %q", cfg.Catalog.Provider)
	}
	if cfg.Catalog.PageSize != 2000 {
		t.Errorf("Catalog.PageSize = %d", cfg.Catalog.PageSize)
	}
	if cfg.Order.PollInterval != 10*time.Second {
		t.Errorf("Order.PollInterval = %s", cfg.Order.PollInterval)
	}
	if cfg.Download.MaxWorkers != 4 {
		t.Errorf("Download.MaxWorkers = %d", cfg.Download.MaxWorkers)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ICEFETCH_CATALOG_BASE_URL", "http://localhost:9200/search")
	t.Setenv("ICEFETCH_CATALOG_PAGE_SIZE", "100")
	t.Setenv("ICEFETCH_ORDER_POLL_INTERVAL", "2s")
	t.Setenv("ICEFETCH_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Catalog.BaseURL != "http://localhost:9200/search" {
		t.Errorf("Catalog.BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.PageSize != 100 {
		t.Errorf("Catalog.PageSize = %d", cfg.Catalog.PageSize)
	}
	if cfg.Order.PollInterval != 2*time.Second {
		t.Errorf("Order.PollInterval = %s", cfg.Order.PollInterval)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "page size above catalog ceiling",
			env:     map[string]string{"ICEFETCH_CATALOG_PAGE_SIZE": "2001"},
			wantMsg: "page size",
		},
		{
			name:    "poll timeout below interval",
			env:     map[string]string{"ICEFETCH_ORDER_POLL_TIMEOUT": "1s"},
			wantMsg: "poll timeout",
		},
		{
			name:    "zero download workers",
			env:     map[string]string{"ICEFETCH_DOWNLOAD_MAX_WORKERS": "0"},
			wantMsg: "max workers",
		},
		{
			name:    "unknown log level",
			env:     map[string]string{"ICEFETCH_LOG_LEVEL": "verbose"},
			wantMsg: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}
