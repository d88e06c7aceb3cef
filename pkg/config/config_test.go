package config

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Import.BatchRows != 50000 {
		t.Errorf("batch rows = %d", cfg.Import.BatchRows)
	}
	if cfg.Import.FTSChunkRows != 200000 {
		t.Errorf("fts chunk = %d", cfg.Import.FTSChunkRows)
	}
	if cfg.Import.EvtxSchemaScan != 500 {
		t.Errorf("evtx scan = %d", cfg.Import.EvtxSchemaScan)
	}
	if cfg.Limits.ProcessTreeRows != 200000 || cfg.Limits.LateralRows != 500000 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Limits.StackingValues != 10000 {
		t.Errorf("stacking cap = %d", cfg.Limits.StackingValues)
	}
	if !strings.Contains(cfg.Storage.ScratchDir, ".irflow") {
		t.Errorf("scratch dir = %q", cfg.Storage.ScratchDir)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Import.BatchRows = 0 },
		func(c *Config) { c.Import.AnnotationBatch = 9999 },
		func(c *Config) { c.Limits.IOCBatchSize = 500 },
		func(c *Config) { c.RestAPI.Port = 99999 },
		func(c *Config) { c.Logging.Level = "loud" },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation failure", i)
		}
	}
}

func TestPresetsPath(t *testing.T) {
	cfg := DefaultConfig()
	if !strings.HasSuffix(cfg.PresetsPath(), "filter-presets.json") {
		t.Errorf("presets path = %q", cfg.PresetsPath())
	}
}
