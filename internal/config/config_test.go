package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	var cfg Config
	if err := Load(&cfg, []string{"--db", "postgres://localhost/trace"}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Threads != 7 {
		t.Errorf("Threads = %d, want 7", cfg.Threads)
	}
	if cfg.MaxActiveTasks != 32 {
		t.Errorf("MaxActiveTasks = %d, want 32", cfg.MaxActiveTasks)
	}
	if cfg.MaxQueueTxs != 524288 {
		t.Errorf("MaxQueueTxs = %d, want 524288", cfg.MaxQueueTxs)
	}
	if cfg.RedisAddr != "tcp://127.0.0.1:6379" {
		t.Errorf("RedisAddr = %q, want default", cfg.RedisAddr)
	}
}

func TestLoadRequiresDB(t *testing.T) {
	var cfg Config
	if err := Load(&cfg, []string{}); err == nil {
		t.Fatalf("expected error when --db is missing")
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	var cfg Config
	err := Load(&cfg, []string{"--db", "postgres://localhost/trace", "--threads", "16"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threads != 16 {
		t.Errorf("Threads = %d, want 16", cfg.Threads)
	}
}
