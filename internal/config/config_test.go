package config

import "testing"

func TestParseResourceList(t *testing.T) {
	parsed := ParseResourceList("egress=10.0.0.1:1080|10.0.0.2:1080; agent=node-a:9090 ;=skipped;broken")
	if len(parsed) != 2 {
		t.Fatalf("kinds %v", parsed)
	}
	if len(parsed["egress"]) != 2 || parsed["egress"][1] != "10.0.0.2:1080" {
		t.Fatalf("egress %v", parsed["egress"])
	}
	if len(parsed["agent"]) != 1 || parsed["agent"][0] != "node-a:9090" {
		t.Fatalf("agent %v", parsed["agent"])
	}
}

func TestParseResourceListEmpty(t *testing.T) {
	if parsed := ParseResourceList("  "); len(parsed) != 0 {
		t.Fatalf("expected empty map, got %v", parsed)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr %s", cfg.HTTPAddr)
	}
	if cfg.EvictThreshold != 3 {
		t.Fatalf("evict threshold %d", cfg.EvictThreshold)
	}
	if cfg.TaskWorkers != 4 {
		t.Fatalf("workers %d", cfg.TaskWorkers)
	}
}

func TestDurationOrDefaultFallsBack(t *testing.T) {
	t.Setenv("ORCHESTRATOR_CONFIRM_MAX_WAIT", "not-a-duration")
	cfg := Load()
	if cfg.ConfirmMaxWait.Seconds() != 30 {
		t.Fatalf("confirm max wait %s", cfg.ConfirmMaxWait)
	}
}
