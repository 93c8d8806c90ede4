package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
files:
  nameplates: config/nameplates.csv
  subscriber_mapping: config/subscriber_mapping.json
  type_mapping: config/publisher_mapping.json
network:
  lan1_listen: "127.0.0.1:10201"
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.System.Processing.MaxWorkers != 4 || cfg.System.Processing.MaxQueueSize != 1024 {
		t.Fatalf("processing defaults not applied: %+v", cfg.System.Processing)
	}
	if cfg.System.Validity.Interval != 5*time.Second || cfg.System.Validity.Timeout != 10*time.Second {
		t.Fatalf("validity defaults not applied: %+v", cfg.System.Validity)
	}
	if cfg.System.Retransmit.InitialInterval != 2*time.Millisecond || cfg.System.Retransmit.MaxInterval != 5*time.Second {
		t.Fatalf("retransmit defaults not applied: %+v", cfg.System.Retransmit)
	}
	if cfg.Metrics.ListenAddress != ":9100" {
		t.Fatalf("metrics default not applied: %q", cfg.Metrics.ListenAddress)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, `
system:
  processing:
    max_workers: 8
    max_queue_size: 2048
  validity:
    interval: 2s
    timeout: 6s
  retransmit:
    initial_interval: 4ms
    max_interval: 2s
files:
  nameplates: np.csv
  subscriber_mapping: sub.json
  type_mapping: types.json
network:
  lan1_listen: "10.0.1.5:10201"
  lan2_listen: "10.0.2.5:10201"
  lan1_peer: "10.0.1.1:10202"
  lan2_peer: "10.0.2.1:10202"
plc:
  enabled: true
  report_addr: "10.0.0.9:20000"
  report_interval: 500ms
  command_listen: ":20001"
history:
  enabled: true
  db_path: history.db
logging:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.System.Processing.MaxWorkers != 8 {
		t.Fatalf("max_workers = %d", cfg.System.Processing.MaxWorkers)
	}
	if cfg.System.Validity.Timeout != 6*time.Second {
		t.Fatalf("validity timeout = %v", cfg.System.Validity.Timeout)
	}
	if cfg.System.Retransmit.InitialInterval != 4*time.Millisecond {
		t.Fatalf("retransmit initial = %v", cfg.System.Retransmit.InitialInterval)
	}
	if cfg.Network.Lan2Peer != "10.0.2.1:10202" {
		t.Fatalf("lan2_peer = %q", cfg.Network.Lan2Peer)
	}
	if !cfg.Plc.Enabled || cfg.Plc.ReportInterval != 500*time.Millisecond {
		t.Fatalf("plc config: %+v", cfg.Plc)
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "history.db" {
		t.Fatalf("history config: %+v", cfg.History)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging config: %+v", cfg.Logging)
	}
}

func TestLoadRejectsIncomplete(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"no files": `
network:
  lan1_listen: ":10201"
`,
		"no network": `
files:
  nameplates: np.csv
  subscriber_mapping: sub.json
  type_mapping: types.json
`,
		"plc enabled without addr": minimalConfig + `
plc:
  enabled: true
`,
		"history enabled without path": minimalConfig + `
history:
  enabled: true
`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
