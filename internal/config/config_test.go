package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		Node: NodeConfig{ID: "node-a"},
		HTTP: HTTPConfig{Port: 8080},
		Bus:  BusConfig{Addrs: []string{"localhost:6379"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"invalid node id", func(c *Config) { c.Node.ID = "node a" }, "node.id"},
		{"missing redis addrs", func(c *Config) { c.Bus.Addrs = nil }, "bus.addrs"},
		{"unknown driver", func(c *Config) { c.Bus.Driver = "kafka" }, "bus.driver"},
		{"same topics", func(c *Config) { c.Bus.ResultTopic = c.Bus.QueryTopic }, "must differ"},
		{"default above max", func(c *Config) { c.Query.DefaultTimeout = time.Minute }, "query.default_timeout"},
		{
			"write timeout not above max timeout",
			func(c *Config) { c.HTTP.WriteTimeoutSec = 20 },
			"http.write_timeout_sec",
		},
		{
			"write timeout equal to max timeout",
			func(c *Config) { c.HTTP.WriteTimeoutSec = int(c.Query.MaxTimeout / time.Second) },
			"query.max_timeout",
		},
		{"cert without key", func(c *Config) { c.TLS.CertFile = "cert.pem" }, "tls.cert_file"},
		{
			"client cert without ca",
			func(c *Config) { c.Auth.ClientCert.Enabled = true },
			"auth.client_cert.enabled",
		},
		{
			"ca without tls",
			func(c *Config) { c.TLS.ClientCAFile = "ca.pem" },
			"tls.client_ca_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidate_MemoryDriverNeedsNoAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Bus.Driver = DriverMemory
	cfg.Bus.Addrs = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Node.ID == "" {
		t.Error("expected generated node id")
	}
	if cfg.Node.BroadcastSuffix == nil || *cfg.Node.BroadcastSuffix != " (broadcast)" {
		t.Errorf("unexpected broadcast suffix %v", cfg.Node.BroadcastSuffix)
	}
	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 40 {
		t.Errorf("expected WriteTimeoutSec=40, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Bus.Driver != DriverRedis {
		t.Errorf("expected driver %q, got %q", DriverRedis, cfg.Bus.Driver)
	}
	if cfg.Bus.QueryTopic != "peerquery:query" || cfg.Bus.ResultTopic != "peerquery:result" {
		t.Errorf("unexpected topics %q / %q", cfg.Bus.QueryTopic, cfg.Bus.ResultTopic)
	}
	if cfg.Bus.StreamMaxLen != 10000 {
		t.Errorf("expected StreamMaxLen=10000, got %d", cfg.Bus.StreamMaxLen)
	}
	if cfg.Bus.BlockMS != 250 {
		t.Errorf("expected BlockMS=250, got %d", cfg.Bus.BlockMS)
	}
	if cfg.Query.DefaultTimeout != 2*time.Second || cfg.Query.MaxTimeout != 30*time.Second {
		t.Errorf("unexpected query timeouts %s / %s", cfg.Query.DefaultTimeout, cfg.Query.MaxTimeout)
	}
	if cfg.Dedup.Capacity != 100 || cfg.Dedup.TTL != 10*time.Minute {
		t.Errorf("unexpected dedup %d / %s", cfg.Dedup.Capacity, cfg.Dedup.TTL)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	empty := ""
	cfg := Config{
		Node:  NodeConfig{ID: "fixed", BroadcastSuffix: &empty},
		HTTP:  HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Bus:   BusConfig{Driver: DriverMemory, QueryTopic: "q", ResultTopic: "r"},
		Dedup: DedupConfig{Capacity: 7, TTL: time.Second},
	}
	cfg.ApplyDefaults()

	if cfg.Node.ID != "fixed" {
		t.Errorf("expected node id kept, got %q", cfg.Node.ID)
	}
	if *cfg.Node.BroadcastSuffix != "" {
		t.Errorf("expected explicit empty suffix kept, got %q", *cfg.Node.BroadcastSuffix)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Bus.QueryTopic != "q" || cfg.Dedup.Capacity != 7 {
		t.Errorf("overrides lost: %+v %+v", cfg.Bus, cfg.Dedup)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("PQ_TEST_PORT", "9090")
	t.Setenv("PQ_TEST_NODE", "")

	cfg, err := Parse([]byte(`
node:
  id: "${PQ_TEST_NODE:-from-default}"
http:
  port: ${PQ_TEST_PORT}
bus:
  driver: memory
query:
  default_timeout: 500ms
  max_timeout: 5s
dedup:
  ttl: 1m
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Node.ID != "from-default" {
		t.Errorf("expected node id from default, got %q", cfg.Node.ID)
	}
	if cfg.Query.DefaultTimeout != 500*time.Millisecond || cfg.Query.MaxTimeout != 5*time.Second {
		t.Errorf("unexpected timeouts %s / %s", cfg.Query.DefaultTimeout, cfg.Query.MaxTimeout)
	}
	if cfg.Dedup.TTL != time.Minute {
		t.Errorf("expected ttl 1m, got %s", cfg.Dedup.TTL)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("http: [")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Parse([]byte("http:\n  port: 0\n")); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoad_Local(t *testing.T) {
	t.Setenv("BUS_DRIVER", "memory")
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.Bus.Driver)
	}
}
