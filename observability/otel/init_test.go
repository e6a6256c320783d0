package otel

import (
	"context"
	"strings"
	"testing"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "orderd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitValidates(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected service name error")
	}
	if _, err := Init(context.Background(), Config{ServiceName: "orderd", SampleRatio: 2}); err == nil {
		t.Fatalf("expected sample ratio error")
	}
	if _, err := Init(context.Background(), Config{ServiceName: "orderd", Traces: true}); err == nil {
		t.Fatalf("expected endpoint error")
	}
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	cfg := FromEnv("orderd", "dev", env(nil))
	if cfg.Traces || cfg.Metrics || cfg.Endpoint != "" {
		t.Fatalf("exporters must stay off without an endpoint: %+v", cfg)
	}
	if cfg.ServiceName != "orderd" || cfg.Environment != "dev" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := FromEnv("orderd", "prod", env(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "https://collector.internal:4318",
		"OTEL_EXPORTER_OTLP_HEADERS":  "authorization=Bearer abc",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
		"OTEL_METRICS_EXPORTER":       "none",
	}))
	if cfg.Endpoint != "collector.internal:4318" || cfg.Insecure {
		t.Fatalf("unexpected endpoint %q insecure=%v", cfg.Endpoint, cfg.Insecure)
	}
	if !cfg.Traces || cfg.Metrics {
		t.Fatalf("unexpected signals traces=%v metrics=%v", cfg.Traces, cfg.Metrics)
	}
	if cfg.SampleRatio != 0.25 || cfg.Headers["authorization"] != "Bearer abc" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cfg = FromEnv("orderd", "", env(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "otel:4318",
		"OTEL_EXPORTER_OTLP_INSECURE": "false",
		"OTEL_TRACES_SAMPLER_ARG":     "7",
	}))
	if cfg.Endpoint != "otel:4318" || cfg.Insecure || cfg.SampleRatio != 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"", "", true},
		{"localhost:4318", "localhost:4318", true},
		{"http://otel:4318", "otel:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
	}
	for _, tc := range cases {
		host, insecure := splitEndpoint(tc.raw)
		if host != tc.host || insecure != tc.insecure {
			t.Fatalf("splitEndpoint(%q) = %q, %v", tc.raw, host, insecure)
		}
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("zero ratio sampler = %s", got)
	}
	if got := sampler(0.5).Description(); !strings.HasPrefix(got, "ParentBased") {
		t.Fatalf("ratio sampler = %s", got)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer abc, x-team = escrow ,broken,=nokey")
	if len(headers) != 2 || headers["authorization"] != "Bearer abc" || headers["x-team"] != "escrow" {
		t.Fatalf("unexpected headers %v", headers)
	}
}
