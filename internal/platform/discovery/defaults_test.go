package discovery

import "testing"

func TestDefaultGRPCAddr(t *testing.T) {
	cases := map[string]string{
		ServiceAuthority:   "authority:8092",
		ServiceCoordinator: "coordinator:8093",
		" authority ":      "authority:8092",
		"unknown":          "",
	}
	for service, want := range cases {
		if got := DefaultGRPCAddr(service); got != want {
			t.Fatalf("DefaultGRPCAddr(%q) = %q, want %q", service, got, want)
		}
	}
}

func TestOrDefaultGRPCAddr(t *testing.T) {
	if got := OrDefaultGRPCAddr("  localhost:1  ", ServiceAuthority); got != "localhost:1" {
		t.Fatalf("OrDefaultGRPCAddr = %q, want explicit value", got)
	}
	if got := OrDefaultGRPCAddr("", ServiceAuthority); got != "authority:8092" {
		t.Fatalf("OrDefaultGRPCAddr = %q, want convention", got)
	}
}

func TestDefaultMetricsAddr(t *testing.T) {
	if got := DefaultMetricsAddr(ServiceCoordinator); got != ":9093" {
		t.Fatalf("DefaultMetricsAddr = %q, want %q", got, ":9093")
	}
	if got := DefaultMetricsAddr("nope"); got != "" {
		t.Fatalf("DefaultMetricsAddr = %q, want empty", got)
	}
}

func TestGRPCPort(t *testing.T) {
	if got := GRPCPort(ServiceAuthority); got != 8092 {
		t.Fatalf("GRPCPort = %d, want 8092", got)
	}
}
