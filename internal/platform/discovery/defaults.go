// Package discovery centralizes internal service-discovery conventions.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceAuthority is the session authority gRPC service identity.
	ServiceAuthority = "authority"
	// ServiceCoordinator is the coordinator process identity.
	ServiceCoordinator = "coordinator"
)

var grpcPorts = map[string]int{
	ServiceAuthority:   8092,
	ServiceCoordinator: 8093,
}

var metricsPorts = map[string]int{
	ServiceAuthority:   9092,
	ServiceCoordinator: 9093,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// DefaultMetricsAddr returns the canonical listen address for a service's
// Prometheus endpoint.
func DefaultMetricsAddr(service string) string {
	port, ok := metricsPorts[strings.TrimSpace(service)]
	if !ok {
		return ""
	}
	return ":" + strconv.Itoa(port)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// GRPCPort returns the conventional gRPC port for a service, or 0.
func GRPCPort(service string) int {
	return grpcPorts[strings.TrimSpace(service)]
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
