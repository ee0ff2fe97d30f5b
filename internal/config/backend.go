package config

import (
	"fmt"
	"strings"
)

const (
	BackendHTTP = "http"
	BackendCLI  = "cli"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendHTTP
	}
	switch backend {
	case BackendHTTP, BackendCLI:
		return backend, nil
	case "server", "remote":
		return BackendHTTP, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|server)",
			raw,
			BackendHTTP,
			BackendCLI,
		)
	}
}
