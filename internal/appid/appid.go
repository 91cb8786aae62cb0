// Package appid holds the compiled-in application identity used for the
// binary name, environment prefix, config file name, and telemetry namespace.
package appid

import (
	"context"
	"strings"
)

// Identity describes the application to the rest of the codebase.
type Identity struct {
	BinaryName         string
	Vendor             string
	Description        string
	EnvPrefix          string
	ConfigName         string
	TelemetryNamespace string
}

var identity = Identity{
	BinaryName:         "fetchguard",
	Vendor:             "fetchguard",
	Description:        "Outbound request supervisor with rate limiting, caching, retries, and a live request stream",
	EnvPrefix:          "FETCHGUARD_",
	ConfigName:         "fetchguard",
	TelemetryNamespace: "fetchguard",
}

// Get returns the application identity. The context is accepted for parity
// with loaders that resolve identity from disk.
func Get(_ context.Context) (*Identity, error) {
	id := identity
	return &id, nil
}

// Default returns the compiled identity without error handling.
func Default() Identity {
	return identity
}

// EnvKey joins the environment prefix and name, e.g. EnvKey("ADMIN_TOKEN").
func (i Identity) EnvKey(name string) string {
	return i.EnvPrefix + strings.ToUpper(name)
}

// ViperPrefix is the prefix without its trailing underscore, as viper expects.
func (i Identity) ViperPrefix() string {
	return strings.TrimSuffix(i.EnvPrefix, "_")
}
