// Package preflight validates the runtime environment before the engine
// starts accepting debriefs.
package preflight

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"fieldq/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckEndpoint("Delivery endpoint", cfg.Delivery.Endpoint),
	}

	if cfg.Connectivity.ProbeURL != "" {
		results = append(results, CheckEndpoint("Probe URL", cfg.Connectivity.ProbeURL))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckEndpoint verifies the URL parses and uses an http scheme. Reachability
// is deliberately not checked: the whole point of the outbox is to work
// offline.
func CheckEndpoint(name, raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", trimmed, err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: scheme must be http or https)", trimmed)}
	}
	if parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing host)", trimmed)}
	}
	return Result{Name: name, Passed: true, Detail: trimmed}
}
