// Package deps resolves the external executables the adapter launches.
package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Requirement names an executable and, optionally, the arguments that make
// it print its version.
type Requirement struct {
	Name        string
	Command     string
	Description string
	VersionArgs []string
}

// Status is the resolved state of one requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Path        string
	Version     string
	Available   bool
	Detail      string
}

const versionTimeout = 5 * time.Second

// CheckBinaries resolves each requirement on PATH and, when VersionArgs are
// set, records the first line the binary prints.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(ctx, req))
	}
	return results
}

func check(ctx context.Context, req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	status.Path = path
	status.Available = true
	if len(req.VersionArgs) == 0 {
		return status
	}

	versionCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(versionCtx, path, req.VersionArgs...).CombinedOutput()
	if err != nil {
		status.Available = false
		status.Detail = fmt.Sprintf("%s %s failed: %v", cmd, strings.Join(req.VersionArgs, " "), err)
		return status
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	status.Version = strings.TrimSpace(line)
	return status
}
