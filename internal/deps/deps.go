// Package deps verifies the external binaries bundlex drives.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"bundlex/internal/config"
)

// Requirement defines an external dependency bundlex relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Required lists the binaries the daemon needs to process sessions.
func Required(cfg *config.Config) []Requirement {
	command := "bundletool"
	if cfg != nil && strings.TrimSpace(cfg.Tools.BundleBinary) != "" {
		command = cfg.Tools.BundleBinary
	}
	return []Requirement{
		{
			Name:        "bundletool",
			Command:     command,
			Description: "Analyzes bundles and extracts assets",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
