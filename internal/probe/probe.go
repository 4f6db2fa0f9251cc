package probe

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Prober queries ffprobe for container-level media metadata.
type Prober struct {
	ffprobePath string
	runner      commandRunner
}

// NewProber constructs the production prober using ffprobe on PATH.
func NewProber() *Prober {
	return &Prober{
		ffprobePath: "ffprobe",
		runner:      &execRunner{},
	}
}

// Duration returns the media duration in seconds, or 0 when the probe
// fails for any reason. Probe failures never propagate: a source with
// unknown duration still converts, only percentage and ETA degrade.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	result, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil || result.ExitCode != 0 {
		return 0
	}

	raw := strings.TrimSpace(result.Stdout)
	if raw == "" || raw == "N/A" {
		return 0
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

// NewProberForTests constructs a prober with injectable dependencies.
func NewProberForTests(ffprobePath string, runner commandRunner) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}
