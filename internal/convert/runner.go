package convert

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"mp4-mp3-converter/internal/domain"
)

const (
	audioBitrate = "192k"
	sampleRate   = "44100"

	// stderrExcerptLimit bounds the diagnostic excerpt attached to a
	// failed conversion.
	stderrExcerptLimit = 800
)

// Request contains the job and progress callbacks for one conversion.
type Request struct {
	Job domain.ConversionJob

	// OnProgress receives a snapshot for every elapsed-time sample.
	OnProgress func(snapshot domain.ProgressSnapshot)
	// OnSpeed receives standalone speed-token updates.
	OnSpeed func(speed string)
}

// ConvertError describes a failed conversion. The message carries a
// bounded excerpt of the transcoder's diagnostic output, or the text of
// the error that interrupted the read loop.
type ConvertError struct {
	Message string
	Err     error
}

// Error formats conversion failures for logs and UI.
func (e *ConvertError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ConvertError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// durationProber reports total source duration, 0 when unknown.
type durationProber interface {
	Duration(ctx context.Context, path string) float64
}

// startedProcess is the observable surface of a live child process.
type startedProcess interface {
	Stdout() io.Reader
	Wait() error
	Kill() error
	Stderr() string
}

// processRunner abstracts streaming process execution for testability.
type processRunner interface {
	Start(ctx context.Context, name string, args ...string) (startedProcess, error)
}

// execProcess wraps an os/exec child with piped stdout and buffered stderr.
type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

// Stdout returns the live machine-readable progress stream.
func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

// Wait blocks until process exit; non-nil means non-zero exit status.
func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

// Kill forcibly terminates the child process.
func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Stderr returns diagnostic output captured so far. Only meaningful
// after Wait.
func (p *execProcess) Stderr() string {
	return p.stderr.String()
}

// execStarter launches processes via os/exec.
type execStarter struct{}

// Start launches one command with stdout piped for streaming reads.
func (execStarter) Start(ctx context.Context, name string, args ...string) (startedProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

// Runner executes one ConversionJob end-to-end against the external
// transcoder, relaying live progress through the Request callbacks.
type Runner struct {
	ffmpegPath string
	prober     durationProber
	starter    processRunner
}

// NewRunner constructs the production runner using ffmpeg on PATH.
func NewRunner(prober durationProber) *Runner {
	return &Runner{
		ffmpegPath: "ffmpeg",
		prober:     prober,
		starter:    execStarter{},
	}
}

// Convert runs one conversion to completion. A nil return means the
// transcoder exited successfully; every failure mode (launch failure,
// read failure, non-zero exit) is absorbed into a ConvertError so the
// batch can continue with the next job.
func (r *Runner) Convert(ctx context.Context, req Request) error {
	duration := r.prober.Duration(ctx, req.Job.InputPath)

	args := buildFFmpegArgs(req.Job.InputPath, req.Job.OutputPath)
	proc, err := r.starter.Start(ctx, r.ffmpegPath, args...)
	if err != nil {
		return &ConvertError{
			Message: fmt.Sprintf("start %s: %v", r.ffmpegPath, err),
			Err:     err,
		}
	}

	parser := NewParser(duration)
	scanner := bufio.NewScanner(proc.Stdout())

readLoop:
	for scanner.Scan() {
		switch parser.ParseLine(scanner.Text()) {
		case LineProgress:
			if req.OnProgress != nil {
				req.OnProgress(parser.Snapshot())
			}
		case LineSpeed:
			if req.OnSpeed != nil {
				req.OnSpeed(parser.Speed())
			}
		case LineEnd:
			break readLoop
		}
	}

	if err := scanner.Err(); err != nil {
		// Kill defensively so a wedged transcoder cannot outlive the
		// failed read loop.
		_ = proc.Kill()
		_ = proc.Wait()
		return &ConvertError{
			Message: err.Error(),
			Err:     err,
		}
	}

	if err := proc.Wait(); err != nil {
		message := excerpt(proc.Stderr(), stderrExcerptLimit)
		if message == "" {
			message = err.Error()
		}
		return &ConvertError{
			Message: message,
			Err:     err,
		}
	}

	return nil
}

// buildFFmpegArgs builds transcoder args: video stripped, fixed-rate MP3
// audio, unconditional overwrite, machine-readable progress on stdout
// with human-readable stats suppressed.
func buildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ab", audioBitrate,
		"-ar", sampleRate,
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	}
}

// excerpt trims diagnostic output and bounds it to limit bytes.
func excerpt(raw string, limit int) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > limit {
		return trimmed[:limit]
	}
	return trimmed
}

// NewRunnerForTests constructs a runner with injectable dependencies.
func NewRunnerForTests(ffmpegPath string, prober durationProber, starter processRunner) *Runner {
	return &Runner{
		ffmpegPath: ffmpegPath,
		prober:     prober,
		starter:    starter,
	}
}
