package convert

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"mp4-mp3-converter/internal/domain"
)

// fakeProber returns a fixed probed duration.
type fakeProber struct {
	duration float64
}

// Duration returns the configured duration.
func (f *fakeProber) Duration(ctx context.Context, path string) float64 {
	return f.duration
}

// fakeProcess simulates a started transcoder process.
type fakeProcess struct {
	stdout  io.Reader
	waitErr error
	stderr  string
	killed  bool
	waited  bool
}

func (f *fakeProcess) Stdout() io.Reader { return f.stdout }

func (f *fakeProcess) Wait() error {
	f.waited = true
	return f.waitErr
}

func (f *fakeProcess) Kill() error {
	f.killed = true
	return nil
}

func (f *fakeProcess) Stderr() string { return f.stderr }

// fakeStarter hands out a prepared process or a launch error.
type fakeStarter struct {
	proc     *fakeProcess
	startErr error
	gotName  string
	gotArgs  []string
}

func (f *fakeStarter) Start(ctx context.Context, name string, args ...string) (startedProcess, error) {
	f.gotName = name
	f.gotArgs = append([]string{}, args...)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.proc, nil
}

// errReader fails after yielding its prefix, simulating a broken pipe.
type errReader struct {
	prefix io.Reader
	err    error
}

func (r *errReader) Read(p []byte) (int, error) {
	n, err := r.prefix.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == io.EOF {
		return 0, r.err
	}
	return n, err
}

// TestRunnerConvertStreamsProgress checks the full happy path.
func TestRunnerConvertStreamsProgress(t *testing.T) {
	stream := strings.Join([]string{
		"frame=10",
		"out_time_ms=30000000",
		"speed=1.5x",
		"out_time_ms=60000000",
		"out_time_ms=120000000",
		"progress=end",
		"this line is never consumed",
	}, "\n")

	starter := &fakeStarter{proc: &fakeProcess{stdout: strings.NewReader(stream)}}
	runner := NewRunnerForTests("ffmpeg-custom", &fakeProber{duration: 120}, starter)

	var snapshots []domain.ProgressSnapshot
	var speeds []string
	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "/in/a.mp4", OutputPath: "/out/a.mp3"},
		OnProgress: func(s domain.ProgressSnapshot) {
			snapshots = append(snapshots, s)
		},
		OnSpeed: func(speed string) {
			speeds = append(speeds, speed)
		},
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if starter.gotName != "ffmpeg-custom" {
		t.Fatalf("command = %q, want ffmpeg-custom", starter.gotName)
	}
	if got := starter.gotArgs[len(starter.gotArgs)-1]; got != "/out/a.mp3" {
		t.Fatalf("last arg = %q, want output path", got)
	}

	if len(snapshots) != 3 {
		t.Fatalf("progress samples = %d, want 3", len(snapshots))
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].Fraction < snapshots[i-1].Fraction {
			t.Fatalf("fraction regressed: %v -> %v", snapshots[i-1].Fraction, snapshots[i].Fraction)
		}
	}
	if last := snapshots[len(snapshots)-1]; last.Fraction != 1 {
		t.Fatalf("final fraction = %v, want 1", last.Fraction)
	}
	if len(speeds) != 1 || speeds[0] != "1.5x" {
		t.Fatalf("speeds = %v, want [1.5x]", speeds)
	}
	if !starter.proc.waited {
		t.Fatal("expected Wait to be called")
	}
}

// TestRunnerConvertUnknownDuration checks degraded progress reporting.
func TestRunnerConvertUnknownDuration(t *testing.T) {
	stream := "out_time_ms=5000000\nout_time_ms=9000000\nprogress=end\n"
	starter := &fakeStarter{proc: &fakeProcess{stdout: strings.NewReader(stream)}}
	runner := NewRunnerForTests("ffmpeg", &fakeProber{duration: 0}, starter)

	var snapshots []domain.ProgressSnapshot
	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "b.mp4", OutputPath: "b.mp3"},
		OnProgress: func(s domain.ProgressSnapshot) {
			snapshots = append(snapshots, s)
		},
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	for _, s := range snapshots {
		if s.Fraction != 0 || s.HasETA {
			t.Fatalf("sample = %+v, want fraction 0 and no ETA", s)
		}
	}
	if snapshots[len(snapshots)-1].OutTimeSeconds != 9 {
		t.Fatalf("elapsed = %v, want 9", snapshots[len(snapshots)-1].OutTimeSeconds)
	}
}

// TestRunnerConvertLaunchFailure checks tool-missing handling.
func TestRunnerConvertLaunchFailure(t *testing.T) {
	starter := &fakeStarter{startErr: errors.New("executable file not found")}
	runner := NewRunnerForTests("ffmpeg", &fakeProber{}, starter)

	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "a.mp4", OutputPath: "a.mp3"},
	})

	var convErr *ConvertError
	if !errors.As(err, &convErr) {
		t.Fatalf("error = %v, want ConvertError", err)
	}
	if !strings.Contains(convErr.Message, "executable file not found") {
		t.Fatalf("message = %q, want launch failure text", convErr.Message)
	}
}

// TestRunnerConvertNonZeroExit checks diagnostic excerpt bounding.
func TestRunnerConvertNonZeroExit(t *testing.T) {
	proc := &fakeProcess{
		stdout:  strings.NewReader("out_time_ms=1000000\nprogress=end\n"),
		waitErr: errors.New("exit status 1"),
		stderr:  "  " + strings.Repeat("x", 900) + "  ",
	}
	runner := NewRunnerForTests("ffmpeg", &fakeProber{duration: 10}, &fakeStarter{proc: proc})

	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "a.mp4", OutputPath: "a.mp3"},
	})

	var convErr *ConvertError
	if !errors.As(err, &convErr) {
		t.Fatalf("error = %v, want ConvertError", err)
	}
	if len(convErr.Message) != 800 {
		t.Fatalf("excerpt length = %d, want 800", len(convErr.Message))
	}
}

// TestRunnerConvertNonZeroExitWithoutStderr checks the message fallback.
func TestRunnerConvertNonZeroExitWithoutStderr(t *testing.T) {
	proc := &fakeProcess{
		stdout:  strings.NewReader("progress=end\n"),
		waitErr: errors.New("exit status 1"),
	}
	runner := NewRunnerForTests("ffmpeg", &fakeProber{}, &fakeStarter{proc: proc})

	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "a.mp4", OutputPath: "a.mp3"},
	})
	if err == nil || err.Error() != "exit status 1" {
		t.Fatalf("error = %v, want exit status text", err)
	}
}

// TestRunnerConvertReadFailureKillsProcess checks defensive termination.
func TestRunnerConvertReadFailureKillsProcess(t *testing.T) {
	proc := &fakeProcess{
		stdout: &errReader{
			prefix: strings.NewReader("out_time_ms=1000000\n"),
			err:    errors.New("read: broken pipe"),
		},
	}
	runner := NewRunnerForTests("ffmpeg", &fakeProber{duration: 10}, &fakeStarter{proc: proc})

	err := runner.Convert(context.Background(), Request{
		Job: domain.ConversionJob{InputPath: "a.mp4", OutputPath: "a.mp3"},
	})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("error = %v, want read failure", err)
	}
	if !proc.killed {
		t.Fatal("expected child process to be killed")
	}
}
