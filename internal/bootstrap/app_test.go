package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mp4-mp3-converter/internal/batch"
	"mp4-mp3-converter/internal/convert"
	"mp4-mp3-converter/internal/domain"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    []domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records persisted settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.saved = append(s.saved, settings)
	s.settings = settings
	return nil
}

// fakeConverter allows injecting custom conversion behavior per test.
type fakeConverter struct {
	convert func(ctx context.Context, req convert.Request) error
}

// Convert delegates to injected function.
func (c *fakeConverter) Convert(ctx context.Context, req convert.Request) error {
	if c.convert == nil {
		return nil
	}
	return c.convert(ctx, req)
}

// newTestApp wires an App around a scripted converter.
func newTestApp(store *fakeStore, converter *fakeConverter) *App {
	events := batch.NewEventBus(100)
	return &App{
		Store:  store,
		Batch:  batch.New(converter, events),
		events: events,
	}
}

// TestBuildJobs checks output path derivation.
func TestBuildJobs(t *testing.T) {
	jobs := BuildJobs([]string{"/videos/a.mp4", "  ", "/videos/sub/b.mp4"}, "/out")

	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2 (blank entries dropped)", len(jobs))
	}
	if jobs[0].OutputPath != filepath.Join("/out", "a.mp3") {
		t.Fatalf("output[0] = %q", jobs[0].OutputPath)
	}
	if jobs[1].OutputPath != filepath.Join("/out", "b.mp3") {
		t.Fatalf("output[1] = %q", jobs[1].OutputPath)
	}
}

// TestStartConversionValidatesSelection checks start preconditions.
func TestStartConversionValidatesSelection(t *testing.T) {
	app := newTestApp(&fakeStore{}, &fakeConverter{})

	if _, err := app.StartConversion([]string{"/in/a.mp4"}, "  "); !errors.Is(err, ErrNoOutputDir) {
		t.Fatalf("missing dest error = %v, want %v", err, ErrNoOutputDir)
	}
	if _, err := app.StartConversion(nil, t.TempDir()); !errors.Is(err, batch.ErrNoInputFiles) {
		t.Fatalf("missing files error = %v, want %v", err, batch.ErrNoInputFiles)
	}
}

// TestStartConversionRunsBatchAndPersistsDestination checks the flow
// from start through the all-done event.
func TestStartConversionRunsBatchAndPersistsDestination(t *testing.T) {
	store := &fakeStore{}
	app := newTestApp(store, &fakeConverter{
		convert: func(ctx context.Context, req convert.Request) error {
			req.OnProgress(domain.ProgressSnapshot{Fraction: 1, OutTimeSeconds: 10, HasETA: true})
			return nil
		},
	})

	dest := t.TempDir()
	state, err := app.StartConversion([]string{"/in/a.mp4", "/in/b.mp4"}, dest)
	if err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	if state.Total != 2 {
		t.Fatalf("total = %d, want 2", state.Total)
	}

	final := waitForFinished(t, app)
	if final.Completed != 2 || len(final.Errors) != 0 {
		t.Fatalf("final = %+v", final)
	}

	if len(store.saved) == 0 || store.saved[0].OutputDir != dest {
		t.Fatalf("saved settings = %+v, want destination %q", store.saved, dest)
	}

	events := app.BatchEvents(0)
	if events[len(events)-1].Type != batch.EventTypeAllDone {
		t.Fatalf("last event = %+v, want all_done", events[len(events)-1])
	}
}

// TestStartConversionEnforcesSingleRunningBatch checks the batch guard.
func TestStartConversionEnforcesSingleRunningBatch(t *testing.T) {
	release := make(chan struct{})
	app := newTestApp(&fakeStore{}, &fakeConverter{
		convert: func(ctx context.Context, req convert.Request) error {
			<-release
			return nil
		},
	})

	dest := t.TempDir()
	if _, err := app.StartConversion([]string{"/in/a.mp4"}, dest); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := app.StartConversion([]string{"/in/b.mp4"}, dest); !errors.Is(err, batch.ErrBatchAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, batch.ErrBatchAlreadyRunning)
	}

	close(release)
	waitForFinished(t, app)
}

// TestCancelConversionStopsPendingJobs checks cancel through the App surface.
func TestCancelConversionStopsPendingJobs(t *testing.T) {
	var app *App
	app = newTestApp(&fakeStore{}, &fakeConverter{
		convert: func(ctx context.Context, req convert.Request) error {
			if err := app.CancelConversion(); err != nil {
				t.Errorf("CancelConversion() error = %v", err)
			}
			return nil
		},
	})

	if _, err := app.StartConversion([]string{"/in/a.mp4", "/in/b.mp4"}, t.TempDir()); err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}

	final := waitForFinished(t, app)
	if final.Completed != 1 || !final.CancelRequested {
		t.Fatalf("final = %+v, want completed 1 and cancel requested", final)
	}
}

// TestInstallOrFixDiagnosticOutputDir checks destination remediation.
func TestInstallOrFixDiagnosticOutputDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "converted")
	store := &fakeStore{settings: domain.Settings{OutputDir: dest}}
	app := newTestApp(store, &fakeConverter{})

	if _, err := app.InstallOrFixDiagnostic("output_dir"); err != nil {
		t.Fatalf("InstallOrFixDiagnostic() error = %v", err)
	}
	if _, err := app.InstallOrFixDiagnostic("nope"); err == nil {
		t.Fatal("expected unsupported item id error")
	}
}

// waitForFinished polls until the batch reaches finished state.
func waitForFinished(t *testing.T, app *App) domain.BatchState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state := app.CurrentBatch()
		if state.Status == domain.BatchStatusFinished {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch did not finish; state = %+v", app.CurrentBatch())
	return domain.BatchState{}
}
