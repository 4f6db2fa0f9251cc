package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"mp4-mp3-converter/internal/batch"
	"mp4-mp3-converter/internal/config"
	"mp4-mp3-converter/internal/convert"
	"mp4-mp3-converter/internal/diagnostics"
	"mp4-mp3-converter/internal/domain"
	"mp4-mp3-converter/internal/probe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrNoOutputDir is returned when a batch is started without a
// destination directory.
var ErrNoOutputDir = errors.New("no destination directory selected")

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "MP4 files",
		Pattern:     "*.mp4",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the batch engine, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Batch       *batch.Orchestrator
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	events      *batch.EventBus

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".mp4-mp3-converter", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	events := batch.NewEventBus(1000)
	runner := convert.NewRunner(probe.NewProber())

	app := &App{
		Settings:    settings,
		Store:       store,
		Batch:       batch.New(runner, events),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		events:      events,
	}
	app.Batch.SetEventHook(app.handleBatchEvent)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:         "MP4 to MP3 Converter",
		Width:         640,
		Height:        460,
		DisableResize: true,
		AssetServer:   assetOptions,
		OnStartup:     a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events and dialogs.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// PickInputFiles opens a native multi-select dialog for source videos.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select MP4 files to convert",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// PickOutputDirectory opens a native directory picker for converted files.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select destination directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// StartConversion validates the selection, claims a batch, and starts
// the worker goroutine driving it. The in-flight batch state is
// returned so the UI can render immediately.
func (a *App) StartConversion(inputPaths []string, outputDir string) (domain.BatchState, error) {
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return domain.BatchState{}, ErrNoOutputDir
	}

	jobs := BuildJobs(inputPaths, outputDir)
	if len(jobs) == 0 {
		return domain.BatchState{}, batch.ErrNoInputFiles
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.BatchState{}, fmt.Errorf("create destination directory: %w", err)
	}

	batchID := "batch-" + uuid.NewString()
	if err := a.Batch.Begin(batchID, jobs); err != nil {
		return domain.BatchState{}, err
	}

	// Remember the destination for the next run; failure to persist
	// must not block the conversion itself.
	_, _ = a.SaveSettings(domain.Settings{OutputDir: outputDir})

	go a.Batch.Run(context.Background())
	return a.Batch.State(), nil
}

// CancelConversion requests cooperative cancellation of the running batch.
func (a *App) CancelConversion() error {
	return a.Batch.RequestCancel()
}

// CurrentBatch returns current batch state for polling UIs.
func (a *App) CurrentBatch() domain.BatchState {
	return a.Batch.State()
}

// BatchEvents returns all events with sequence greater than sinceSeq.
func (a *App) BatchEvents(sinceSeq int64) []batch.Event {
	return a.events.Since(sinceSeq)
}

// OpenOutputFolder opens the given path (or configured destination) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// handleBatchEvent mirrors each sequenced event to the frontend and
// shows the single end-of-batch notice.
func (a *App) handleBatchEvent(event batch.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx == nil {
		return
	}

	wailsruntime.EventsEmit(ctx, "batch:event", event)

	if event.Type == batch.EventTypeAllDone {
		a.showCompletionDialog(ctx, event)
	}
}

// showCompletionDialog presents exactly one modal notice per batch:
// cancelled, completed with errors, or fully successful.
func (a *App) showCompletionDialog(ctx context.Context, event batch.Event) {
	dialog := wailsruntime.MessageDialogOptions{
		Type:    wailsruntime.InfoDialog,
		Title:   "Done",
		Message: fmt.Sprintf("Converted %d of %d files.", event.Completed, event.Total),
	}

	switch {
	case event.Cancelled:
		dialog.Title = "Cancelled"
		dialog.Message = "The conversion was cancelled."
	case len(event.Errors) > 0:
		dialog.Type = wailsruntime.WarningDialog
		dialog.Title = "Completed with errors"
		dialog.Message = fmt.Sprintf(
			"%d of %d files failed. Check that ffmpeg/ffprobe are installed and the inputs are valid.",
			len(event.Errors), event.Total,
		)
	}

	_, _ = wailsruntime.MessageDialog(ctx, dialog)
}

// BuildJobs derives one ConversionJob per non-empty input path: same
// base name, .mp3 extension, placed in the destination directory.
func BuildJobs(inputPaths []string, outputDir string) []domain.ConversionJob {
	jobs := make([]domain.ConversionJob, 0, len(inputPaths))
	for _, input := range inputPaths {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		base := filepath.Base(input)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		jobs = append(jobs, domain.ConversionJob{
			InputPath:  input,
			OutputPath: filepath.Join(outputDir, name+".mp3"),
		})
	}
	return jobs
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
