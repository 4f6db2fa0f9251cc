package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"mp4-mp3-converter/internal/convert"
	"mp4-mp3-converter/internal/domain"
)

// ErrBatchAlreadyRunning is returned when starting a second active batch.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// ErrNoRunningBatch is returned when cancel is requested for idle state.
var ErrNoRunningBatch = errors.New("no running batch")

// ErrNoInputFiles is returned when a batch is started without jobs.
var ErrNoInputFiles = errors.New("no input files selected")

// fallbackErrorMessage stands in for failures without a captured message.
const fallbackErrorMessage = "unknown error"

// Converter runs a single conversion job to completion. A nil return
// means success; any failure is reported as an error with a message.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) error
}

// Orchestrator drives conversion jobs sequentially on one worker
// goroutine and merges per-file progress into an aggregate signal. All
// batch state is owned here; the presentation layer only sees event
// payloads and read-only state copies.
type Orchestrator struct {
	converter Converter
	events    *EventBus
	onEvent   func(Event)

	mu            sync.Mutex
	state         domain.BatchState
	jobs          []domain.ConversionJob
	lastAggregate float64
}

// New creates an orchestrator in idle state.
func New(converter Converter, events *EventBus) *Orchestrator {
	return &Orchestrator{
		converter: converter,
		events:    events,
		state: domain.BatchState{
			Status: domain.BatchStatusIdle,
		},
	}
}

// SetEventHook registers fn to observe every published event, after it
// has been sequenced. Set once during wiring, before any batch begins.
func (o *Orchestrator) SetEventHook(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

// Begin validates the job list and claims the running state. The caller
// then drives Run on a worker goroutine; Begin itself never blocks.
func (o *Orchestrator) Begin(batchID string, jobs []domain.ConversionJob) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if isActive(o.state.Status) {
		return ErrBatchAlreadyRunning
	}
	if len(jobs) == 0 {
		return ErrNoInputFiles
	}

	o.jobs = append([]domain.ConversionJob(nil), jobs...)
	o.state = domain.BatchState{
		ID:     batchID,
		Status: domain.BatchStatusRunning,
		Total:  len(jobs),
	}
	o.lastAggregate = 0
	return nil
}

// RequestCancel flags the running batch for cooperative cancellation.
// The flag is polled only at job boundaries: the in-flight conversion,
// if any, still runs to completion.
func (o *Orchestrator) RequestCancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Status != domain.BatchStatusRunning {
		return ErrNoRunningBatch
	}

	o.state.Status = domain.BatchStatusCancelling
	o.state.CancelRequested = true
	return nil
}

// State returns a snapshot of the current batch state.
func (o *Orchestrator) State() domain.BatchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// IsRunning reports whether a batch is currently active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return isActive(o.state.Status)
}

// Run executes the batch claimed by Begin and returns the final state.
// It blocks until the last terminal event and the all-done event have
// been published, so it must run off the presentation thread.
func (o *Orchestrator) Run(ctx context.Context) domain.BatchState {
	o.mu.Lock()
	batchID := o.state.ID
	total := o.state.Total
	jobs := o.jobs
	o.mu.Unlock()

	for i, job := range jobs {
		if o.cancelRequested() {
			break
		}

		index := i + 1
		name := filepath.Base(job.InputPath)
		o.beginJob(index, name)
		o.publish(Event{
			BatchID:  batchID,
			Type:     EventTypeNewFile,
			Index:    index,
			Total:    total,
			FileName: name,
		})

		err := o.converter.Convert(ctx, convert.Request{
			Job: job,
			OnProgress: func(snapshot domain.ProgressSnapshot) {
				o.recordProgress(batchID, index, total, name, snapshot)
			},
			OnSpeed: func(speed string) {
				o.recordSpeed(batchID, speed)
			},
		})
		o.finishJob(batchID, index, total, name, err)
	}

	return o.finishBatch(batchID)
}

// cancelRequested reports the cooperative cancellation flag.
func (o *Orchestrator) cancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.CancelRequested
}

// beginJob resets per-file state for the next job.
func (o *Orchestrator) beginJob(index int, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.CurrentIndex = index
	o.state.CurrentFile = name
	o.state.Current = domain.ProgressSnapshot{}
}

// recordProgress merges one per-file sample into the aggregate signal
// and publishes a progress event. The aggregate is clamped to 1 and
// never allowed to regress between samples.
func (o *Orchestrator) recordProgress(batchID string, index, total int, name string, snapshot domain.ProgressSnapshot) {
	o.mu.Lock()

	aggregate := (float64(o.state.Completed) + snapshot.Fraction) / float64(total)
	if aggregate > 1 {
		aggregate = 1
	}
	if aggregate < o.lastAggregate {
		aggregate = o.lastAggregate
	}
	o.lastAggregate = aggregate

	o.state.Current = snapshot
	o.state.AggregateFraction = aggregate
	completed := o.state.Completed
	o.mu.Unlock()

	o.publish(Event{
		BatchID:           batchID,
		Type:              EventTypeProgress,
		Index:             index,
		Total:             total,
		FileName:          name,
		Fraction:          snapshot.Fraction,
		OutTimeSeconds:    snapshot.OutTimeSeconds,
		ETASeconds:        snapshot.ETASeconds,
		HasETA:            snapshot.HasETA,
		Speed:             snapshot.Speed,
		Completed:         completed,
		AggregateFraction: aggregate,
	})
}

// recordSpeed publishes a standalone speed update.
func (o *Orchestrator) recordSpeed(batchID string, speed string) {
	o.mu.Lock()
	o.state.Current.Speed = speed
	o.mu.Unlock()

	o.publish(Event{
		BatchID: batchID,
		Type:    EventTypeSpeed,
		Speed:   speed,
	})
}

// finishJob records one terminal outcome. The completed count grows
// unconditionally; failures also append their message to the error
// list. The aggregate is reset to completed/total exactly here, which
// strips any rounding noise from the last partial sample.
func (o *Orchestrator) finishJob(batchID string, index, total int, name string, err error) {
	message := ""
	ok := err == nil
	if err != nil {
		message = strings.TrimSpace(err.Error())
		if message == "" {
			message = fallbackErrorMessage
		}
	}

	o.mu.Lock()
	o.state.Completed++
	if !ok {
		o.state.Errors = append(o.state.Errors, message)
	}

	aggregate := float64(o.state.Completed) / float64(total)
	o.state.AggregateFraction = aggregate
	o.lastAggregate = aggregate
	completed := o.state.Completed
	o.mu.Unlock()

	o.publish(Event{
		BatchID:           batchID,
		Type:              EventTypeFileDone,
		Index:             index,
		Total:             total,
		FileName:          name,
		OK:                ok,
		Message:           message,
		Completed:         completed,
		AggregateFraction: aggregate,
	})
}

// finishBatch publishes the final all-done event and returns the state.
func (o *Orchestrator) finishBatch(batchID string) domain.BatchState {
	o.mu.Lock()
	o.state.Status = domain.BatchStatusFinished
	final := o.snapshotLocked()
	o.mu.Unlock()

	o.publish(Event{
		BatchID:           batchID,
		Type:              EventTypeAllDone,
		Total:             final.Total,
		Completed:         final.Completed,
		AggregateFraction: final.AggregateFraction,
		Cancelled:         final.CancelRequested,
		Errors:            final.Errors,
	})
	return final
}

// publish sequences the event and forwards it to the hook.
func (o *Orchestrator) publish(event Event) {
	published := o.events.Publish(event)

	o.mu.Lock()
	hook := o.onEvent
	o.mu.Unlock()
	if hook != nil {
		hook(published)
	}
}

// snapshotLocked copies state for callers outside the worker.
func (o *Orchestrator) snapshotLocked() domain.BatchState {
	state := o.state
	state.Errors = append([]string(nil), o.state.Errors...)
	return state
}

// isActive checks if a status represents an in-flight batch.
func isActive(status domain.BatchStatus) bool {
	switch status {
	case domain.BatchStatusRunning, domain.BatchStatusCancelling:
		return true
	default:
		return false
	}
}
