package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mp4-mp3-converter/internal/batch"
	"mp4-mp3-converter/internal/bootstrap"
	"mp4-mp3-converter/internal/convert"
	"mp4-mp3-converter/internal/probe"
)

var destDir string

var rootCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Batch-convert MP4 files to MP3 without the GUI",
	Long: `convert drives the same conversion engine as the desktop app from the
command line: it strips the video stream and encodes 192 kbit/s 44.1 kHz
MP3 audio with ffmpeg, showing live per-file and total progress.

Example:
  convert --dest ~/Music/Converted lecture-1.mp4 lecture-2.mp4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.Flags().StringVar(&destDir, "dest", "", "destination directory for converted MP3 files")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	dest := strings.TrimSpace(destDir)
	if dest == "" {
		prompt := &survey.Input{Message: "Destination directory:"}
		if err := survey.AskOne(prompt, &dest, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
		dest = strings.TrimSpace(dest)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	jobs := bootstrap.BuildJobs(args, dest)
	if len(jobs) == 0 {
		return batch.ErrNoInputFiles
	}

	events := batch.NewEventBus(1000)
	orchestrator := batch.New(convert.NewRunner(probe.NewProber()), events)
	orchestrator.SetEventHook(printEvent)

	if err := orchestrator.Begin("batch-"+uuid.NewString(), jobs); err != nil {
		return err
	}

	// First interrupt requests cooperative cancellation: the in-flight
	// ffmpeg process still runs to completion.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		if err := orchestrator.RequestCancel(); err == nil {
			fmt.Println("\ncancelling after the current file...")
		}
	}()

	final := orchestrator.Run(cmd.Context())

	switch {
	case final.CancelRequested:
		fmt.Printf("Cancelled after %d of %d files.\n", final.Completed, final.Total)
	case len(final.Errors) > 0:
		for _, msg := range final.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		return fmt.Errorf("%d of %d conversions failed", len(final.Errors), final.Total)
	default:
		fmt.Printf("Converted %d files to %s.\n", final.Completed, dest)
	}
	return nil
}

// printEvent renders batch events as terminal progress lines.
func printEvent(e batch.Event) {
	switch e.Type {
	case batch.EventTypeNewFile:
		fmt.Printf("[%d/%d] %s\n", e.Index, e.Total, e.FileName)
	case batch.EventTypeProgress:
		eta := "--:--"
		if e.HasETA {
			eta = formatSeconds(e.ETASeconds)
		}
		speed := e.Speed
		if speed == "" {
			speed = "-"
		}
		fmt.Printf("\r  %5.1f%%  ETA %s  speed %s  |  total %5.1f%%", e.Fraction*100, eta, speed, e.AggregateFraction*100)
	case batch.EventTypeFileDone:
		if e.OK {
			fmt.Printf("\r  done (%d/%d)%s\n", e.Completed, e.Total, strings.Repeat(" ", 30))
		} else {
			fmt.Printf("\r  failed: %s\n", e.Message)
		}
	}
}

// formatSeconds renders whole seconds as h:mm:ss, or m:ss under an hour.
func formatSeconds(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}

	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
