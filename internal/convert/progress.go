package convert

import (
	"strconv"
	"strings"

	"mp4-mp3-converter/internal/domain"
)

// LineKind classifies one line of ffmpeg -progress output.
type LineKind int

const (
	// LineIgnored covers blank lines, lines without '=', and keys the
	// converter does not track.
	LineIgnored LineKind = iota
	// LineProgress is an out_time_ms sample updating elapsed output time.
	LineProgress
	// LineSpeed is a standalone speed token update ("1.23x"). ffmpeg does
	// not always emit speed on the same cadence as out_time_ms, so speed
	// updates are reported separately.
	LineSpeed
	// LineEnd is progress=end, terminating the stream for progress purposes.
	LineEnd
)

// Parser turns the transcoder's key=value progress stream into
// normalized progress snapshots for a single conversion.
type Parser struct {
	// duration is total source duration in seconds; 0 means unknown,
	// which disables fraction and ETA for every sample.
	duration float64
	outTime  float64
	speed    string
}

// NewParser creates a parser for one conversion with the probed
// source duration (0 when the probe failed).
func NewParser(durationSeconds float64) *Parser {
	return &Parser{duration: durationSeconds}
}

// ParseLine consumes one progress line and reports what it carried.
// out_time_ms is microseconds despite the name; a value that fails to
// parse keeps the previous elapsed time rather than regressing to zero.
func (p *Parser) ParseLine(line string) LineKind {
	line = strings.TrimSpace(line)
	if line == "" {
		return LineIgnored
	}

	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return LineIgnored
	}

	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])

	switch key {
	case "out_time_ms":
		if raw, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.outTime = float64(raw) / 1_000_000.0
		}
		return LineProgress
	case "speed":
		p.speed = value
		return LineSpeed
	case "progress":
		if value == "end" {
			return LineEnd
		}
		return LineIgnored
	default:
		return LineIgnored
	}
}

// Snapshot returns the current normalized progress sample. With a known
// duration the fraction is clamped to [0,1] and ETA never goes negative;
// with an unknown duration the fraction stays 0 and ETA is absent while
// elapsed time still advances.
func (p *Parser) Snapshot() domain.ProgressSnapshot {
	snapshot := domain.ProgressSnapshot{
		OutTimeSeconds: p.outTime,
		Speed:          p.speed,
	}

	if p.duration > 0 {
		fraction := p.outTime / p.duration
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		snapshot.Fraction = fraction

		eta := p.duration - p.outTime
		if eta < 0 {
			eta = 0
		}
		snapshot.ETASeconds = eta
		snapshot.HasETA = true
	}

	return snapshot
}

// Speed returns the last speed token seen, empty before the first one.
func (p *Parser) Speed() string {
	return p.speed
}
