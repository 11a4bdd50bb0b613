package client

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audioscribe/api/internal/config"
	"github.com/audioscribe/api/internal/model"
)

// Transcriber defines the interface for the per-stem note-transcription model
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string, params model.TranscriptionParams) (model.NoteSequence, error)
	IsConfigured() bool
}

// BasicPitchTranscriber implements Transcriber by invoking the basic-pitch
// CLI with instrument-tuned thresholds and parsing the note-events CSV it
// writes next to the output MIDI.
type BasicPitchTranscriber struct {
	bin     string
	timeout time.Duration
}

// NewBasicPitchTranscriber creates a transcriber from pipeline configuration.
func NewBasicPitchTranscriber(cfg *config.PipelineConfig) *BasicPitchTranscriber {
	return &BasicPitchTranscriber{
		bin:     cfg.Transcriber,
		timeout: time.Duration(cfg.TranscriberTimeout) * time.Second,
	}
}

func (t *BasicPitchTranscriber) Transcribe(ctx context.Context, wavPath string, params model.TranscriptionParams) (model.NoteSequence, error) {
	instrument := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	seq := model.NoteSequence{Instrument: instrument}

	if !t.IsConfigured() {
		return seq, fmt.Errorf("transcriber not configured")
	}

	workDir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return seq, fmt.Errorf("failed to create transcription workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bin, workDir, wavPath,
		"--save-note-events",
		"--onset-threshold", formatFloat(params.OnsetThreshold),
		"--frame-threshold", formatFloat(params.FrameThreshold),
		"--minimum-note-length", strconv.Itoa(params.MinNoteLength),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return seq, fmt.Errorf("transcription of %s failed: %v | %s", instrument, err, strings.TrimSpace(stderr.String()))
	}

	csvPath := filepath.Join(workDir, instrument+"_basic_pitch_note_events.csv")
	f, err := os.Open(csvPath)
	if err != nil {
		return seq, fmt.Errorf("transcription of %s produced no note events: %w", instrument, err)
	}
	defer f.Close()

	notes, err := ParseNoteEvents(f)
	if err != nil {
		return seq, fmt.Errorf("failed to parse note events for %s: %w", instrument, err)
	}
	seq.Notes = notes
	return seq, nil
}

func (t *BasicPitchTranscriber) IsConfigured() bool {
	return t.bin != ""
}

// ParseNoteEvents reads a basic-pitch note-events CSV
// (start_time_s, end_time_s, pitch_midi, velocity, ...).
func ParseNoteEvents(r io.Reader) ([]model.Note, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var notes []model.Note
	for i, rec := range records {
		if i == 0 && strings.HasPrefix(rec[0], "start") {
			continue // header row
		}
		if len(rec) < 4 {
			return nil, fmt.Errorf("row %d: expected at least 4 columns, got %d", i, len(rec))
		}
		start, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad start time %q", i, rec[0])
		}
		end, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad end time %q", i, rec[1])
		}
		pitch, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad pitch %q", i, rec[2])
		}
		velocity, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad velocity %q", i, rec[3])
		}
		notes = append(notes, model.Note{
			Start:    start,
			End:      end,
			Pitch:    pitch,
			Velocity: velocity,
		})
	}
	return notes, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
