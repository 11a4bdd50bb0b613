package client

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/audioscribe/api/internal/config"
)

// Engraver defines the interface for the notation-rendering tool
type Engraver interface {
	Render(ctx context.Context, midiPath, pdfPath string) error
	IsConfigured() bool
}

// MuseScoreEngraver implements Engraver by invoking MuseScore's converter
// mode (`mscore3 -o out.pdf in.mid`). MuseScore exits non-zero on any
// engraving failure, which surfaces here as an error.
type MuseScoreEngraver struct {
	bin     string
	timeout time.Duration
}

// NewMuseScoreEngraver creates an engraver from pipeline configuration.
func NewMuseScoreEngraver(cfg *config.PipelineConfig) *MuseScoreEngraver {
	return &MuseScoreEngraver{
		bin:     cfg.Engraver,
		timeout: time.Duration(cfg.EngraverTimeout) * time.Second,
	}
}

func (e *MuseScoreEngraver) Render(ctx context.Context, midiPath, pdfPath string) error {
	if !e.IsConfigured() {
		return fmt.Errorf("engraver not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.bin, "-o", pdfPath, midiPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("score rendering failed: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("engraver exited cleanly but wrote no score: %w", err)
	}
	return nil
}

func (e *MuseScoreEngraver) IsConfigured() bool {
	return e.bin != ""
}
