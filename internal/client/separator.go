package client

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audioscribe/api/internal/config"
)

// Stem is one isolated instrument track produced by source separation.
type Stem struct {
	Name string
	Path string
}

// Separator defines the interface for the stem-separation engine
type Separator interface {
	Separate(ctx context.Context, inputPath, outDir string) ([]Stem, error)
	IsConfigured() bool
}

// SpleeterSeparator implements Separator by shelling out to the separation
// script (spleeter under the hood). The script writes one WAV per stem into
// the output directory.
type SpleeterSeparator struct {
	python  string
	script  string
	stems   int
	timeout time.Duration
}

// NewSpleeterSeparator creates a separator from pipeline configuration.
func NewSpleeterSeparator(cfg *config.PipelineConfig) *SpleeterSeparator {
	return &SpleeterSeparator{
		python:  cfg.Python,
		script:  cfg.SeparatorScript,
		stems:   cfg.Stems,
		timeout: time.Duration(cfg.SeparatorTimeout) * time.Second,
	}
}

func (s *SpleeterSeparator) Separate(ctx context.Context, inputPath, outDir string) ([]Stem, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("stem separator not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.python, s.script,
		inputPath,
		"--output", outDir,
		"--nb_stems", strconv.Itoa(s.stems),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("stem separation failed: %v | %s", err, strings.TrimSpace(stderr.String()))
	}

	return collectStems(outDir)
}

func (s *SpleeterSeparator) IsConfigured() bool {
	return s.python != "" && s.script != ""
}

// collectStems lists the WAV files the separation run produced.
func collectStems(dir string) ([]Stem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read stem directory: %w", err)
	}

	var stems []Stem
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		stems = append(stems, Stem{
			Name: name,
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("separation produced no stems in %s", dir)
	}
	return stems, nil
}
