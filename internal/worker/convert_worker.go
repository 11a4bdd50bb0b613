package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/audioscribe/api/internal/client"
	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/score"
	"github.com/audioscribe/api/internal/service"
)

// Transcription gets the 40–85 slice of the progress budget, divided
// proportionally across the stems.
const (
	progressWorkspace    = 5
	progressSeparating   = 10
	progressTranscribing = 40
	progressAssembling   = 85
	progressRendering    = 90
	progressFinalizing   = 95
)

// ConvertWorker executes the conversion pipeline end-to-end for one
// session: separation, per-stem transcription, score assembly, and
// rendering. It is the sole writer of session progress, and every pipeline
// failure is caught at its boundary and recorded as the session's terminal
// error state — nothing escapes to a caller, because by the time the worker
// runs the submitting request has already returned.
type ConvertWorker struct {
	reporter    *Reporter
	separator   client.Separator
	transcriber client.Transcriber
	engraver    client.Engraver
	storage     client.StorageClient
}

// NewConvertWorker creates a worker. storage may be nil to disable the
// artifact mirror.
func NewConvertWorker(reporter *Reporter, separator client.Separator, transcriber client.Transcriber, engraver client.Engraver, storage client.StorageClient) *ConvertWorker {
	return &ConvertWorker{
		reporter:    reporter,
		separator:   separator,
		transcriber: transcriber,
		engraver:    engraver,
		storage:     storage,
	}
}

// ProcessTask handles a queued conversion task (asynq mode). Pipeline
// failures end up in session state, not in the returned error, so the queue
// never retries them.
func (w *ConvertWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.ConversionJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal conversion task: %w", err)
	}
	w.Run(ctx, &job)
	return nil
}

// Run executes the pipeline for one job. It never panics out and never
// returns an error: the session ends in exactly one of the two terminal
// states.
func (w *ConvertWorker) Run(ctx context.Context, job *model.ConversionJob) {
	log.Printf("Session %s: starting conversion of %s", job.SessionID, job.OriginalFilename)
	defer os.Remove(job.InputPath)

	if err := w.convert(ctx, job); err != nil {
		log.Printf("Session %s: conversion failed: %v", job.SessionID, err)
		w.reporter.Fail(ctx, job.SessionID, err.Error())
		return
	}

	w.reporter.Complete(ctx, job.SessionID)
	log.Printf("Session %s: conversion completed", job.SessionID)
}

func (w *ConvertWorker) convert(ctx context.Context, job *model.ConversionJob) error {
	w.reporter.Update(ctx, job.SessionID, progressWorkspace, "Preparing workspace")
	stemDir := filepath.Join(job.OutputDir, "stems")
	if err := os.MkdirAll(stemDir, 0o755); err != nil {
		return fmt.Errorf("failed to create stem directory: %w", err)
	}

	w.reporter.Update(ctx, job.SessionID, progressSeparating, "Separating stems")
	stems, err := w.separator.Separate(ctx, job.InputPath, stemDir)
	if err != nil {
		return err
	}

	seqs := make([]model.NoteSequence, 0, len(stems))
	budget := progressAssembling - progressTranscribing
	for i, stem := range stems {
		progress := progressTranscribing + budget*i/len(stems)
		w.reporter.Update(ctx, job.SessionID, progress, fmt.Sprintf("Transcribing %s", stem.Name))

		seq, err := w.transcriber.Transcribe(ctx, stem.Path, model.ParamsForInstrument(stem.Name))
		if err != nil {
			return err
		}
		seqs = append(seqs, seq)
	}

	w.reporter.Update(ctx, job.SessionID, progressAssembling, "Assembling score")
	base := service.ArtifactBaseName(job.OriginalFilename)
	midiPath := filepath.Join(job.OutputDir, base+".mid")
	if err := score.WriteSMF(midiPath, seqs); err != nil {
		return err
	}

	if job.Format == model.FormatPDF || job.Format == model.FormatBoth {
		w.reporter.Update(ctx, job.SessionID, progressRendering, "Rendering score")
		pdfPath := filepath.Join(job.OutputDir, base+".pdf")
		if err := w.engraver.Render(ctx, midiPath, pdfPath); err != nil {
			return err
		}
	}

	w.reporter.Update(ctx, job.SessionID, progressFinalizing, "Finalizing")
	os.RemoveAll(stemDir) // intermediates are not part of the artifact
	w.mirrorArtifacts(ctx, job, base)
	return nil
}

// mirrorArtifacts uploads the finished artifact(s) to object storage when a
// storage client is configured. Best-effort: the local artifact under
// output_dir stays authoritative for retrieval.
func (w *ConvertWorker) mirrorArtifacts(ctx context.Context, job *model.ConversionJob, base string) {
	if w.storage == nil {
		return
	}

	names := []string{base + ".mid"}
	if job.Format == model.FormatPDF || job.Format == model.FormatBoth {
		names = append(names, base+".pdf")
	}

	for _, name := range names {
		path := filepath.Join(job.OutputDir, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("conversions/%s/%s", job.SessionID, name)
		if _, err := w.storage.Upload(ctx, key, f, contentTypeFor(name)); err != nil {
			log.Printf("Session %s: failed to mirror %s: %v", job.SessionID, name, err)
		}
		f.Close()
	}
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".mid":
		return "audio/midi"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
