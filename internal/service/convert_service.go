package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/session"
)

// Dispatcher schedules a conversion job for background execution. There is
// no return channel: completion is only observable through the session store.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.ConversionJob) error
}

// ErrArtifactMissing means the session completed but the expected output
// file is not in its output directory.
var ErrArtifactMissing = fmt.Errorf("artifact missing from output directory")

// Artifact is a fully-read output ready to send to the client.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// ConvertService owns session submission, snapshots, and the one-shot
// result retrieval handshake.
type ConvertService struct {
	store      session.Store
	dispatcher Dispatcher
	scratchDir string
}

// NewConvertService creates a new conversion service.
func NewConvertService(store session.Store, dispatcher Dispatcher, scratchDir string) *ConvertService {
	return &ConvertService{
		store:      store,
		dispatcher: dispatcher,
		scratchDir: scratchDir,
	}
}

// StartConversion persists the upload to scratch storage, creates the
// session record, and hands the job to the dispatcher. It returns as soon
// as the job is scheduled; it never waits on the conversion itself.
func (s *ConvertService) StartConversion(ctx context.Context, filename string, audio io.Reader, format model.Format) (*model.ConvertResponse, error) {
	sessionID := uuid.New().String()

	inputDir := filepath.Join(s.scratchDir, "inputs")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}
	outputDir := filepath.Join(s.scratchDir, "outputs", sessionID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".wav"
	}
	inputPath := filepath.Join(inputDir, sessionID+ext)
	if err := saveUpload(inputPath, audio); err != nil {
		os.RemoveAll(outputDir)
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	sess := model.Session{
		ID:               sessionID,
		Total:            100,
		OutputDir:        outputDir,
		Format:           format,
		OriginalFilename: filename,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		os.Remove(inputPath)
		os.RemoveAll(outputDir)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	job := &model.ConversionJob{
		SessionID:        sessionID,
		InputPath:        inputPath,
		OutputDir:        outputDir,
		Format:           format,
		OriginalFilename: filename,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.store.Remove(ctx, sessionID)
		os.Remove(inputPath)
		os.RemoveAll(outputDir)
		return nil, fmt.Errorf("failed to schedule conversion: %w", err)
	}

	log.Printf("Session %s: conversion scheduled (%s, format=%s)", sessionID, filename, format)
	return &model.ConvertResponse{
		SessionID: sessionID,
		Status:    "processing_started",
	}, nil
}

// Snapshot returns a point-in-time view of the session.
func (s *ConvertService) Snapshot(ctx context.Context, sessionID string) (model.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Retrieve consumes a completed session: it atomically claims the record,
// reads the artifact fully into memory, and deletes the output directory.
// The first successful call wins; later or concurrent calls see ErrNotFound.
func (s *ConvertService) Retrieve(ctx context.Context, sessionID string) (*Artifact, error) {
	sess, err := s.store.Take(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// The session is consumed from here on; the scratch directory goes away
	// no matter how artifact packaging fares.
	defer os.RemoveAll(sess.OutputDir)

	art, err := packageArtifact(&sess)
	if err != nil {
		return nil, err
	}
	log.Printf("Session %s: artifact %s retrieved, session cleaned up", sessionID, art.Name)
	return art, nil
}

// ArtifactBaseName derives the artifact file stem from the client-supplied
// filename, falling back to "conversion" when there is nothing usable.
func ArtifactBaseName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSpace(base)
	if base == "" || base == "." {
		return "conversion"
	}
	return base
}

func packageArtifact(sess *model.Session) (*Artifact, error) {
	base := ArtifactBaseName(sess.OriginalFilename)
	midiPath := filepath.Join(sess.OutputDir, base+".mid")
	pdfPath := filepath.Join(sess.OutputDir, base+".pdf")

	switch sess.Format {
	case model.FormatMIDI:
		data, err := os.ReadFile(midiPath)
		if err != nil {
			return nil, ErrArtifactMissing
		}
		return &Artifact{Name: base + ".mid", ContentType: "audio/midi", Data: data}, nil

	case model.FormatPDF:
		data, err := os.ReadFile(pdfPath)
		if err != nil {
			return nil, ErrArtifactMissing
		}
		return &Artifact{Name: base + ".pdf", ContentType: "application/pdf", Data: data}, nil

	case model.FormatBoth:
		data, err := zipFiles([]zipEntry{
			{name: base + ".mid", path: midiPath},
			{name: base + ".pdf", path: pdfPath},
		})
		if err != nil {
			return nil, ErrArtifactMissing
		}
		return &Artifact{Name: base + ".zip", ContentType: "application/zip", Data: data}, nil

	default:
		return nil, fmt.Errorf("unknown format %q", sess.Format)
	}
}

type zipEntry struct {
	name string
	path string
}

// zipFiles bundles the named files into an in-memory archive.
func zipFiles(files []zipEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, entry := range files {
		data, err := os.ReadFile(entry.path)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
