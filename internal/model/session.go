package model

import "time"

// Session status
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further status transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Output formats
type Format string

const (
	FormatMIDI Format = "midi"
	FormatPDF  Format = "pdf"
	FormatBoth Format = "both"
)

var ValidFormats = []Format{FormatMIDI, FormatPDF, FormatBoth}

// Session represents one conversion request from submission to terminal
// state and cleanup. Progress counts from 0 to Total and never decreases;
// once Status is terminal the record is immutable except for removal.
type Session struct {
	ID               string    `json:"session_id"`
	Progress         int       `json:"progress"`
	Total            int       `json:"total"`
	CurrentStep      string    `json:"current_step"`
	Status           Status    `json:"status"`
	LastUpdated      time.Time `json:"last_updated"`
	OutputDir        string    `json:"output_dir"`
	Format           Format    `json:"format"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProgressSnapshot is the client-facing view of a session emitted on the
// progress stream. Filesystem locations stay server-side.
type ProgressSnapshot struct {
	Progress    int       `json:"progress"`
	Total       int       `json:"total"`
	CurrentStep string    `json:"current_step"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot returns the client-facing view of the session.
func (s Session) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Progress:    s.Progress,
		Total:       s.Total,
		CurrentStep: s.CurrentStep,
		Status:      s.Status,
		LastUpdated: s.LastUpdated,
	}
}

// ConversionJob is the unit of work handed to the background worker.
type ConversionJob struct {
	SessionID        string `json:"sessionId"`
	InputPath        string `json:"inputPath"`
	OutputDir        string `json:"outputDir"`
	Format           Format `json:"format"`
	OriginalFilename string `json:"originalFilename"`
}

// ConvertRequest is the form part of POST /convert
type ConvertRequest struct {
	Format Format `json:"format" validate:"required,oneof=midi pdf both"`
}

// ConvertResponse is returned immediately after a job is scheduled
type ConvertResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}
