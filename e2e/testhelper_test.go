package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/audioscribe/api/internal/client"
	"github.com/audioscribe/api/internal/handler"
	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/service"
	"github.com/audioscribe/api/internal/session"
	"github.com/audioscribe/api/internal/worker"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store session.Store

	separator   *stubSeparator
	transcriber *stubTranscriber
	engraver    *stubEngraver
}

// stubSeparator stands in for the spleeter subprocess: it writes stub stem
// files instead of shelling out.
type stubSeparator struct {
	stems []string
	err   error
}

func (s *stubSeparator) Separate(_ context.Context, _ string, outDir string) ([]client.Stem, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []client.Stem
	for _, name := range s.stems {
		path := filepath.Join(outDir, name+".wav")
		if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, client.Stem{Name: name, Path: path})
	}
	return out, nil
}

func (s *stubSeparator) IsConfigured() bool { return true }

type stubTranscriber struct {
	err error
}

func (s *stubTranscriber) Transcribe(_ context.Context, wavPath string, _ model.TranscriptionParams) (model.NoteSequence, error) {
	name := filepath.Base(wavPath)
	name = name[:len(name)-len(filepath.Ext(name))]
	if s.err != nil {
		return model.NoteSequence{Instrument: name}, s.err
	}
	return model.NoteSequence{
		Instrument: name,
		Notes:      []model.Note{{Start: 0, End: 0.5, Pitch: 60, Velocity: 80}},
	}, nil
}

func (s *stubTranscriber) IsConfigured() bool { return true }

type stubEngraver struct {
	err error
}

func (e *stubEngraver) Render(_ context.Context, _ string, pdfPath string) error {
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644)
}

func (e *stubEngraver) IsConfigured() bool { return true }

// setupApp creates a Fiber app wired like main.go's in-memory mode, with the
// external pipeline tools replaced by fast in-process stubs.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	validate := validator.New()
	store := session.NewMemoryStore()

	ta := &testApp{
		store:       store,
		separator:   &stubSeparator{stems: []string{"vocals", "piano", "drums", "bass", "other"}},
		transcriber: &stubTranscriber{},
		engraver:    &stubEngraver{},
	}

	reporter := worker.NewReporter(store, nil)
	convertWorker := worker.NewConvertWorker(reporter, ta.separator, ta.transcriber, ta.engraver, nil)
	dispatcher := worker.NewGoDispatcher(convertWorker)

	convertService := service.NewConvertService(store, dispatcher, t.TempDir())
	convertHandler := handler.NewConvertHandler(convertService, validate, 10*time.Millisecond)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"separator":   ta.separator.IsConfigured(),
				"transcriber": ta.transcriber.IsConfigured(),
				"engraver":    ta.engraver.IsConfigured(),
				"redis":       false,
				"r2":          false,
			},
		})
	})

	app.Post("/convert", convertHandler.Convert)
	app.Get("/progress/:sessionId", convertHandler.Progress)
	app.Get("/download/:sessionId", convertHandler.Download)

	ta.app = app
	return ta
}

// uploadRequest builds a multipart POST /convert with an "audio" file part
// and an optional "format" field.
func uploadRequest(t *testing.T, filename, format string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte("RIFF-fake-audio")); err != nil {
			t.Fatal(err)
		}
	}
	if format != "" {
		if err := mw.WriteField("format", format); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, "/convert", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// submitConversion POSTs an upload and returns the new session id.
func submitConversion(t *testing.T, ta *testApp, format string) string {
	t.Helper()

	resp, err := ta.app.Test(uploadRequest(t, "song.wav", format), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatalf("no session_id in response: %v", body)
	}
	if body["status"] != "processing_started" {
		t.Errorf("expected status 'processing_started', got %v", body["status"])
	}
	return id
}

// waitForTerminal polls the session store until the background conversion
// reaches a terminal state.
func waitForTerminal(t *testing.T, ta *testApp, sessionID string) model.Session {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		sess, err := ta.store.Get(context.Background(), sessionID)
		if err == nil && sess.Status.Terminal() {
			return sess
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached a terminal state", sessionID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		return nil, err
	}
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseSSE splits an event-stream body into one JSON map per data frame.
func parseSSE(t *testing.T, body string) []map[string]interface{} {
	t.Helper()

	var events []map[string]interface{}
	for _, frame := range bytes.Split([]byte(body), []byte("\n\n")) {
		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}
		data := bytes.TrimPrefix(frame, []byte("data: "))
		var event map[string]interface{}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("bad SSE frame %q: %v", frame, err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		t.Fatalf("no SSE events in body: %q", body)
	}
	return events
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
