package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/service"
	"github.com/audioscribe/api/internal/session"
	"github.com/audioscribe/api/pkg/response"
)

type ConvertHandler struct {
	service      *service.ConvertService
	validator    *validator.Validate
	pollInterval time.Duration
}

func NewConvertHandler(svc *service.ConvertService, v *validator.Validate, pollInterval time.Duration) *ConvertHandler {
	return &ConvertHandler{
		service:      svc,
		validator:    v,
		pollInterval: pollInterval,
	}
}

// Convert handles POST /convert: multipart body with an "audio" file and a
// "format" field. Returns the session id as soon as the job is scheduled.
func (h *ConvertHandler) Convert(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return response.BadRequest(c, "No file uploaded")
	}

	req := model.ConvertRequest{Format: model.Format(c.FormValue("format"))}
	if req.Format == "" {
		req.Format = model.FormatMIDI
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.BadRequest(c, "Invalid format, expected one of: midi, pdf, both")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open uploaded file")
	}
	defer f.Close()

	result, err := h.service.StartConversion(c.Context(), fileHeader.Filename, f, req.Format)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Progress handles GET /progress/:sessionId as a server-sent event stream:
// one snapshot per poll tick until the session reaches a terminal state or
// turns out not to exist.
func (h *ConvertHandler) Progress(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	interval := h.pollInterval
	svc := h.service

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The stream outlives the request context; snapshots are pure
		// store reads, so a background context is safe here.
		ctx := context.Background()
		for {
			sess, err := svc.Snapshot(ctx, sessionID)
			if err != nil {
				writeEvent(w, response.ErrorResponse{Error: "Session not found"})
				return
			}

			if !writeEvent(w, sess.Snapshot()) {
				return // client went away
			}
			if sess.Status.Terminal() {
				return
			}
			time.Sleep(interval)
		}
	}))

	return nil
}

// Download handles GET /download/:sessionId. The first successful call
// consumes the session; everything after that is a 404.
func (h *ConvertHandler) Download(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	artifact, err := h.service.Retrieve(c.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return response.NotFound(c, "Session not found or not completed")
	}
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, artifact.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", artifact.Name))
	return c.Send(artifact.Data)
}

// writeEvent emits one SSE data frame. A flush failure means the client
// disconnected.
func writeEvent(w *bufio.Writer, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	return w.Flush() == nil
}
