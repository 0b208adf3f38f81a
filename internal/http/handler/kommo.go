package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/http/dto"
	"agenthub.app/bridge/internal/kommo"
	"agenthub.app/bridge/internal/store"
)

const (
	ActionUpsert           = "upsert"
	ActionAddNote          = "add-note"
	ActionAttachTranscript = "attach-transcript"
)

// transcriptLimit caps how many stored entries a fallback transcript carries.
const transcriptLimit = 500

// KommoActions is the part of the Kommo client the action endpoints drive.
type KommoActions interface {
	UpsertLead(ctx context.Context, in kommo.LeadInput) (*kommo.UpsertResult, error)
	AddLeadNote(ctx context.Context, leadID int64, text string) error
	AttachTranscript(ctx context.Context, in kommo.TranscriptInput) (*kommo.TranscriptResult, error)
}

type KommoHandler struct {
	kommo       KommoActions
	transcripts store.TranscriptStore
	chunkSize   int
}

func NewKommoHandler(k KommoActions, transcripts store.TranscriptStore, chunkSize int) *KommoHandler {
	return &KommoHandler{kommo: k, transcripts: transcripts, chunkSize: chunkSize}
}

// Action dispatches on the "action" field of the body, or the query
// parameter of the same name.
func (h *KommoHandler) Action(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = c.Query("action")
	}

	switch action {
	case ActionUpsert:
		h.upsert(c, req)
	case ActionAddNote:
		h.addNote(c, req)
	case ActionAttachTranscript:
		h.attachTranscript(c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown_action"})
	}
}

func (h *KommoHandler) Upsert(c *gin.Context) {
	if req, ok := h.bind(c); ok {
		h.upsert(c, req)
	}
}

func (h *KommoHandler) AddNote(c *gin.Context) {
	if req, ok := h.bind(c); ok {
		h.addNote(c, req)
	}
}

func (h *KommoHandler) AttachTranscript(c *gin.Context) {
	if req, ok := h.bind(c); ok {
		h.attachTranscript(c, req)
	}
}

func (h *KommoHandler) bind(c *gin.Context) (*dto.KommoActionRequest, bool) {
	ctx := c.Request.Context()

	var req dto.KommoActionRequest
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read request body"})
		return nil, false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return &req, true
	}
	if err := json.Unmarshal(body, &req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return nil, false
	}
	return &req, true
}

func (h *KommoHandler) upsert(c *gin.Context, req *dto.KommoActionRequest) {
	ctx := c.Request.Context()

	res, err := h.kommo.UpsertLead(ctx, req.LeadInput)
	if err != nil {
		h.fail(c, "upsert", err)
		return
	}

	slog.InfoContext(ctx, "lead upserted", "lead_id", res.LeadID, "contact_id", res.ContactID)
	c.JSON(http.StatusOK, dto.UpsertLeadResponse{OK: true, LeadID: res.LeadID, ContactID: res.ContactID})
}

func (h *KommoHandler) addNote(c *gin.Context, req *dto.KommoActionRequest) {
	ctx := c.Request.Context()

	leadID := parseLeadID(req.LeadID)
	text := strings.TrimSpace(req.Text)
	if leadID <= 0 || text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "lead_id and text required"})
		return
	}

	if err := h.kommo.AddLeadNote(ctx, leadID, text); err != nil {
		h.fail(c, "add_note", err)
		return
	}
	c.JSON(http.StatusOK, dto.AddNoteResponse{OK: true, LeadID: leadID})
}

func (h *KommoHandler) attachTranscript(c *gin.Context, req *dto.KommoActionRequest) {
	ctx := c.Request.Context()

	leadID := parseLeadID(req.LeadID)
	if leadID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "lead_id and transcript required"})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{LeadID: logger.Ptr(strconv.FormatInt(leadID, 10))})

	transcript := req.Transcript
	source := "request"
	if strings.TrimSpace(transcript) == "" && h.transcripts != nil {
		entries, err := h.transcripts.ForLead(ctx, leadID, transcriptLimit)
		if err != nil {
			h.fail(c, "load_transcript", err)
			return
		}
		transcript = store.Format(entries)
		source = h.transcripts.Backend()
	}
	if strings.TrimSpace(transcript) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "lead_id and transcript required"})
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = h.chunkSize
	}

	res, err := h.kommo.AttachTranscript(ctx, kommo.TranscriptInput{
		LeadID:     leadID,
		Title:      req.Title,
		Transcript: transcript,
		ChunkSize:  chunkSize,
	})
	if err != nil {
		h.fail(c, "attach_transcript", err)
		return
	}

	slog.InfoContext(ctx, "transcript attached", "chunks", res.Chunks, "source", source)
	c.JSON(http.StatusOK, dto.AttachTranscriptResponse{
		OK:             true,
		Chunks:         res.Chunks,
		FinalChunkSize: res.FinalChunkSize,
		Source:         source,
	})
}

func (h *KommoHandler) fail(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()

	status := http.StatusBadGateway
	if errors.Is(err, kommo.ErrNotConfigured) {
		status = http.StatusServiceUnavailable
	}
	slog.ErrorContext(ctx, "kommo action failed", "action", op, "error", err)
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func parseLeadID(n json.Number) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(n.String()), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
