package kommo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultChunkSize = 1200
	MinChunkSize     = 600
)

type noteParams struct {
	Text string `json:"text"`
}

type note struct {
	EntityID int64      `json:"entity_id,omitempty"`
	NoteType string     `json:"note_type"`
	Params   noteParams `json:"params"`
}

// AddLeadNote posts a common note on a lead. The text is tagged with
// AuditPrefix: the latest-message lookup must never read the bridge's own
// notes back as a customer message.
func (c *Client) AddLeadNote(ctx context.Context, leadID int64, text string) error {
	if leadID <= 0 {
		return fmt.Errorf("add lead note: invalid lead id %d", leadID)
	}
	u, err := c.apiURL("leads/notes")
	if err != nil {
		return err
	}
	body := []note{{EntityID: leadID, NoteType: "common", Params: noteParams{Text: tagNote(text)}}}
	_, err = c.do(ctx, "add_lead_note", http.MethodPost, u, c.accessToken, body, nil)
	return err
}

type TranscriptInput struct {
	LeadID     int64
	Title      string
	Transcript string
	ChunkSize  int
}

type TranscriptResult struct {
	Chunks         int `json:"chunks"`
	FinalChunkSize int `json:"final_chunk_size"`
}

// AttachTranscript writes a header note and then the transcript in chunks.
// A 413 shrinks the chunk by a third down to MinChunkSize and retries the
// same offset; any other failure aborts.
func (c *Client) AttachTranscript(ctx context.Context, in TranscriptInput) (*TranscriptResult, error) {
	text := []rune(strings.TrimSpace(in.Transcript))
	if in.LeadID <= 0 || len(text) == 0 {
		return nil, errors.New("lead_id and transcript required")
	}

	chunk := in.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	header := AuditPrefix + " Conversación completa"
	if in.Title != "" {
		header += " - " + in.Title
	}
	header += "\nFecha: " + time.Now().UTC().Format(time.RFC3339)
	if err := c.AddLeadNote(ctx, in.LeadID, header); err != nil {
		return nil, fmt.Errorf("transcript header: %w", err)
	}

	sent := 0
	for offset := 0; offset < len(text); {
		end := min(offset+chunk, len(text))
		err := c.AddLeadNote(ctx, in.LeadID, string(text[offset:end]))
		if err != nil {
			if IsStatus(err, http.StatusRequestEntityTooLarge) && chunk > MinChunkSize {
				chunk = max(MinChunkSize, chunk*66/100)
				slog.WarnContext(ctx, "transcript chunk too large, shrinking",
					"lead_id", in.LeadID,
					"offset", offset,
					"chunk_size", chunk)
				continue
			}
			return nil, fmt.Errorf("transcript chunk at %d: %w", offset, err)
		}
		sent++
		offset = end
		if offset < len(text) {
			if err := sleep(ctx, c.ChunkPause); err != nil {
				return nil, err
			}
		}
	}

	slog.InfoContext(ctx, "transcript attached",
		"lead_id", in.LeadID,
		"chunks", sent,
		"final_chunk_size", chunk)

	return &TranscriptResult{Chunks: sent, FinalChunkSize: chunk}, nil
}

type notesResponse struct {
	Embedded struct {
		Notes []struct {
			ID       int64  `json:"id"`
			NoteType string `json:"note_type"`
			Params   struct {
				Text string `json:"text"`
			} `json:"params"`
		} `json:"notes"`
	} `json:"_embedded"`
}

const (
	// BotMarkPrefix tags notes that carry the customer's message for the bridge.
	BotMarkPrefix = "[BOT-MARK]"
	// AuditPrefix tags the notes the bridge writes itself.
	AuditPrefix = "[BRIDGE]"
)

func tagNote(text string) string {
	if strings.HasPrefix(text, AuditPrefix) {
		return text
	}
	return AuditPrefix + " " + text
}

func (c *Client) recentLeadNoteText(ctx context.Context, leadID int64) (string, error) {
	q := url.Values{"order[id]": {"desc"}, "limit": {"10"}}
	u, err := c.apiURL(fmt.Sprintf("leads/%d/notes?%s", leadID, q.Encode()))
	if err != nil {
		return "", err
	}
	var out notesResponse
	found, err := c.do(ctx, "lead_notes", http.MethodGet, u, c.accessToken, nil, &out)
	if err != nil || !found {
		return "", err
	}
	for _, n := range out.Embedded.Notes {
		if t, ok := strings.CutPrefix(n.Params.Text, BotMarkPrefix); ok {
			if t = strings.TrimSpace(t); t != "" {
				return t, nil
			}
		}
	}
	for _, n := range out.Embedded.Notes {
		if n.NoteType != "common" || strings.HasPrefix(strings.TrimSpace(n.Params.Text), AuditPrefix) {
			continue
		}
		if t := strings.TrimSpace(n.Params.Text); t != "" {
			return t, nil
		}
	}
	return "", nil
}
