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

type Contact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Lead struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type fieldValue struct {
	Value    any    `json:"value"`
	EnumCode string `json:"enum_code,omitempty"`
}

type customField struct {
	FieldCode string       `json:"field_code"`
	Values    []fieldValue `json:"values"`
}

type tag struct {
	Name string `json:"name"`
}

type contactsResponse struct {
	Embedded struct {
		Contacts []Contact `json:"contacts"`
	} `json:"_embedded"`
}

type leadsResponse struct {
	Embedded struct {
		Leads []Lead `json:"leads"`
	} `json:"_embedded"`
}

// FindContact runs Kommo's free-text contact search and returns the first
// hit, or nil when nothing matches.
func (c *Client) FindContact(ctx context.Context, query string) (*Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := url.Values{"query": {query}, "with": {"leads"}, "limit": {"1"}}
	u, err := c.apiURL("contacts?" + q.Encode())
	if err != nil {
		return nil, err
	}
	var out contactsResponse
	found, err := c.do(ctx, "find_contact", http.MethodGet, u, c.accessToken, nil, &out)
	if err != nil {
		return nil, err
	}
	if !found || len(out.Embedded.Contacts) == 0 {
		return nil, nil
	}
	return &out.Embedded.Contacts[0], nil
}

type ContactInput struct {
	Name  string
	Email string
	Phone string
}

func (c *Client) CreateContact(ctx context.Context, in ContactInput) (*Contact, error) {
	var fields []customField
	if in.Email != "" {
		fields = append(fields, customField{FieldCode: "EMAIL", Values: []fieldValue{{Value: in.Email, EnumCode: "WORK"}}})
	}
	if in.Phone != "" {
		fields = append(fields, customField{FieldCode: "PHONE", Values: []fieldValue{{Value: in.Phone, EnumCode: "WORK"}}})
	}
	name := firstNonEmpty(in.Name, in.Email, in.Phone, "Contacto")

	body := []struct {
		Name         string        `json:"name"`
		CustomFields []customField `json:"custom_fields_values,omitempty"`
	}{{Name: name, CustomFields: fields}}

	u, err := c.apiURL("contacts")
	if err != nil {
		return nil, err
	}
	var out contactsResponse
	if _, err := c.do(ctx, "create_contact", http.MethodPost, u, c.accessToken, body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedded.Contacts) == 0 || out.Embedded.Contacts[0].ID == 0 {
		return nil, errors.New("kommo create_contact: no contact in response")
	}
	return &out.Embedded.Contacts[0], nil
}

// UpsertContact looks the contact up by email, then phone, then name, and
// creates it when none of them match.
func (c *Client) UpsertContact(ctx context.Context, in ContactInput) (*Contact, error) {
	for _, q := range []string{in.Email, in.Phone, in.Name} {
		if q == "" {
			continue
		}
		found, err := c.FindContact(ctx, q)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return c.CreateContact(ctx, in)
}

type LeadInput struct {
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Price        *int64         `json:"price"`
	PipelineID   int64          `json:"pipeline_id"`
	StatusID     int64          `json:"status_id"`
	Tags         []string       `json:"tags"`
	Source       string         `json:"source"`
	Notes        string         `json:"notes"`
	CustomFields map[string]any `json:"custom_fields"`
}

type leadBody struct {
	Name         string        `json:"name"`
	Price        *int64        `json:"price,omitempty"`
	PipelineID   int64         `json:"pipeline_id,omitempty"`
	StatusID     int64         `json:"status_id,omitempty"`
	Tags         []tag         `json:"tags,omitempty"`
	CustomFields []customField `json:"custom_fields_values,omitempty"`
	Embedded     *leadLinks    `json:"_embedded,omitempty"`
}

type entityRef struct {
	ID int64 `json:"id"`
}

type leadLinks struct {
	Contacts []entityRef `json:"contacts"`
}

// CreateLead creates a lead linked to contactID (when non-zero) and writes a
// source note when the input names one.
func (c *Client) CreateLead(ctx context.Context, in LeadInput, contactID int64) (*Lead, error) {
	lb := leadBody{
		Name:       firstNonEmpty(in.Name, "Nuevo lead"),
		Price:      in.Price,
		PipelineID: in.PipelineID,
		StatusID:   in.StatusID,
	}
	for _, t := range in.Tags {
		lb.Tags = append(lb.Tags, tag{Name: t})
	}
	for code, v := range in.CustomFields {
		lb.CustomFields = append(lb.CustomFields, customField{FieldCode: code, Values: []fieldValue{{Value: v}}})
	}
	if contactID > 0 {
		lb.Embedded = &leadLinks{Contacts: []entityRef{{ID: contactID}}}
	}

	u, err := c.apiURL("leads")
	if err != nil {
		return nil, err
	}
	var out leadsResponse
	if _, err := c.do(ctx, "create_lead", http.MethodPost, u, c.accessToken, []leadBody{lb}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedded.Leads) == 0 || out.Embedded.Leads[0].ID == 0 {
		return nil, errors.New("kommo create_lead: lead not created")
	}
	lead := &out.Embedded.Leads[0]

	if in.Source != "" {
		if err := c.AddLeadNote(ctx, lead.ID, "Origen: "+in.Source); err != nil {
			return nil, fmt.Errorf("source note: %w", err)
		}
	}
	return lead, nil
}

type UpsertResult struct {
	LeadID    int64 `json:"lead_id"`
	ContactID int64 `json:"contact_id,omitempty"`
}

// UpsertLead resolves the contact, creates the lead and attaches the free
// text notes.
func (c *Client) UpsertLead(ctx context.Context, in LeadInput) (*UpsertResult, error) {
	var contactID int64
	if in.Name != "" || in.Email != "" || in.Phone != "" {
		contact, err := c.UpsertContact(ctx, ContactInput{Name: in.Name, Email: in.Email, Phone: in.Phone})
		if err != nil {
			return nil, fmt.Errorf("upsert contact: %w", err)
		}
		contactID = contact.ID
	}

	lead, err := c.CreateLead(ctx, in, contactID)
	if err != nil {
		return nil, err
	}
	if in.Notes != "" {
		if err := c.AddLeadNote(ctx, lead.ID, in.Notes); err != nil {
			return nil, fmt.Errorf("lead notes: %w", err)
		}
	}

	slog.InfoContext(ctx, "lead upserted", "lead_id", lead.ID, "contact_id", contactID)
	return &UpsertResult{LeadID: lead.ID, ContactID: contactID}, nil
}

type leadWithMessage struct {
	LastMessage *struct {
		Text string `json:"text"`
	} `json:"last_message"`
	Embedded struct {
		LastMessage *struct {
			Text string `json:"text"`
		} `json:"last_message"`
	} `json:"_embedded"`
}

// LatestMessageForLead returns the lead's last message text, falling back to
// the most recent bot-marked or common note. Empty means nothing usable yet.
func (c *Client) LatestMessageForLead(ctx context.Context, leadID int64) (string, error) {
	if leadID <= 0 {
		return "", nil
	}
	u, err := c.apiURL(fmt.Sprintf("leads/%d?with=last_message", leadID))
	if err != nil {
		return "", err
	}

	var out leadWithMessage
	if _, err := c.do(ctx, "lead_last_message", http.MethodGet, u, c.accessToken, nil, &out); err != nil {
		slog.WarnContext(ctx, "lead last_message unavailable", "lead_id", leadID, "error", err)
	} else {
		if out.LastMessage != nil && strings.TrimSpace(out.LastMessage.Text) != "" {
			return strings.TrimSpace(out.LastMessage.Text), nil
		}
		if out.Embedded.LastMessage != nil && strings.TrimSpace(out.Embedded.LastMessage.Text) != "" {
			return strings.TrimSpace(out.Embedded.LastMessage.Text), nil
		}
	}

	return c.recentLeadNoteText(ctx, leadID)
}

// AwaitLatestMessage polls LatestMessageForLead until accept returns true for a
// text or the attempts run out. Kommo fires lead webhooks before the message
// is readable, hence the wait.
func (c *Client) AwaitLatestMessage(ctx context.Context, leadID int64, attempts int, interval time.Duration, accept func(string) bool) (string, error) {
	var lastErr error
	for i := range max(attempts, 1) {
		if i > 0 {
			if err := sleep(ctx, interval); err != nil {
				return "", err
			}
		}
		text, err := c.LatestMessageForLead(ctx, leadID)
		if err != nil {
			lastErr = err
			continue
		}
		if text != "" && (accept == nil || accept(text)) {
			return text, nil
		}
	}
	return "", lastErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
