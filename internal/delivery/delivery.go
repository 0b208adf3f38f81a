// Package delivery posts a reply back to wherever the conversation lives in
// Kommo, trying the available mechanisms in priority order.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/kommo"
)

var ErrDeliveryFailed = errors.New("reply could not be delivered")

type Mechanism string

const (
	MechanismSalesbot  Mechanism = "salesbot_continue"
	MechanismReturnURL Mechanism = "return_url"
	MechanismAmojo     Mechanism = "amojo_message"
	MechanismChat      Mechanism = "chat_message"
	MechanismNote      Mechanism = "lead_note"
)

// Kommo is the slice of the Kommo client delivery needs.
type Kommo interface {
	Configured() bool
	ContinueSalesbot(ctx context.Context, subdomain, botID, continueID string, payload kommo.SalesbotPayload) error
	PostReturnURL(ctx context.Context, returnURL, widgetToken string, payload kommo.SalesbotPayload) error
	SendChatMessage(ctx context.Context, chatID, text string) error
	AddLeadNote(ctx context.Context, leadID int64, text string) error
}

type Amojo interface {
	Configured() bool
	SendText(ctx context.Context, conversationID, receiverID, text string) error
}

// Target says where a conversation can be reached.
type Target struct {
	LeadID      int64
	ChatID      string
	Subdomain   string
	BotID       string
	ContinueID  string
	ReturnURL   string
	WidgetToken string

	// Chats API conversation, set for the custom channel only.
	AmojoConversationID string
	AmojoReceiverID     string
}

// TargetFor derives the delivery target of an inbound message.
func TargetFor(msg inbound.Message) Target {
	return Target{
		LeadID:      msg.LeadIDInt(),
		ChatID:      msg.ChatID,
		Subdomain:   msg.Subdomain,
		BotID:       msg.BotID,
		ContinueID:  msg.ContinueID,
		ReturnURL:   msg.ReturnURL,
		WidgetToken: msg.WidgetToken,
	}
}

// Outgoing is the reply plus what the audit note needs.
type Outgoing struct {
	Text     string
	UserText string
	Failed   bool
}

type Receipt struct {
	Mechanism Mechanism
	Tried     []Mechanism
}

type Config struct {
	SalesbotHandler string
	AuditNotes      bool
}

type Deliverer struct {
	kommo Kommo
	amojo Amojo
	cfg   Config
}

// New builds a Deliverer. amojo may be nil when no custom channel is set up.
func New(k Kommo, a Amojo, cfg Config) *Deliverer {
	return &Deliverer{kommo: k, amojo: a, cfg: cfg}
}

type attempt struct {
	mechanism Mechanism
	send      func(ctx context.Context) error
}

func (d *Deliverer) plan(t Target, out Outgoing) []attempt {
	status := kommo.StatusSuccess
	if out.Failed {
		status = kommo.StatusFail
	}
	payload := kommo.NewSalesbotPayload(d.cfg.SalesbotHandler, status, out.Text)
	kommoReady := d.kommo != nil && d.kommo.Configured()

	var plan []attempt
	if kommoReady && t.BotID != "" && t.ContinueID != "" {
		plan = append(plan, attempt{MechanismSalesbot, func(ctx context.Context) error {
			return d.kommo.ContinueSalesbot(ctx, t.Subdomain, t.BotID, t.ContinueID, payload)
		}})
	}
	if t.ReturnURL != "" && d.kommo != nil {
		plan = append(plan, attempt{MechanismReturnURL, func(ctx context.Context) error {
			return d.kommo.PostReturnURL(ctx, t.ReturnURL, t.WidgetToken, payload)
		}})
	}
	if t.AmojoConversationID != "" && d.amojo != nil && d.amojo.Configured() {
		plan = append(plan, attempt{MechanismAmojo, func(ctx context.Context) error {
			return d.amojo.SendText(ctx, t.AmojoConversationID, t.AmojoReceiverID, out.Text)
		}})
	}
	if kommoReady && t.ChatID != "" && t.AmojoConversationID == "" {
		plan = append(plan, attempt{MechanismChat, func(ctx context.Context) error {
			return d.kommo.SendChatMessage(ctx, t.ChatID, out.Text)
		}})
	}
	if kommoReady && t.LeadID > 0 {
		plan = append(plan, attempt{MechanismNote, func(ctx context.Context) error {
			return d.kommo.AddLeadNote(ctx, t.LeadID, out.Text)
		}})
	}
	return plan
}

// Deliver sends the reply with the first mechanism that succeeds. Each
// mechanism retries on its own; a failure falls through to the next one.
func (d *Deliverer) Deliver(ctx context.Context, t Target, out Outgoing) (*Receipt, error) {
	sc := logger.StartSpan(ctx, "delivery.deliver")
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{Component: "bridge.delivery"})

	if strings.TrimSpace(out.Text) == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrDeliveryFailed)
	}

	plan := d.plan(t, out)
	receipt := &Receipt{}
	var errs []error
	for _, a := range plan {
		receipt.Tried = append(receipt.Tried, a.mechanism)
		if err := a.send(ctx); err != nil {
			slog.WarnContext(ctx, "delivery mechanism failed, falling through",
				"mechanism", a.mechanism,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", a.mechanism, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		receipt.Mechanism = a.mechanism
		break
	}

	if receipt.Mechanism == "" {
		err := fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(errs...))
		if len(plan) == 0 {
			err = fmt.Errorf("%w: no delivery mechanism available", ErrDeliveryFailed)
		}
		sc.RecordError(err)
		slog.ErrorContext(ctx, "reply not delivered",
			"tried", receipt.Tried,
			"error", err)
		return receipt, err
	}

	sc.SetString("delivery.mechanism", string(receipt.Mechanism))
	slog.InfoContext(ctx, "reply delivered",
		"mechanism", receipt.Mechanism,
		"reply_len", len(out.Text))

	if d.cfg.AuditNotes && receipt.Mechanism != MechanismNote && t.LeadID > 0 && d.kommo != nil && d.kommo.Configured() {
		d.audit(ctx, t.LeadID, out)
	}
	return receipt, nil
}

func (d *Deliverer) audit(ctx context.Context, leadID int64, out Outgoing) {
	var b strings.Builder
	b.WriteString(kommo.AuditPrefix)
	if out.UserText != "" {
		b.WriteString("\nCliente: ")
		b.WriteString(out.UserText)
	}
	b.WriteString("\nAsistente: ")
	b.WriteString(out.Text)

	if err := d.kommo.AddLeadNote(ctx, leadID, b.String()); err != nil {
		slog.WarnContext(ctx, "audit note failed", "lead_id", leadID, "error", err)
	}
}
