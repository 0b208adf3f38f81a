package delivery_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/kommo"
)

var _ = Describe("Deliverer", func() {
	var (
		ctx   context.Context
		k     *mockKommo
		a     *mockAmojo
		errUp error
	)

	BeforeEach(func() {
		ctx = context.Background()
		k = newMockKommo()
		a = &mockAmojo{}
		errUp = errors.New("upstream down")
	})

	full := delivery.Target{
		LeadID:     501,
		ChatID:     "chat-1",
		BotID:      "bot-1",
		ContinueID: "c-9",
		ReturnURL:  "https://acme.kommo.com/return",
	}

	It("prefers the Salesbot continuation", func() {
		d := delivery.New(k, a, delivery.Config{SalesbotHandler: kommo.HandlerShow})

		r, err := d.Deliver(ctx, full, delivery.Outgoing{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Mechanism).To(Equal(delivery.MechanismSalesbot))
		Expect(k.ops()).To(Equal([]string{"continue"}))
		Expect(k.calls[0].Target).To(Equal("bot-1/c-9"))
		Expect(k.calls[0].Payload.Data).To(Equal(kommo.SalesbotData{Status: kommo.StatusSuccess, Reply: "hola"}))
	})

	It("falls through the chain when mechanisms fail", func() {
		k.fail["continue"] = errUp
		k.fail["return_url"] = errUp
		d := delivery.New(k, a, delivery.Config{})

		r, err := d.Deliver(ctx, full, delivery.Outgoing{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Mechanism).To(Equal(delivery.MechanismChat))
		Expect(r.Tried).To(Equal([]delivery.Mechanism{
			delivery.MechanismSalesbot, delivery.MechanismReturnURL, delivery.MechanismChat,
		}))
	})

	It("ends with a lead note", func() {
		k.fail["chat"] = errUp
		d := delivery.New(k, a, delivery.Config{})

		r, err := d.Deliver(ctx, delivery.Target{LeadID: 501, ChatID: "chat-1"}, delivery.Outgoing{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Mechanism).To(Equal(delivery.MechanismNote))
		Expect(k.ops()).To(Equal([]string{"chat", "note"}))
	})

	It("reports ErrDeliveryFailed when every mechanism fails", func() {
		k.fail["chat"] = errUp
		k.fail["note"] = errUp
		d := delivery.New(k, a, delivery.Config{})

		r, err := d.Deliver(ctx, delivery.Target{LeadID: 501, ChatID: "chat-1"}, delivery.Outgoing{Text: "hola"})
		Expect(errors.Is(err, delivery.ErrDeliveryFailed)).To(BeTrue())
		Expect(errors.Is(err, errUp)).To(BeTrue())
		Expect(r.Mechanism).To(BeEmpty())
	})

	It("reports ErrDeliveryFailed when nothing is reachable", func() {
		d := delivery.New(k, a, delivery.Config{})

		_, err := d.Deliver(ctx, delivery.Target{}, delivery.Outgoing{Text: "hola"})
		Expect(errors.Is(err, delivery.ErrDeliveryFailed)).To(BeTrue())
		Expect(k.calls).To(BeEmpty())
	})

	It("skips Kommo API mechanisms without credentials but still answers return_url", func() {
		k.configured = false
		d := delivery.New(k, a, delivery.Config{})

		r, err := d.Deliver(ctx, full, delivery.Outgoing{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Mechanism).To(Equal(delivery.MechanismReturnURL))
		Expect(k.ops()).To(Equal([]string{"return_url"}))
	})

	It("replies on the custom channel instead of the Kommo chat", func() {
		d := delivery.New(k, a, delivery.Config{})
		t := delivery.Target{ChatID: "conv-1", AmojoConversationID: "conv-1"}

		r, err := d.Deliver(ctx, t, delivery.Outgoing{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Mechanism).To(Equal(delivery.MechanismAmojo))
		Expect(a.sends).To(Equal([]string{"conv-1:hola"}))
		Expect(k.calls).To(BeEmpty())
	})

	It("marks failed turns in the Salesbot payload", func() {
		d := delivery.New(k, a, delivery.Config{SalesbotHandler: kommo.HandlerGoto})

		_, err := d.Deliver(ctx, full, delivery.Outgoing{Text: "un asesor te escribe", Failed: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(k.calls[0].Payload.Data.Status).To(Equal(kommo.StatusFail))
		Expect(k.calls[0].Payload.ExecuteHandlers[0].Handler).To(Equal(kommo.HandlerGoto))
	})

	It("mirrors the exchange onto the lead when auditing", func() {
		d := delivery.New(k, a, delivery.Config{AuditNotes: true})

		_, err := d.Deliver(ctx, delivery.Target{LeadID: 501, ChatID: "chat-1"}, delivery.Outgoing{Text: "hola", UserText: "precio?"})
		Expect(err).NotTo(HaveOccurred())
		Expect(k.ops()).To(Equal([]string{"chat", "note"}))
		Expect(k.calls[1].Text).To(Equal(kommo.AuditPrefix + "\nCliente: precio?\nAsistente: hola"))
	})

	It("refuses empty replies", func() {
		d := delivery.New(k, a, delivery.Config{})
		_, err := d.Deliver(ctx, full, delivery.Outgoing{Text: "  "})
		Expect(errors.Is(err, delivery.ErrDeliveryFailed)).To(BeTrue())
		Expect(k.calls).To(BeEmpty())
	})
})

var _ = Describe("TargetFor", func() {
	It("copies the reachable identities of the message", func() {
		t := delivery.TargetFor(inbound.Message{
			LeadID: "501", ChatID: "chat-1", BotID: "b", ContinueID: "c",
			ReturnURL: "https://x", WidgetToken: "w", Subdomain: "acme",
		})
		Expect(t).To(Equal(delivery.Target{
			LeadID: 501, ChatID: "chat-1", BotID: "b", ContinueID: "c",
			ReturnURL: "https://x", WidgetToken: "w", Subdomain: "acme",
		}))
	})
})
