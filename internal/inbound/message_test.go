package inbound_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/inbound"
)

var _ = Describe("Extract", func() {
	DescribeTable("finds the message text",
		func(p inbound.Payload, expected string) {
			Expect(inbound.Extract(p).Text).To(Equal(expected))
		},
		Entry("direct field", inbound.Payload{"text": "Hola"}, "Hola"),
		Entry("trims whitespace", inbound.Payload{"text": "  Hola \n"}, "Hola"),
		Entry("chat webhook", inbound.Payload{"message[add][0][text]": "Quiero cotizar"}, "Quiero cotizar"),
		Entry("salesbot widget data", inbound.Payload{"data[message]": "Precio?"}, "Precio?"),
		Entry("amoJo payload", inbound.Payload{"message[message][text]": "hello"}, "hello"),
		Entry("direct wins over channel specific",
			inbound.Payload{"text": "first", "message[add][0][text]": "second"}, "first"),
		Entry("placeholder is skipped for the next rule",
			inbound.Payload{"text": "{{message_text}}", "data[message]": "real"}, "real"),
		Entry("placeholder with spaces is absent",
			inbound.Payload{"text": " {{ lead.cf.123 }} "}, ""),
		Entry("loose scan as last resort",
			inbound.Payload{"custom[user_text]": "loose"}, "loose"),
		Entry("nothing usable", inbound.Payload{"foo": "bar"}, ""),
	)

	DescribeTable("finds the lead id",
		func(p inbound.Payload, expected string) {
			Expect(inbound.Extract(p).LeadID).To(Equal(expected))
		},
		Entry("direct", inbound.Payload{"lead_id": "501"}, "501"),
		Entry("status hook", inbound.Payload{"leads[status][0][id]": "42"}, "42"),
		Entry("chat entity", inbound.Payload{"message[add][0][entity_id]": "7", "message[add][0][entity_type]": "lead"}, "7"),
		Entry("contact entity is not a lead", inbound.Payload{"message[add][0][entity_id]": "7", "message[add][0][entity_type]": "contact"}, ""),
		Entry("loose suffix", inbound.Payload{"extra[parent_lead_id]": "88"}, "88"),
		Entry("rejects zero", inbound.Payload{"lead_id": "0"}, ""),
		Entry("rejects non numeric", inbound.Payload{"lead_id": "{{lead.id}}"}, ""),
	)

	It("extracts the full canonical message", func() {
		msg := inbound.Extract(inbound.Payload{
			"message[add][0][text]":         "Hola",
			"message[add][0][id]":           "m-1",
			"message[add][0][chat_id]":      "chat-9",
			"message[add][0][contact_id]":   "33",
			"message[add][0][lead_id]":      "501",
			"message[add][0][type]":         "Incoming",
			"message[add][0][author][type]": "Contact",
		})

		Expect(msg).To(Equal(inbound.Message{
			LeadID:     "501",
			ContactID:  "33",
			ChatID:     "chat-9",
			MessageID:  "m-1",
			Text:       "Hola",
			AuthorType: "contact",
			Direction:  "incoming",
		}))
	})

	It("extracts salesbot widget fields", func() {
		msg := inbound.Extract(inbound.Payload{
			"return_url":        "https://sub.kommo.com/api/v4/salesbot/1/continue/2",
			"token":             "jwt",
			"data[lead_id]":     "501",
			"data[message]":     "Hola",
			"data[bot_id]":      "1",
			"data[continue_id]": "2",
		})

		Expect(msg.IsWidgetRequest()).To(BeTrue())
		Expect(msg.CanContinueSalesbot()).To(BeTrue())
		Expect(msg.WidgetToken).To(Equal("jwt"))
		Expect(msg.LeadIDInt()).To(BeEquivalentTo(501))
	})
})

var _ = Describe("IsPlaceholder", func() {
	It("matches unrendered templates only", func() {
		Expect(inbound.IsPlaceholder("{{message_text}}")).To(BeTrue())
		Expect(inbound.IsPlaceholder("  {{x}} ")).To(BeTrue())
		Expect(inbound.IsPlaceholder("hola {{x}}")).To(BeFalse())
		Expect(inbound.IsPlaceholder("{x}")).To(BeFalse())
	})
})
