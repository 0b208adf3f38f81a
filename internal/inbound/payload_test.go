package inbound_test

import (
	"errors"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/inbound"
)

var _ = Describe("Parse", func() {
	It("flattens nested JSON into bracket keys", func() {
		body := []byte(`{"message":{"add":[{"text":"Hola","lead_id":501,"author":{"type":"contact"}}]},"ok":true}`)

		p, err := inbound.Parse("application/json; charset=utf-8", body, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(HaveKeyWithValue("message[add][0][text]", "Hola"))
		Expect(p).To(HaveKeyWithValue("message[add][0][lead_id]", "501"))
		Expect(p).To(HaveKeyWithValue("message[add][0][author][type]", "contact"))
		Expect(p).To(HaveKeyWithValue("ok", "true"))
	})

	It("keeps large numeric ids intact", func() {
		p, err := inbound.Parse("application/json", []byte(`{"lead_id": 12345678901234}`), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(p["lead_id"]).To(Equal("12345678901234"))
	})

	It("keeps literal bracketed keys for form bodies", func() {
		form := url.Values{}
		form.Set("leads[status][0][id]", "77")
		form.Set("message[add][0][text]", "Buenas")

		p, err := inbound.Parse("application/x-www-form-urlencoded", []byte(form.Encode()), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(HaveKeyWithValue("leads[status][0][id]", "77"))
		Expect(p).To(HaveKeyWithValue("message[add][0][text]", "Buenas"))
	})

	It("sniffs JSON when the content type is missing", func() {
		p, err := inbound.Parse("", []byte(`{"text":"hi"}`), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(HaveKeyWithValue("text", "hi"))
	})

	It("fills absent keys from the query string but never the secret", func() {
		q := url.Values{"lead_id": {"9"}, "text": {"from query"}, "secret": {"s3cr3t"}}

		p, err := inbound.Parse("application/json", []byte(`{"text":"from body"}`), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(p["text"]).To(Equal("from body"))
		Expect(p["lead_id"]).To(Equal("9"))
		Expect(p).NotTo(HaveKey("secret"))
	})

	It("accepts an empty body", func() {
		p, err := inbound.Parse("application/json", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeEmpty())
	})

	It("rejects malformed JSON", func() {
		_, err := inbound.Parse("application/json", []byte(`{"text":`), nil)
		Expect(errors.Is(err, inbound.ErrMalformedBody)).To(BeTrue())
	})
})
