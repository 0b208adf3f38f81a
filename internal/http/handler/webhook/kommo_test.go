package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/http/handler/webhook"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
)

var _ = Describe("KommoWebhookHandler", func() {
	var (
		router *gin.Engine
		turns  *mockTurns
	)

	BeforeEach(func() {
		router = gin.New()
		turns = &mockTurns{}
		h := webhook.NewKommoWebhookHandler(turns)
		router.POST("/webhook", h.HandleEvent)
	})

	post := func(contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("runs a form-encoded chat message through the pipeline", func() {
		w := post("application/x-www-form-urlencoded",
			"message%5Badd%5D%5B0%5D%5Btext%5D=Hola&message%5Badd%5D%5B0%5D%5Bid%5D=m-1&message%5Badd%5D%5B0%5D%5Btype%5D=incoming&message%5Badd%5D%5B0%5D%5Bentity_id%5D=501&message%5Badd%5D%5B0%5D%5Bentity_type%5D=lead")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["status"]).To(Equal("success"))

		Expect(turns.messages).To(HaveLen(1))
		msg := turns.messages[0]
		Expect(msg.Text).To(Equal("Hola"))
		Expect(msg.LeadID).To(Equal("501"))
		Expect(msg.MessageID).To(Equal("m-1"))
		Expect(turns.options[0].Deliver).To(BeTrue())
		Expect(turns.options[0].Channel).To(Equal("webhook"))
	})

	It("reports ignored turns with a 200", func() {
		turns.handleFn = func(context.Context, inbound.Message, pipeline.Options) (*pipeline.Result, error) {
			return &pipeline.Result{Status: pipeline.StatusIgnored, Reason: inbound.ReasonOutboundAuthor}, nil
		}
		w := post("application/json", `{"lead_id":501,"message":"hola","author_type":"internal"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp["status"]).To(Equal("ignored"))
		Expect(resp["reason"]).To(Equal("outbound_author"))
	})

	It("still answers 200 when the pipeline errors", func() {
		turns.handleFn = func(context.Context, inbound.Message, pipeline.Options) (*pipeline.Result, error) {
			return &pipeline.Result{Status: pipeline.StatusFail, Reason: pipeline.ReasonSessionError}, errors.New("redis down")
		}
		w := post("application/json", `{"lead_id":501,"message":"hola"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["status"]).To(Equal("fail"))
	})

	It("ignores malformed JSON without calling the pipeline", func() {
		w := post("application/json", `{"lead_id":`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["reason"]).To(Equal(webhook.ReasonInvalidPayload))
		Expect(turns.messages).To(BeEmpty())
	})

	It("refuses bodies over 1 MiB without calling the pipeline", func() {
		huge := `{"lead_id":501,"message":"` + strings.Repeat("a", 2<<20) + `"}`
		w := post("application/json", huge)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["reason"]).To(Equal(webhook.ReasonUnreadableBody))
		Expect(turns.messages).To(BeEmpty())
	})
})
