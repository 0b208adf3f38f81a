package webhook_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/http/handler/webhook"
	"agenthub.app/bridge/internal/queue"
)

var _ = Describe("SalesbotHandler", func() {
	var (
		router *gin.Engine
		turns  *mockTurns
		tasks  *mockEnqueuer
	)

	BeforeEach(func() {
		router = gin.New()
		turns = &mockTurns{}
		tasks = &mockEnqueuer{}
		h := webhook.NewSalesbotHandler(turns, tasks)
		router.POST("/salesbot", h.HandleEvent)
		router.POST("/echo", webhook.NewEchoHandler().HandleEvent)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", "trace-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("acknowledges widget requests and defers the turn", func() {
		w := post("/salesbot", `{"token":"jwt","return_url":"https://acme.kommo.com/api/v4/salesbot/9/continue/33","data":{"message":"Hola","lead_id":"501"}}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(BeEmpty())
		Expect(turns.messages).To(BeEmpty())

		Expect(tasks.tasks).To(HaveLen(1))
		task := tasks.tasks[0]
		Expect(task.TaskType).To(Equal(queue.TaskTypeSalesbotReply))
		Expect(task.Message.Text).To(Equal("Hola"))
		Expect(task.Message.LeadID).To(Equal("501"))
		Expect(task.Message.ReturnURL).To(HaveSuffix("/continue/33"))
		Expect(task.Message.WidgetToken).To(Equal("jwt"))
	})

	It("defers requests that carry a bot continuation", func() {
		w := post("/salesbot", `{"bot_id":"9","continue_id":"33","lead_id":501,"message":"Hola"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(tasks.tasks).To(HaveLen(1))
	})

	It("acks even when the task cannot be enqueued", func() {
		tasks.err = errors.New("redis down")
		w := post("/salesbot", `{"return_url":"https://acme.kommo.com/x","data":{"message":"Hola","lead_id":"501"}}`)
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("answers plain requests inline", func() {
		w := post("/salesbot", `{"lead_id":501,"message":"Hola"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("success"))
		Expect(resp["reply"]).To(Equal("¡Hola!"))

		Expect(tasks.tasks).To(BeEmpty())
		Expect(turns.options[0].Deliver).To(BeFalse())
		Expect(turns.options[0].Channel).To(Equal("salesbot"))
	})

	It("fails plain requests without text or lead", func() {
		w := post("/salesbot", `{}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("fail"))
		Expect(resp["reply"]).To(Equal("Sin mensaje o lead_id"))
		Expect(turns.messages).To(BeEmpty())
	})

	It("silently acks empty widget requests", func() {
		w := post("/salesbot", `{"return_url":"https://acme.kommo.com/x","data":{}}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(tasks.tasks).To(BeEmpty())
	})

	Describe("echo", func() {
		It("echoes the message as a show handler", func() {
			w := post("/echo", `{"message":"hola"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp struct {
				Data struct {
					Status string `json:"status"`
				} `json:"data"`
				ExecuteHandlers []struct {
					Handler string         `json:"handler"`
					Params  map[string]any `json:"params"`
				} `json:"execute_handlers"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Data.Status).To(Equal("success"))
			Expect(resp.ExecuteHandlers).To(HaveLen(1))
			Expect(resp.ExecuteHandlers[0].Handler).To(Equal("show"))
			Expect(resp.ExecuteHandlers[0].Params["value"]).To(Equal("ECHO ▶ hola"))
		})

		It("falls back when there is no message", func() {
			w := post("/echo", `{"message":"{{message}}"}`)
			Expect(w.Body.String()).To(ContainSubstring("sin 'message'"))
		})
	})
})
