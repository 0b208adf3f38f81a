package assistant_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/common/llm"
	"agenthub.app/bridge/common/retry"
	"agenthub.app/bridge/internal/assistant"
	"agenthub.app/bridge/internal/model"
)

var _ = Describe("ChatInvoker", func() {
	It("sends the history and keeps a single system prompt", func() {
		client := &mockChatClient{}
		inv := assistant.NewChatInvoker(client, assistant.ChatConfig{
			SystemPrompt: "be brief",
			Temperature:  0.6,
			Retry:        retry.Policy{MaxAttempts: 1},
		})

		reply, err := inv.Invoke(context.Background(), assistant.Request{
			Text: "y el precio?",
			History: []model.Turn{
				{Role: model.RoleSystem, Content: "stored prompt"},
				{Role: model.RoleUser, Content: "hola"},
				{Role: model.RoleAssistant, Content: "hola!"},
				{Role: model.RoleUser, Content: "y el precio?"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("respuesta"))
		Expect(reply.Source).To(Equal("chat"))

		msgs := client.requests[0].Messages
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[0]).To(Equal(llm.Message{Role: llm.RoleSystem, Content: "stored prompt"}))
		Expect(msgs[3]).To(Equal(llm.Message{Role: llm.RoleUser, Content: "y el precio?"}))
		Expect(*client.requests[0].Temperature).To(Equal(0.6))
	})

	It("adds the system prompt and user text when history is empty", func() {
		client := &mockChatClient{}
		inv := assistant.NewChatInvoker(client, assistant.ChatConfig{SystemPrompt: "be brief", Retry: retry.Policy{MaxAttempts: 1}})

		_, err := inv.Invoke(context.Background(), assistant.Request{Text: "hola"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.requests[0].Messages).To(Equal([]llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hola"},
		}))
	})
})

var _ = Describe("BackendInvoker", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newInvoker := func() *assistant.BackendInvoker {
		client := retry.NewHTTPClient(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
		return assistant.NewBackendInvoker(client, server.URL+"/", "key-123")
	}

	It("posts the turn and reads any of the reply fields", func() {
		var got map[string]string
		handler = func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/reply"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer key-123"))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
			_, _ = w.Write([]byte(`{"answer":"  desde backend "}`))
		}

		reply, err := newInvoker().Invoke(context.Background(), assistant.Request{
			Text: "hola", LeadID: "501", ChatID: "talk-1", TraceID: "t-1",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("desde backend"))
		Expect(got).To(HaveKeyWithValue("message", "hola"))
		Expect(got).To(HaveKeyWithValue("leadId", "501"))
		Expect(got).To(HaveKeyWithValue("talkId", "talk-1"))
		Expect(got).To(HaveKeyWithValue("traceId", "t-1"))
	})

	It("reports client errors as rejections", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}

		_, err := newInvoker().Invoke(context.Background(), assistant.Request{Text: "hola"})
		Expect(errors.Is(err, assistant.ErrUpstreamRejected)).To(BeTrue())
	})

	It("reports exhausted server errors", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}

		_, err := newInvoker().Invoke(context.Background(), assistant.Request{Text: "hola"})
		var se *retry.StatusError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.StatusCode).To(Equal(http.StatusBadGateway))
	})
})

var _ = Describe("Chain", func() {
	errBoom := errors.New("boom")

	It("returns the first non-empty reply", func() {
		first := &stubInvoker{name: "backend", err: errBoom}
		second := &stubInvoker{name: "threads", reply: &assistant.Reply{Text: "hola", ThreadID: "th"}}
		third := &stubInvoker{name: "chat", reply: &assistant.Reply{Text: "never"}}

		reply, err := assistant.NewChain(first, second, third).Invoke(context.Background(), assistant.Request{Text: "x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(Equal("hola"))
		Expect(third.calls).To(Equal(0))
	})

	It("carries the thread handle forward and reports joined errors", func() {
		first := &stubInvoker{name: "threads", reply: &assistant.Reply{ThreadID: "th_1"}, err: assistant.ErrUpstreamTimeout}
		second := &stubInvoker{name: "chat", err: errBoom}

		reply, err := assistant.NewChain(first, second).Invoke(context.Background(), assistant.Request{Text: "x"})
		Expect(errors.Is(err, assistant.ErrUpstreamTimeout)).To(BeTrue())
		Expect(errors.Is(err, errBoom)).To(BeTrue())
		Expect(reply.ThreadID).To(Equal("th_1"))
		Expect(second.seen[0].ThreadID).To(Equal("th_1"))
	})

	It("returns an empty reply without error when backends answer nothing", func() {
		first := &stubInvoker{name: "threads", reply: &assistant.Reply{Text: "  "}}
		second := &stubInvoker{name: "chat", err: errBoom}

		reply, err := assistant.NewChain(first, second).Invoke(context.Background(), assistant.Request{Text: "x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Text).To(BeEmpty())
	})

	It("fails without backends", func() {
		_, err := assistant.NewChain().Invoke(context.Background(), assistant.Request{Text: "x"})
		Expect(err).To(HaveOccurred())
	})

	It("describes its order", func() {
		c := assistant.NewChain(&stubInvoker{name: "backend"}, &stubInvoker{name: "chat"})
		Expect(c.Name()).To(Equal("backend>chat"))
		Expect(c.Len()).To(Equal(2))
	})
})
