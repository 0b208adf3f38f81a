package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
	"agenthub.app/bridge/internal/queue"
	"agenthub.app/bridge/internal/worker"
)

func task(id string, attempt int) queue.Message {
	return queue.Message{
		ID:       id,
		TaskType: queue.TaskTypeSalesbotReply,
		Attempt:  attempt,
		Inbound:  inbound.Message{LeadID: "501", Text: "hola", ReturnURL: "https://x.test/cb"},
	}
}

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *fakeConsumer
		processor *fakeProcessor
		w         *worker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &fakeConsumer{}
		processor = &fakeProcessor{}
		w = worker.New(consumer, processor, worker.Config{MaxAttempts: 3, ErrorBackoff: time.Millisecond})
	})

	It("acknowledges processed messages", func() {
		Expect(w.Handle(ctx, task("1-0", 1))).To(Succeed())

		acked, requeued, dlq := consumer.snapshot()
		Expect(acked).To(Equal([]string{"1-0"}))
		Expect(requeued).To(BeEmpty())
		Expect(dlq).To(BeEmpty())
	})

	It("requeues failures below the attempt limit", func() {
		processor.fn = func(queue.Message) error { return errors.New("redis down") }

		Expect(w.Handle(ctx, task("1-0", 1))).To(HaveOccurred())

		acked, requeued, dlq := consumer.snapshot()
		Expect(acked).To(BeEmpty())
		Expect(requeued).To(Equal([]string{"1-0"}))
		Expect(dlq).To(BeEmpty())
	})

	It("dead-letters the last attempt", func() {
		processor.fn = func(queue.Message) error { return errors.New("redis down") }

		Expect(w.Handle(ctx, task("1-0", 3))).To(HaveOccurred())

		_, requeued, dlq := consumer.snapshot()
		Expect(requeued).To(BeEmpty())
		Expect(dlq).To(Equal([]string{"1-0"}))
	})

	It("turns a panic into a retry", func() {
		processor.fn = func(queue.Message) error { panic("nil map") }

		err := w.Handle(ctx, task("1-0", 1))
		Expect(err).To(MatchError(ContainSubstring("panic")))

		_, requeued, _ := consumer.snapshot()
		Expect(requeued).To(Equal([]string{"1-0"}))
	})

	It("drains batches until stopped", func() {
		consumer.batches = [][]queue.Message{{task("1-0", 1), task("2-0", 1)}, {task("3-0", 1)}}

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(processor.count).Should(Equal(3))
		w.Stop()
		Eventually(done).Should(Receive(BeNil()))

		acked, _, _ := consumer.snapshot()
		Expect(acked).To(ConsistOf("1-0", "2-0", "3-0"))
	})

	It("keeps running after a read error", func() {
		consumer.readErr = errors.New("i/o timeout")

		ctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Consistently(done, 20*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})

var _ = Describe("SalesbotProcessor", func() {
	It("runs the turn with delivery on the salesbot channel", func() {
		handler := &fakeHandler{result: &pipeline.Result{Status: pipeline.StatusSuccess, Delivered: true}}
		p := worker.NewSalesbotProcessor(handler)

		msg := task("1-0", 1)
		msg.TraceID = "trace-9"
		Expect(p.Process(context.Background(), msg)).To(Succeed())

		Expect(handler.msgs).To(Equal([]inbound.Message{msg.Inbound}))
		Expect(handler.opts[0]).To(Equal(pipeline.Options{Channel: "salesbot", TraceID: "trace-9", Deliver: true}))
	})

	It("does not retry a failed delivery", func() {
		handler := &fakeHandler{result: &pipeline.Result{Status: pipeline.StatusFail, Reason: pipeline.ReasonDeliveryFailed}}

		Expect(worker.NewSalesbotProcessor(handler).Process(context.Background(), task("1-0", 1))).To(Succeed())
	})

	It("reports infrastructure errors for retry", func() {
		handler := &fakeHandler{
			result: &pipeline.Result{Status: pipeline.StatusFail, Reason: pipeline.ReasonSessionError},
			err:    errors.New("redis: connection refused"),
		}

		Expect(worker.NewSalesbotProcessor(handler).Process(context.Background(), task("1-0", 1))).To(HaveOccurred())
	})

	It("rejects unknown task types", func() {
		msg := task("1-0", 1)
		msg.TaskType = "repo_sync"

		Expect(worker.NewSalesbotProcessor(&fakeHandler{}).Process(context.Background(), msg)).To(HaveOccurred())
	})
})

var _ = Describe("Inline", func() {
	It("runs tasks in the background and waits for them on close", func() {
		release := make(chan struct{})
		processor := &fakeProcessor{fn: func(queue.Message) error {
			<-release
			return nil
		}}
		inline := worker.NewInline(processor)

		ctx, cancel := context.WithCancel(context.Background())
		Expect(inline.Enqueue(ctx, queue.Task{Message: inbound.Message{Text: "hola"}, TraceID: "t"})).To(Succeed())
		cancel()

		Eventually(processor.count).Should(Equal(1))
		Expect(processor.called[0].TaskType).To(Equal(queue.TaskTypeSalesbotReply))
		Expect(processor.called[0].TraceID).To(Equal("t"))

		closed := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(closed)
			Expect(inline.Close()).To(Succeed())
		}()
		Consistently(closed, 20*time.Millisecond).ShouldNot(BeClosed())
		close(release)
		Eventually(closed).Should(BeClosed())

		Expect(inline.Enqueue(context.Background(), queue.Task{})).To(MatchError(worker.ErrClosed))
	})
})
