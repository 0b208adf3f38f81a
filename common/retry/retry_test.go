package retry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/common/retry"
)

var errTransient = errors.New("transient")

var _ = Describe("Policy", func() {
	It("grows the delay linearly", func() {
		b := retry.NewLinearBackOff(retry.Policy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond})
		Expect(b.NextBackOff()).To(Equal(300 * time.Millisecond))
		Expect(b.NextBackOff()).To(Equal(600 * time.Millisecond))
		b.Reset()
		Expect(b.NextBackOff()).To(Equal(300 * time.Millisecond))
	})

	It("never attempts less than once", func() {
		Expect(retry.Policy{}.Attempts()).To(Equal(1))
	})

	DescribeTable("classifies statuses",
		func(code int, expected bool) {
			Expect(retry.IsRetryableStatus(code)).To(Equal(expected))
		},
		Entry("rate limited", 429, true),
		Entry("server error", 500, true),
		Entry("bad gateway", 502, true),
		Entry("bad request", 400, false),
		Entry("payload too large", 413, false),
		Entry("not found", 404, false),
	)
})

var _ = Describe("Do", func() {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	always := func(context.Context, error) bool { return true }
	never := func(context.Context, error) bool { return false }

	It("retries until success", func() {
		calls := 0
		v, err := retry.Do(context.Background(), policy, always, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "ok", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("ok"))
		Expect(calls).To(Equal(3))
	})

	It("stops after the configured attempts", func() {
		calls := 0
		_, err := retry.Do(context.Background(), policy, always, func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
		Expect(err).To(MatchError(errTransient))
		Expect(calls).To(Equal(3))
	})

	It("returns non-retryable errors immediately", func() {
		calls := 0
		_, err := retry.Do(context.Background(), policy, never, func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
		Expect(err).To(MatchError(errTransient))
		Expect(calls).To(Equal(1))
	})

	It("does not retry a cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := retry.Do(ctx, policy, always, func(ctx context.Context) (int, error) {
			calls++
			return 0, ctx.Err()
		})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})
})

var _ = Describe("NewHTTPClient", func() {
	var (
		server *httptest.Server
		hits   atomic.Int32
		status []int
	)

	BeforeEach(func() {
		hits.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := int(hits.Add(1)) - 1
			code := status[len(status)-1]
			if n < len(status) {
				code = status[n]
			}
			w.WriteHeader(code)
			_, _ = w.Write([]byte("body"))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	do := func() (*http.Response, error) {
		c := retry.NewHTTPClient(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, time.Second)
		req, err := retryablehttp.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, []byte(`{}`))
		Expect(err).NotTo(HaveOccurred())
		return c.Do(req)
	}

	It("retries 503 then succeeds", func() {
		status = []int{503, 200}
		resp, err := do()
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(200))
		Expect(hits.Load()).To(BeEquivalentTo(2))
	})

	It("does not retry a 400", func() {
		status = []int{400}
		resp, err := do()
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(400))
		Expect(hits.Load()).To(BeEquivalentTo(1))
	})

	It("hands back the last response once attempts run out", func() {
		status = []int{429}
		resp, err := do()
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(429))
		Expect(hits.Load()).To(BeEquivalentTo(3))

		statusErr := retry.CheckResponse(resp.Request, resp)
		var se *retry.StatusError
		Expect(errors.As(statusErr, &se)).To(BeTrue())
		Expect(se.StatusCode).To(Equal(429))
		Expect(se.Retryable()).To(BeTrue())
		Expect(se.Body).To(Equal("body"))
	})
})
