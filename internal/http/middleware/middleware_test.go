package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.app/bridge/internal/http/middleware"
)

func ok(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var _ = Describe("RequireSecret", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = gin.New()
		guarded := router.Group("", middleware.RequireSecret("s3cret", "X-Bridge-Secret"))
		guarded.POST("/hook", ok)
		guarded.POST("/hook/:secret", ok)
	})

	It("accepts the secret from the header", func() {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set("X-Bridge-Secret", "s3cret")
		Expect(serve(router, req).Code).To(Equal(http.StatusOK))
	})

	It("accepts the secret from the query string", func() {
		req := httptest.NewRequest(http.MethodPost, "/hook?secret=s3cret", nil)
		Expect(serve(router, req).Code).To(Equal(http.StatusOK))
	})

	It("accepts the secret from the path", func() {
		req := httptest.NewRequest(http.MethodPost, "/hook/s3cret", nil)
		Expect(serve(router, req).Code).To(Equal(http.StatusOK))
	})

	It("rejects a wrong or missing secret", func() {
		req := httptest.NewRequest(http.MethodPost, "/hook?secret=nope", nil)
		w := serve(router, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Body.String()).To(ContainSubstring("unauthorized"))

		req = httptest.NewRequest(http.MethodPost, "/hook", nil)
		Expect(serve(router, req).Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects everything when no secret is configured", func() {
		r := gin.New()
		r.POST("/hook", middleware.RequireSecret(""), ok)
		req := httptest.NewRequest(http.MethodPost, "/hook?secret=", nil)
		Expect(serve(r, req).Code).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("OptionalSecret", func() {
	It("lets requests through when no secret is configured", func() {
		r := gin.New()
		r.POST("/hook", middleware.OptionalSecret(""), ok)
		Expect(serve(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code).To(Equal(http.StatusOK))
	})

	It("enforces a configured secret", func() {
		r := gin.New()
		r.POST("/hook", middleware.OptionalSecret("abc", "X-Webhook-Secret"), ok)
		Expect(serve(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("Trace", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = gin.New()
		router.Use(middleware.Trace("X-Trace-Id"))
		router.GET("/t", func(c *gin.Context) {
			c.String(http.StatusOK, middleware.TraceID(c))
		})
	})

	It("keeps the caller's trace id", func() {
		req := httptest.NewRequest(http.MethodGet, "/t", nil)
		req.Header.Set("X-Trace-Id", "abc-123")
		w := serve(router, req)
		Expect(w.Body.String()).To(Equal("abc-123"))
		Expect(w.Header().Get("X-Trace-Id")).To(Equal("abc-123"))
	})

	It("generates one when the caller sends none", func() {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/t", nil))
		Expect(w.Body.String()).NotTo(BeEmpty())
		Expect(w.Header().Get("X-Trace-Id")).To(Equal(w.Body.String()))
	})
})

var _ = Describe("Recovery", func() {
	It("turns a panic into a 500", func() {
		r := gin.New()
		r.Use(middleware.Recovery())
		r.GET("/boom", func(c *gin.Context) { panic("boom") })

		w := serve(r, httptest.NewRequest(http.MethodGet, "/boom?secret=s3cret", nil))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring("internal server error"))
	})
})
