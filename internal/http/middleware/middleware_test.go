package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"postdeck.app/connect/internal/http/middleware"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var _ = Describe("RequireAPIKey", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = gin.New()
		router.Use(middleware.RequireAPIKey("secret-key"))
		router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	})

	It("accepts the key in X-API-Key", func() {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(middleware.APIKeyHeader, "secret-key")
		Expect(serve(router, req).Code).To(Equal(http.StatusOK))
	})

	It("accepts a bearer token", func() {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer secret-key")
		Expect(serve(router, req).Code).To(Equal(http.StatusOK))
	})

	It("rejects a wrong or missing key", func() {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		Expect(serve(router, req).Code).To(Equal(http.StatusUnauthorized))

		req.Header.Set(middleware.APIKeyHeader, "nope")
		w := serve(router, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Body.String()).To(ContainSubstring(`"code":"unauthorized"`))
	})

	It("is open when no key is configured", func() {
		open := gin.New()
		open.Use(middleware.RequireAPIKey(""))
		open.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		Expect(serve(open, httptest.NewRequest(http.MethodGet, "/ping", nil)).Code).To(Equal(http.StatusNoContent))
	})
})

var _ = Describe("RateLimiter", func() {
	It("throttles a client over its burst", func() {
		router := gin.New()
		router.Use(middleware.NewRateLimiter(20).Handler())
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		codes := make([]int, 0, 3)
		for range 3 {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.RemoteAddr = "203.0.113.7:1234"
			codes = append(codes, serve(router, req).Code)
		}
		Expect(codes).To(Equal([]int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}))

		other := httptest.NewRequest(http.MethodGet, "/ping", nil)
		other.RemoteAddr = "198.51.100.1:1234"
		Expect(serve(router, other).Code).To(Equal(http.StatusNoContent))
	})

	It("lets everything through when disabled", func() {
		Expect(middleware.NewRateLimiter(0)).To(BeNil())

		router := gin.New()
		router.Use(middleware.NewRateLimiter(0).Handler())
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		for range 5 {
			Expect(serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil)).Code).To(Equal(http.StatusNoContent))
		}
	})
})

var _ = Describe("Recovery", func() {
	It("turns a panic into a 500", func() {
		router := gin.New()
		router.Use(middleware.Recovery(), middleware.Logger())
		router.GET("/boom", func(c *gin.Context) { panic("boom") })

		w := serve(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring("internal_error"))
	})
})
