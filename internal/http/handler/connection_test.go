package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/http/handler"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/store"
)

var _ = Describe("ConnectionHandler", func() {
	var (
		router *gin.Engine
		svc    *mockConnectionService
		cache  *mockPictureCache
	)

	BeforeEach(func() {
		svc = &mockConnectionService{}
		cache = newMockPictureCache()
		h := handler.NewConnectionHandler(svc, cache)

		router = gin.New()
		rg := router.Group("/clients/:client_id/instagram")
		rg.GET("", h.Get)
		rg.DELETE("", h.Delete)
		rg.GET("/health", h.Health)
		rg.GET("/profile", h.Profile)
		rg.GET("/picture", h.Picture)
		rg.POST("/picture/refresh", h.RefreshPicture)
		rg.POST("/picture/failed", h.PictureFailed)
		rg.POST("/picture/loaded", h.PictureLoaded)
		router.GET("/cache/stats", h.CacheStats)
	})

	Describe("Get", func() {
		It("returns the connection without its token", func() {
			svc.getFn = func(_ context.Context, clientID string) (*model.Connection, error) {
				return &model.Connection{
					ClientID:    clientID,
					Username:    "brand",
					AccessToken: "secret-page-token",
					TokenExpiry: time.Now().Add(time.Hour),
				}, nil
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).NotTo(ContainSubstring("secret-page-token"))
			Expect(decode(w)["instagram_username"]).To(Equal("brand"))
		})

		It("returns 404 when nothing is connected", func() {
			svc.getFn = func(context.Context, string) (*model.Connection, error) {
				return nil, store.ErrNotFound
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)["code"]).To(Equal("not_found"))
		})
	})

	It("deletes the connection", func() {
		var removed string
		svc.removeFn = func(_ context.Context, clientID string) error {
			removed = clientID
			return nil
		}

		w := doRequest(router, http.MethodDelete, "/clients/c1/instagram", nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(removed).To(Equal("c1"))
	})

	Describe("Health", func() {
		It("reports a rejected token and its removal", func() {
			svc.checkHealthFn = func(context.Context, string) (*service.HealthReport, error) {
				return &service.HealthReport{Valid: false, Removed: true}, service.ErrTokenInvalid
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/health", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body["valid"]).To(BeFalse())
			Expect(body["removed"]).To(BeTrue())
		})

		It("maps provider outages to 502", func() {
			svc.checkHealthFn = func(context.Context, string) (*service.HealthReport, error) {
				return nil, fmt.Errorf("verifying token: %w", &graph.Error{
					Kind: graph.KindTransport,
					Op:   "debug_token",
					Err:  errors.New("connection refused"),
				})
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/health", nil)
			Expect(w.Code).To(Equal(http.StatusBadGateway))
			body := decode(w)
			Expect(body["code"]).To(Equal("provider_unavailable"))
			Expect(body["retry"]).To(BeTrue())
		})
	})

	It("maps an invalid token on profile to 401", func() {
		svc.profileFn = func(context.Context, string) (*model.AccountProfile, error) {
			return nil, service.ErrTokenInvalid
		}

		w := doRequest(router, http.MethodGet, "/clients/c1/instagram/profile", nil)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(decode(w)["code"]).To(Equal("token_invalid"))
	})

	Describe("Picture", func() {
		It("serves a fresh cached url", func() {
			cache.urls["c1"] = "https://cdn.example.com/a.jpg"

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/picture", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["url"]).To(Equal("https://cdn.example.com/a.jpg"))
		})

		It("refreshes an expired url", func() {
			cache.urls["c1"] = "https://cdn.example.com/a.jpg"
			cache.expired["c1"] = true
			cache.refreshFn = func(context.Context, string) (string, bool) {
				return "https://cdn.example.com/b.jpg", true
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/picture", nil)
			Expect(decode(w)["url"]).To(Equal("https://cdn.example.com/b.jpg"))
		})

		It("falls back to the stale url when the refresh fails", func() {
			cache.urls["c1"] = "https://cdn.example.com/a.jpg"
			cache.expired["c1"] = true

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/picture", nil)
			body := decode(w)
			Expect(body["url"]).To(Equal("https://cdn.example.com/a.jpg"))
			Expect(body["stale"]).To(BeTrue())
		})

		It("seeds the cache from the stored connection", func() {
			svc.getFn = func(_ context.Context, clientID string) (*model.Connection, error) {
				return &model.Connection{ClientID: clientID, ProfilePictureURL: "https://cdn.example.com/stored.jpg"}, nil
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/picture", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(cache.urls).To(HaveKeyWithValue("c1", "https://cdn.example.com/stored.jpg"))
		})

		It("reports a missing picture", func() {
			svc.getFn = func(_ context.Context, clientID string) (*model.Connection, error) {
				return &model.Connection{ClientID: clientID}, nil
			}

			w := doRequest(router, http.MethodGet, "/clients/c1/instagram/picture", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)["code"]).To(Equal("no_profile_picture"))
		})
	})

	It("returns 502 when a forced refresh is unavailable", func() {
		w := doRequest(router, http.MethodPost, "/clients/c1/instagram/picture/refresh", nil)
		Expect(w.Code).To(Equal(http.StatusBadGateway))
		body := decode(w)
		Expect(body["code"]).To(Equal("refresh_unavailable"))
		Expect(body["retry"]).To(BeTrue())
	})

	It("reports deferred repair after repeated load failures", func() {
		cache.loadFailureFn = func(context.Context, string) (string, bool) {
			return "https://cdn.example.com/a.jpg", true
		}

		w := doRequest(router, http.MethodPost, "/clients/c1/instagram/picture/failed", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		body := decode(w)
		Expect(body["deferred"]).To(BeTrue())
		Expect(body["url"]).To(Equal("https://cdn.example.com/a.jpg"))
	})

	It("records successful loads", func() {
		w := doRequest(router, http.MethodPost, "/clients/c1/instagram/picture/loaded", nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(cache.loaded).To(ConsistOf("c1"))
	})

	It("exposes cache stats", func() {
		cache.urls["c1"] = "https://cdn.example.com/a.jpg"
		w := doRequest(router, http.MethodGet, "/cache/stats", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["total"]).To(BeEquivalentTo(1))
	})
})
