package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/http/handler"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/service/integration"
)

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed())
	return out
}

var _ = Describe("InstagramHandler", func() {
	var (
		router *gin.Engine
		svc    *mockInstagramService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockInstagramService{}
		h := handler.NewInstagramHandler(svc, "https://dashboard.example.com")

		router.POST("/clients/:client_id/instagram/authorize", h.Authorize)
		router.GET("/auth/instagram/callback", h.Callback)
		router.POST("/connect/exchange", h.Exchange)
		router.GET("/connect/:state/wait", h.Wait)
	})

	Describe("Authorize", func() {
		It("returns the dialog url and state", func() {
			svc.beginFn = func(_ context.Context, clientID string) (*integration.Authorization, error) {
				Expect(clientID).To(Equal("c1"))
				return &integration.Authorization{
					URL:       "https://www.facebook.com/v23.0/dialog/oauth?state=s1",
					State:     "s1",
					ExpiresAt: time.Now().Add(10 * time.Minute),
				}, nil
			}

			w := doRequest(router, http.MethodPost, "/clients/c1/instagram/authorize", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body["authorization_url"]).To(ContainSubstring("dialog/oauth"))
			Expect(body["state"]).To(Equal("s1"))
		})
	})

	Describe("Callback", func() {
		redirect := func(w *httptest.ResponseRecorder) url.Values {
			Expect(w.Code).To(Equal(http.StatusFound))
			loc, err := url.Parse(w.Header().Get("Location"))
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.Host).To(Equal("dashboard.example.com"))
			return loc.Query()
		}

		It("redirects with the connected status", func() {
			svc.callbackFn = func(_ context.Context, params integration.CallbackParams) (*integration.CallbackResult, error) {
				Expect(params.Code).To(Equal("abc"))
				return &integration.CallbackResult{
					ClientID: "c1",
					State:    params.State,
					Outcome:  handoff.Outcome{Status: handoff.StatusConnected, ClientID: "c1", Username: "brand"},
				}, nil
			}

			q := redirect(doRequest(router, http.MethodGet, "/auth/instagram/callback?state=s1&code=abc", nil))
			Expect(q.Get("connect_status")).To(Equal("connected"))
			Expect(q.Get("state")).To(Equal("s1"))
			Expect(q.Get("client_id")).To(Equal("c1"))
		})

		It("passes provider errors through and redirects with the failure code", func() {
			svc.callbackFn = func(_ context.Context, params integration.CallbackParams) (*integration.CallbackResult, error) {
				Expect(params.Error).To(Equal("access_denied"))
				Expect(params.ErrorReason).To(Equal("user_denied"))
				err := &integration.CallbackError{Kind: integration.ErrAccessDenied, Reason: params.ErrorReason}
				return &integration.CallbackResult{
					ClientID: "c1",
					State:    params.State,
					Outcome: handoff.Outcome{
						Status:    handoff.StatusFailed,
						ClientID:  "c1",
						ErrorCode: integration.ErrorCode(err),
					},
				}, err
			}

			q := redirect(doRequest(router, http.MethodGet, "/auth/instagram/callback?state=s1&error=access_denied&error_reason=user_denied", nil))
			Expect(q.Get("connect_status")).To(Equal("failed"))
			Expect(q.Get("error_code")).To(Equal("access_denied"))
		})

		It("redirects with invalid_state when the state is unknown", func() {
			svc.callbackFn = func(context.Context, integration.CallbackParams) (*integration.CallbackResult, error) {
				return nil, integration.ErrInvalidState
			}

			q := redirect(doRequest(router, http.MethodGet, "/auth/instagram/callback?state=nope&code=abc", nil))
			Expect(q.Get("connect_status")).To(Equal("failed"))
			Expect(q.Get("error_code")).To(Equal("invalid_state"))
			Expect(q.Has("client_id")).To(BeFalse())
		})
	})

	Describe("Exchange", func() {
		It("rejects a body without state", func() {
			w := doRequest(router, http.MethodPost, "/connect/exchange", map[string]string{"code": "abc"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["code"]).To(Equal("invalid_request"))
		})

		It("returns the connection when one account was found", func() {
			svc.callbackFn = func(_ context.Context, params integration.CallbackParams) (*integration.CallbackResult, error) {
				conn := &model.Connection{ClientID: "c1", Username: "brand", AccessToken: "page-token"}
				return &integration.CallbackResult{
					ClientID:   "c1",
					State:      params.State,
					Connection: conn,
					Outcome:    handoff.Outcome{Status: handoff.StatusConnected, ClientID: "c1", Username: "brand"},
				}, nil
			}

			w := doRequest(router, http.MethodPost, "/connect/exchange", map[string]string{"state": "s1", "code": "abc"})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).NotTo(ContainSubstring("page-token"))
			body := decode(w)
			Expect(body["status"]).To(Equal("connected"))
			Expect(body["connection"]).To(HaveKeyWithValue("instagram_username", "brand"))
		})

		DescribeTable("maps connect errors",
			func(err error, status int, code string) {
				svc.callbackFn = func(context.Context, integration.CallbackParams) (*integration.CallbackResult, error) {
					return &integration.CallbackResult{ClientID: "c1"}, err
				}

				w := doRequest(router, http.MethodPost, "/connect/exchange", map[string]string{"state": "s1", "code": "abc"})
				Expect(w.Code).To(Equal(status))
				body := decode(w)
				Expect(body["code"]).To(Equal(code))
				Expect(body["error"]).NotTo(BeEmpty())
			},
			Entry("no pages", integration.ErrNoLinkedPages, http.StatusUnprocessableEntity, "no_linked_pages"),
			Entry("no business account", integration.ErrNoBusinessAccount, http.StatusUnprocessableEntity, "no_business_account"),
			Entry("exchange rejected", fmt.Errorf("%w: code used", integration.ErrAuthExchange), http.StatusBadRequest, "auth_exchange_failed"),
			Entry("invalid state", integration.ErrInvalidState, http.StatusBadRequest, "invalid_state"),
			Entry("commit failed", fmt.Errorf("%w: db down", integration.ErrCommitFailed), http.StatusInternalServerError, "commit_failed"),
			Entry("unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"),
		)
	})

	Describe("Wait", func() {
		It("returns the published outcome", func() {
			svc.waitFn = func(_ context.Context, state string) (handoff.Outcome, error) {
				Expect(state).To(Equal("s1"))
				return handoff.Outcome{Status: handoff.StatusSelectionRequired, ClientID: "c1", SelectionID: "42"}, nil
			}

			w := doRequest(router, http.MethodGet, "/connect/s1/wait", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body["status"]).To(Equal("selection_required"))
			Expect(body["selection_id"]).To(Equal("42"))
		})

		It("reports a timeout as cancelled", func() {
			w := doRequest(router, http.MethodGet, "/connect/s1/wait", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body["status"]).To(Equal("cancelled"))
			Expect(body["error_code"]).To(Equal("timeout"))
		})
	})
})
