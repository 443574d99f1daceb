package integration_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/graph/graphtest"
	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/model"
	"postdeck.app/connect/internal/oauthstate"
	"postdeck.app/connect/internal/service/integration"
)

func twoPages() []model.LinkedPage {
	return []model.LinkedPage{
		{ID: "p1", Name: "Page One", AccessToken: "pt1", BusinessAccountID: "ig1"},
		{ID: "p2", Name: "Page Two", AccessToken: "pt2", BusinessAccountID: "ig2"},
	}
}

var _ = Describe("Selection", func() {
	var (
		ctx     context.Context
		fetcher *mockFetcher
		saver   *mockSaver
		expiry  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		fetcher = &mockFetcher{}
		saver = &mockSaver{}
		expiry = time.Now().Add(60 * 24 * time.Hour)
	})

	newSelection := func(pages []model.LinkedPage) *integration.Selection {
		return integration.NewSelection(integration.SelectionParams{
			ClientID:    "c1",
			Pages:       pages,
			TokenExpiry: expiry,
			Concurrency: 4,
		}, fetcher, saver)
	}

	Describe("Load", func() {
		It("drops candidates whose profile fails and keeps the rest", func() {
			fetcher.getAccountProfileFn = func(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
				if accountID == "ig1" {
					return nil, &graph.Error{Kind: graph.KindProvider, Message: "Unsupported get request."}
				}
				return &model.AccountProfile{ID: accountID, Username: "bob"}, nil
			}
			sel := newSelection(twoPages())

			snap, err := sel.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(integration.SelectionReady))
			Expect(snap.Candidates).To(HaveLen(1))
			Expect(snap.Candidates[0].Page.ID).To(Equal("p2"))
			Expect(snap.Candidates[0].Profile.Username).To(Equal("bob"))
			Expect(snap.Failures).To(HaveKeyWithValue("p1", "Unsupported get request."))
		})

		It("does not let a failing fetch cancel its siblings", func() {
			var slowFinished atomic.Bool
			fetcher.getAccountProfileFn = func(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
				if accountID == "ig1" {
					return nil, errors.New("boom")
				}
				time.Sleep(30 * time.Millisecond)
				slowFinished.Store(true)
				return &model.AccountProfile{ID: accountID}, nil
			}
			sel := newSelection(twoPages())

			snap, err := sel.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(slowFinished.Load()).To(BeTrue())
			Expect(snap.Candidates).To(HaveLen(1))
		})

		It("reports AllFailed and retries the whole fetch on the next Load", func() {
			var failing atomic.Bool
			failing.Store(true)
			fetcher.getAccountProfileFn = func(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
				if failing.Load() {
					return nil, errors.New("down")
				}
				return &model.AccountProfile{ID: accountID}, nil
			}
			sel := newSelection(twoPages())

			snap, err := sel.Load(ctx)
			Expect(err).To(MatchError(integration.ErrAllCandidatesFailed))
			Expect(snap.State).To(Equal(integration.SelectionAllFailed))
			Expect(snap.ErrorCode).To(Equal("all_candidates_failed"))
			Expect(fetcher.calls.Load()).To(Equal(int32(2)))

			failing.Store(false)
			snap, err = sel.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(integration.SelectionReady))
			Expect(snap.Candidates).To(HaveLen(2))
			Expect(snap.ErrorCode).To(BeEmpty())
			Expect(fetcher.calls.Load()).To(Equal(int32(4)))
		})

		It("preserves provider order", func() {
			pages := []model.LinkedPage{
				{ID: "p1", AccessToken: "t", BusinessAccountID: "ig1"},
				{ID: "p2", AccessToken: "t", BusinessAccountID: "ig2"},
				{ID: "p3", AccessToken: "t", BusinessAccountID: "ig3"},
			}
			fetcher.getAccountProfileFn = func(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
				if accountID == "ig1" {
					time.Sleep(20 * time.Millisecond)
				}
				return &model.AccountProfile{ID: accountID}, nil
			}

			snap, err := newSelection(pages).Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Candidates[0].Page.ID).To(Equal("p1"))
			Expect(snap.Candidates[2].Page.ID).To(Equal("p3"))
		})
	})

	Describe("Select", func() {
		It("commits the chosen candidate with the page token", func() {
			sel := newSelection(twoPages())
			_, err := sel.Load(ctx)
			Expect(err).NotTo(HaveOccurred())

			snap, err := sel.Select(ctx, "p2")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(integration.SelectionCommitted))
			Expect(snap.Connection.InstagramAccountID).To(Equal("ig2"))

			saved := saver.Saved()
			Expect(saved).To(HaveLen(1))
			Expect(saved[0].AccessToken).To(Equal("pt2"))
			Expect(saved[0].PageName).To(Equal("Page Two"))
			Expect(saved[0].Username).To(Equal("user_ig2"))
			Expect(saved[0].TokenExpiry).To(BeTemporally("==", expiry))
		})

		It("saves exactly once for concurrent duplicate selects (scenario E)", func() {
			saver.delay = 20 * time.Millisecond
			sel := newSelection(twoPages())
			_, err := sel.Load(ctx)
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			var duplicates atomic.Int32
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					snap, err := sel.Select(ctx, "p1")
					Expect(err).NotTo(HaveOccurred())
					if snap.Duplicate {
						duplicates.Add(1)
					}
				}()
			}
			wg.Wait()

			Expect(saver.Calls()).To(Equal(1))
			Expect(duplicates.Load()).To(Equal(int32(1)))
			Expect(sel.State()).To(Equal(integration.SelectionCommitted))
		})

		It("ignores a later select for a different candidate", func() {
			sel := newSelection(twoPages())
			_, _ = sel.Load(ctx)

			_, err := sel.Select(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())

			snap, err := sel.Select(ctx, "p2")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Duplicate).To(BeTrue())
			Expect(snap.ChosenPageID).To(Equal("p1"))
			Expect(saver.Calls()).To(Equal(1))
		})

		It("rejects selects before candidates are loaded", func() {
			_, err := newSelection(twoPages()).Select(ctx, "p1")
			Expect(err).To(MatchError(integration.ErrSelectionNotReady))
		})

		It("rejects unknown candidates without consuming the selection", func() {
			sel := newSelection(twoPages())
			_, _ = sel.Load(ctx)

			_, err := sel.Select(ctx, "nope")
			Expect(err).To(MatchError(integration.ErrCandidateNotFound))
			Expect(sel.State()).To(Equal(integration.SelectionReady))
		})

		It("ends in CommitFailed when the save fails", func() {
			saver.saveFn = func(context.Context, model.Connection) (*model.Connection, error) {
				return nil, errors.New("db down")
			}
			sel := newSelection(twoPages())
			_, _ = sel.Load(ctx)

			snap, err := sel.Select(ctx, "p1")
			Expect(err).To(MatchError(integration.ErrCommitFailed))
			Expect(snap.State).To(Equal(integration.SelectionCommitFailed))

			snap, err = sel.Select(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Duplicate).To(BeTrue())
			Expect(saver.Calls()).To(Equal(1))
		})
	})

	Describe("Cancel", func() {
		It("is terminal and distinct from failure", func() {
			sel := newSelection(twoPages())
			_, _ = sel.Load(ctx)

			snap, err := sel.Cancel()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(integration.SelectionCancelled))
			Expect(snap.ErrorCode).To(Equal("cancelled"))

			_, err = sel.Select(ctx, "p1")
			Expect(err).To(MatchError(integration.ErrCancelled))
			_, err = sel.Load(ctx)
			Expect(err).To(MatchError(integration.ErrCancelled))
			Expect(saver.Calls()).To(BeZero())
		})

		It("wins over a load still in flight", func() {
			release := make(chan struct{})
			fetcher.getAccountProfileFn = func(_ context.Context, accountID, _ string) (*model.AccountProfile, error) {
				<-release
				return &model.AccountProfile{ID: accountID}, nil
			}
			sel := newSelection(twoPages())

			done := make(chan error, 1)
			go func() {
				_, err := sel.Load(ctx)
				done <- err
			}()

			Eventually(sel.State).Should(Equal(integration.SelectionLoading))
			_, err := sel.Cancel()
			Expect(err).NotTo(HaveOccurred())
			close(release)

			Eventually(done).Should(Receive(MatchError(integration.ErrCancelled)))
			Expect(sel.State()).To(Equal(integration.SelectionCancelled))
		})

		It("is refused once an account was chosen", func() {
			sel := newSelection(twoPages())
			_, _ = sel.Load(ctx)
			_, _ = sel.Select(ctx, "p1")

			_, err := sel.Cancel()
			Expect(err).To(MatchError(integration.ErrSelectionClosed))
			Expect(sel.State()).To(Equal(integration.SelectionCommitted))
		})
	})
})

var _ = Describe("SelectionRegistry", func() {
	It("evicts selections after their TTL", func() {
		now := time.Now()
		registry := integration.NewSelectionRegistry(time.Minute).WithClock(func() time.Time { return now })
		sel := integration.NewSelection(integration.SelectionParams{ClientID: "c1", Pages: twoPages()}, &mockFetcher{}, &mockSaver{})
		registry.Put(sel)

		got, err := registry.Get(sel.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(sel))

		now = now.Add(2 * time.Minute)
		_, err = registry.Get(sel.ID())
		Expect(err).To(MatchError(integration.ErrSelectionNotFound))
	})

	It("drops finished selections shortly after they settle", func() {
		now := time.Now()
		registry := integration.NewSelectionRegistry(time.Hour).WithClock(func() time.Time { return now })
		live := integration.NewSelection(integration.SelectionParams{ClientID: "c1", Pages: twoPages()}, &mockFetcher{}, &mockSaver{})
		cancelled := integration.NewSelection(integration.SelectionParams{ClientID: "c2", Pages: twoPages()}, &mockFetcher{}, &mockSaver{})
		registry.Put(live)
		registry.Put(cancelled)

		_, err := cancelled.Cancel()
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.Finished()).To(BeTrue())
		Expect(live.Finished()).To(BeFalse())

		_, err = registry.Get(cancelled.ID())
		Expect(err).NotTo(HaveOccurred())

		now = now.Add(2 * time.Minute)
		_, err = registry.Get(cancelled.ID())
		Expect(err).To(MatchError(integration.ErrSelectionNotFound))

		got, err := registry.Get(live.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(live))
	})
})

var _ = Describe("Selection against the Graph API", func() {
	It("presents exactly the candidate whose fetch succeeded (scenario C)", func() {
		ctx := context.Background()
		srv := graphtest.NewServer()
		DeferCleanup(srv.Close)

		srv.Codes["abc123"] = "short-1"
		srv.LongLived["short-1"] = graphtest.LongLived{Token: "long-1", ExpiresIn: 5184000}
		srv.Pages["long-1"] = []graphtest.Page{
			{ID: "p1", Name: "No IG", AccessToken: "pt1"},
			{ID: "p2", Name: "Broken", AccessToken: "pt2", BusinessAccountID: "ig2"},
			{ID: "p3", Name: "Good", AccessToken: "pt3", BusinessAccountID: "ig3"},
		}
		srv.FailProfile["ig2"] = http.StatusInternalServerError
		srv.Profiles["ig3"] = graphtest.Profile{ID: "ig3", Username: "carol"}

		client := graph.NewClient(graph.Config{
			AppID: srv.AppID, AppSecret: srv.AppSecret,
			BaseURL: srv.URL, Version: graphtest.Version, Timeout: 2 * time.Second,
		}, srv.Client())

		saver := &mockSaver{}
		states := oauthstate.NewMemoryStore()
		svc := integration.NewInstagramService(client, saver, states, handoff.NewMemoryBroker(time.Minute),
			integration.NewSelectionRegistry(time.Minute), integration.InstagramConfig{
				RedirectURI: redirectURI, SentinelTTL: time.Hour, StateTTL: time.Minute,
				WaitTimeout: time.Second, FetchConcurrency: 2,
			})

		auth, err := svc.BeginAuthorization(ctx, "c1")
		Expect(err).NotTo(HaveOccurred())

		result, err := svc.HandleCallback(ctx, integration.CallbackParams{State: auth.State, Code: "abc123"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Selection).NotTo(BeNil())

		snap, err := result.Selection.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Candidates).To(HaveLen(1))
		Expect(snap.Candidates[0].Page.ID).To(Equal("p3"))
		Expect(snap.Candidates[0].Profile.Username).To(Equal("carol"))

		snap, err = result.Selection.Select(ctx, "p3")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.State).To(Equal(integration.SelectionCommitted))
		Expect(saver.Calls()).To(Equal(1))
	})
})
