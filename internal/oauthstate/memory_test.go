package oauthstate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"postdeck.app/connect/internal/oauthstate"
)

var _ = Describe("MemoryStore", func() {
	var (
		store *oauthstate.MemoryStore
		now   time.Time
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store = oauthstate.NewMemoryStore().WithClock(func() time.Time { return now })
	})

	It("returns the pending entry once", func() {
		Expect(store.Save(ctx, oauthstate.PendingAuth{State: "s1", ClientID: "c1"}, time.Minute)).To(Succeed())

		pending, err := store.Consume(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.ClientID).To(Equal("c1"))

		_, err = store.Consume(ctx, "s1")
		Expect(err).To(MatchError(oauthstate.ErrUnknownState))
	})

	It("rejects expired states", func() {
		Expect(store.Save(ctx, oauthstate.PendingAuth{State: "s1", ClientID: "c1"}, time.Minute)).To(Succeed())
		now = now.Add(2 * time.Minute)

		_, err := store.Consume(ctx, "s1")
		Expect(err).To(MatchError(oauthstate.ErrUnknownState))
	})

	It("lets exactly one of many concurrent consumers win", func() {
		Expect(store.Save(ctx, oauthstate.PendingAuth{State: "s1", ClientID: "c1"}, time.Minute)).To(Succeed())

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Consume(ctx, "s1"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		Expect(wins.Load()).To(Equal(int32(1)))
	})
})

var _ = Describe("NewState", func() {
	It("produces distinct url-safe values", func() {
		a, err := oauthstate.NewState()
		Expect(err).NotTo(HaveOccurred())
		b, err := oauthstate.NewState()
		Expect(err).NotTo(HaveOccurred())

		Expect(a).NotTo(Equal(b))
		Expect(a).To(MatchRegexp(`^[A-Za-z0-9_-]{43}$`))
	})
})
