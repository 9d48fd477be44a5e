package exchange_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageturn/bookswap/exchange"
	"github.com/pageturn/bookswap/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func intPtr(n int) *int { return &n }

// newFixture seeds two users and one listed book:
//
//	alice owns "Dune" (valuation 10), bob holds 15 points.
func newFixture() (*memory.Memory, *exchange.Policy) {
	store := memory.New()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 0})
	store.PutUser(exchange.User{ID: "bob", Name: "Bob", Balance: 15})
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", Author: "Frank Herbert",
		OwnerID: "alice", Available: true, ComputedPoints: intPtr(10),
	})
	return store, &exchange.Policy{Store: store}
}

func reasonOf(t *testing.T, err error) exchange.AdmissionReason {
	t.Helper()
	var adm *exchange.AdmissionError
	require.ErrorAs(t, err, &adm)
	return adm.Reason
}

// =============================================================================
// PER-CHECK FAILURES
// =============================================================================

func TestAdmission_Unauthenticated(t *testing.T) {
	// GIVEN: no acting user
	// WHEN: requesting an exchange
	// THEN: refused before the book is even loaded

	_, policy := newFixture()

	_, err := policy.Admit(context.Background(), "dune", "")
	assert.Equal(t, exchange.Unauthenticated, reasonOf(t, err))
}

func TestAdmission_BookNotFound(t *testing.T) {
	_, policy := newFixture()

	_, err := policy.Admit(context.Background(), "no-such-book", "bob")
	assert.Equal(t, exchange.BookNotFound, reasonOf(t, err))
}

func TestAdmission_SelfExchangeForbidden(t *testing.T) {
	// GIVEN: alice owns the book and has plenty of points
	// WHEN: alice requests her own book
	// THEN: refused regardless of balance or availability

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 100})

	_, err := policy.Admit(context.Background(), "dune", "alice")
	assert.Equal(t, exchange.SelfExchangeForbidden, reasonOf(t, err))
}

func TestAdmission_BookUnavailable(t *testing.T) {
	store, policy := newFixture()
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "alice",
		Available: false, ComputedPoints: intPtr(10),
	})

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.BookUnavailable, reasonOf(t, err))
}

func TestAdmission_ActiveExchangeExists(t *testing.T) {
	// GIVEN: carol already has a pending request for the book
	// WHEN: bob requests it too
	// THEN: refused - one active exchange per book

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "carol", Name: "Carol", Balance: 20})
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-1", BookID: "dune", FromUserID: "alice", ToUserID: "carol",
		PointsUsed: 10, Status: exchange.StatusRequested, CreatedAt: time.Now(),
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.ActiveExchangeExists, reasonOf(t, err))
}

func TestAdmission_InsufficientPoints(t *testing.T) {
	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "bob", Name: "Bob", Balance: 9})

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.InsufficientPoints, reasonOf(t, err))
}

func TestAdmission_FallbackPointsWhenUncomputed(t *testing.T) {
	// GIVEN: the book has no cached valuation and no provider
	// WHEN: admission resolves the snapshot
	// THEN: the DefaultPoints fallback is used

	store, policy := newFixture()
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "alice", Available: true,
	})

	verdict, err := policy.Admit(context.Background(), "dune", "bob")
	require.NoError(t, err)
	assert.Equal(t, exchange.DefaultPoints, verdict.Points)
}

// =============================================================================
// ANTI-ABUSE CHECKS
// =============================================================================

func TestAdmission_RepeatExchangeBlocked_WithinWindow(t *testing.T) {
	// GIVEN: alice already traded to bob three days ago
	// WHEN: bob requests another of alice's books inside the 7-day window
	// THEN: refused - same ordered pair cooldown

	store, policy := newFixture()
	threeDaysAgo := time.Now().UTC().Add(-3 * 24 * time.Hour)
	completed := threeDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 8, Status: exchange.StatusCompleted,
		CreatedAt: threeDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.RepeatExchangeBlocked, reasonOf(t, err))
}

func TestAdmission_RepeatExchange_AllowedAfterWindow(t *testing.T) {
	// GIVEN: the same pair traded, but longer ago than the window
	// WHEN: bob requests again
	// THEN: admitted

	store, policy := newFixture()
	tenDaysAgo := time.Now().UTC().Add(-10 * 24 * time.Hour)
	completed := tenDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 8, Status: exchange.StatusCompleted,
		CreatedAt: tenDaysAgo, CompletedAt: &completed,
	}))

	verdict, err := policy.Admit(context.Background(), "dune", "bob")
	require.NoError(t, err)
	assert.Equal(t, 10, verdict.Points)
}

func TestAdmission_RepeatExchange_OppositeDirectionNotBlocked(t *testing.T) {
	// GIVEN: bob traded TO alice recently (bob was the owner)
	// WHEN: bob requests one of alice's books
	// THEN: the ordered-pair check does not fire; the direction differs

	store, policy := newFixture()
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	completed := yesterday.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "bob", ToUserID: "alice",
		PointsUsed: 8, Status: exchange.StatusCompleted,
		CreatedAt: yesterday, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.NoError(t, err)
}

func TestAdmission_RepeatExchange_DisputedHistoryStillBlocks(t *testing.T) {
	// GIVEN: a DISPUTED trade between the pair inside the window; the
	//        dispute froze the record but the settlement stands
	// WHEN: bob requests another of alice's books
	// THEN: refused - disputing a trade must not reopen the cooldown

	store, policy := newFixture()
	twoDaysAgo := time.Now().UTC().Add(-2 * 24 * time.Hour)
	completed := twoDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 8, Status: exchange.StatusDisputed,
		DisputeReason: "wrong edition",
		CreatedAt:     twoDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.RepeatExchangeBlocked, reasonOf(t, err))
}

func TestAdmission_RepeatExchange_SettledInsideWindowCounts(t *testing.T) {
	// GIVEN: a trade created before the window cutoff but completed
	//        inside it
	// WHEN: bob requests another of alice's books
	// THEN: refused - the window is measured against creation AND
	//       settlement, so a slow approval cannot dodge the cooldown

	store, policy := newFixture()
	nineDaysAgo := time.Now().UTC().Add(-9 * 24 * time.Hour)
	completed := time.Now().UTC().Add(-5 * 24 * time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 8, Status: exchange.StatusCompleted,
		CreatedAt: nineDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.Equal(t, exchange.RepeatExchangeBlocked, reasonOf(t, err))
}

func TestAdmission_RejectedHistoryDoesNotBlock(t *testing.T) {
	// GIVEN: a REJECTED exchange between the pair inside the window
	// WHEN: bob requests again
	// THEN: admitted - only settled or active records count

	store, policy := newFixture()
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "other-book", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 8, Status: exchange.StatusRejected, CreatedAt: yesterday,
	}))

	_, err := policy.Admit(context.Background(), "dune", "bob")
	assert.NoError(t, err)
}

func TestAdmission_CircularExchangeBlocked(t *testing.T) {
	// GIVEN: bob acquired "dune" FROM alice two days ago, so bob now owns it
	// WHEN: alice requests dune back inside the window
	// THEN: refused - completing it would close the A->B->A loop

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 50})
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "bob", Available: true,
		ComputedPoints: intPtr(10),
	})
	twoDaysAgo := time.Now().UTC().Add(-2 * 24 * time.Hour)
	completed := twoDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "dune", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 10, Status: exchange.StatusCompleted,
		CreatedAt: twoDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "alice")
	assert.Equal(t, exchange.CircularExchangeBlocked, reasonOf(t, err))
}

func TestAdmission_Circular_DisputedAcquisitionStillBlocks(t *testing.T) {
	// GIVEN: bob's acquisition of dune from alice was disputed; points
	//        and ownership were not reverted
	// WHEN: alice requests dune back inside the window
	// THEN: refused - the frozen settlement still closes the loop

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 50})
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "bob", Available: true,
		ComputedPoints: intPtr(10),
	})
	twoDaysAgo := time.Now().UTC().Add(-2 * 24 * time.Hour)
	completed := twoDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "dune", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 10, Status: exchange.StatusDisputed,
		DisputeReason: "pages are missing",
		CreatedAt:     twoDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "alice")
	assert.Equal(t, exchange.CircularExchangeBlocked, reasonOf(t, err))
}

func TestAdmission_CircularAllowedAfterWindow(t *testing.T) {
	// GIVEN: the same reversal pattern, but outside the window
	// WHEN: alice requests dune back
	// THEN: admitted

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 50})
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "bob", Available: true,
		ComputedPoints: intPtr(10),
	})
	twelveDaysAgo := time.Now().UTC().Add(-12 * 24 * time.Hour)
	completed := twelveDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "dune", FromUserID: "alice", ToUserID: "bob",
		PointsUsed: 10, Status: exchange.StatusCompleted,
		CreatedAt: twelveDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "alice")
	assert.NoError(t, err)
}

func TestAdmission_ThirdPartyAcquisitionNotCircular(t *testing.T) {
	// GIVEN: bob acquired dune from CAROL (not from the requester)
	// WHEN: alice requests dune
	// THEN: admitted - the loop only closes when the prior seller is the
	//       requester

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "alice", Name: "Alice", Balance: 50})
	store.PutUser(exchange.User{ID: "carol", Name: "Carol", Balance: 5})
	store.PutBook(exchange.Book{
		ID: "dune", Title: "Dune", OwnerID: "bob", Available: true,
		ComputedPoints: intPtr(10),
	})
	twoDaysAgo := time.Now().UTC().Add(-2 * 24 * time.Hour)
	completed := twoDaysAgo.Add(time.Hour)
	require.NoError(t, store.CreateExchange(context.Background(), &exchange.Exchange{
		ID: "ex-old", BookID: "dune", FromUserID: "carol", ToUserID: "bob",
		PointsUsed: 10, Status: exchange.StatusCompleted,
		CreatedAt: twoDaysAgo, CompletedAt: &completed,
	}))

	_, err := policy.Admit(context.Background(), "dune", "alice")
	assert.NoError(t, err)
}

// =============================================================================
// VERDICT
// =============================================================================

func TestAdmission_VerdictCarriesValuationSnapshot(t *testing.T) {
	// GIVEN: all checks pass
	// WHEN: admission succeeds
	// THEN: the verdict carries the cached valuation for the service to
	//       stamp onto the new exchange

	_, policy := newFixture()

	verdict, err := policy.Admit(context.Background(), "dune", "bob")
	require.NoError(t, err)
	assert.Equal(t, 10, verdict.Points)
	assert.Equal(t, exchange.UserID("alice"), verdict.Book.OwnerID)
}

func TestAdmission_ReadOnly(t *testing.T) {
	// GIVEN: a refused admission (insufficient points)
	// WHEN: inspecting balances and the book afterwards
	// THEN: nothing changed - admission never mutates

	store, policy := newFixture()
	store.PutUser(exchange.User{ID: "bob", Name: "Bob", Balance: 3})

	_, err := policy.Admit(context.Background(), "dune", "bob")
	require.Error(t, err)

	balance, err := store.GetBalance(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, balance)

	book, err := store.GetBook(context.Background(), "dune")
	require.NoError(t, err)
	assert.Equal(t, exchange.UserID("alice"), book.OwnerID)
	assert.True(t, book.Available)
}
