package valuation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageturn/bookswap/exchange"
	"github.com/pageturn/bookswap/valuation"
)

func price(t *testing.T, book exchange.Book) int {
	t.Helper()
	pts, err := valuation.Heuristic{}.GetCurrentPoints(context.Background(), &book)
	require.NoError(t, err)
	return pts
}

func TestHeuristic_AlwaysWithinBounds(t *testing.T) {
	// GIVEN: books across the attribute extremes
	// WHEN: priced by the heuristic
	// THEN: every valuation lands in [MinPoints, MaxPoints]

	books := []exchange.Book{
		{ID: "a", Title: ""},
		{ID: "b", Title: "x"},
		{ID: "c", Title: "An Exceptionally Long Title That Goes On And On Forever", Author: "Someone"},
		{ID: "d", Title: "Dune", Author: "Frank Herbert"},
	}
	for _, b := range books {
		pts := price(t, b)
		assert.GreaterOrEqual(t, pts, valuation.MinPoints, "book %s", b.ID)
		assert.LessOrEqual(t, pts, valuation.MaxPoints, "book %s", b.ID)
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	// GIVEN: the same book priced twice
	// THEN: identical valuations - retries can't reprice a listing

	book := exchange.Book{ID: "dune", Title: "Dune", Author: "Frank Herbert"}
	assert.Equal(t, price(t, book), price(t, book))
}

func TestHeuristic_AttributionRaisesPrice(t *testing.T) {
	anonymous := exchange.Book{ID: "same-id", Title: "Collected Essays"}
	attributed := exchange.Book{ID: "same-id", Title: "Collected Essays", Author: "M. Author"}

	assert.GreaterOrEqual(t, price(t, attributed), price(t, anonymous))
}

func TestFixed_PinsValuation(t *testing.T) {
	pts, err := valuation.Fixed(12).GetCurrentPoints(context.Background(), &exchange.Book{ID: "any"})
	require.NoError(t, err)
	assert.Equal(t, 12, pts)
}
