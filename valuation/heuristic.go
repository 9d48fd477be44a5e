/*
Package valuation supplies point costs for books.

PURPOSE:
  The exchange core treats valuation as an opaque integer input bounded
  to [5,20]. Upstream, an AI-assisted valuer prices listings; this
  package provides the deterministic heuristic used when that valuer is
  unavailable, plus the provider contract the core consumes.

DETERMINISM:
  The heuristic is a pure function of the book's attributes. The same
  book always prices to the same integer, so a retry after a provider
  outage cannot change an already-snapshotted exchange - the core
  snapshots PointsUsed at request time anyway, but determinism keeps
  the cached value stable too.

WEIGHTS:
  Title length and author presence stand in for the richer metadata the
  AI valuer sees (condition, demand, wishlist count). Weighted with
  decimal arithmetic and clamped into [MinPoints, MaxPoints].
*/
package valuation

import (
	"context"
	"hash/fnv"

	"github.com/shopspring/decimal"

	"github.com/pageturn/bookswap/exchange"
)

// Provider bounds: every valuation lands in [MinPoints, MaxPoints].
const (
	MinPoints = 5
	MaxPoints = 20
)

var (
	weightBase   = decimal.NewFromInt(8)
	weightTitle  = decimal.NewFromFloat(0.15) // per title character, capped
	weightAuthor = decimal.NewFromInt(2)      // attributed books price higher
	weightSpread = decimal.NewFromInt(6)      // deterministic per-book spread
)

// Heuristic is the deterministic fallback valuer.
type Heuristic struct{}

var _ exchange.ValuationProvider = Heuristic{}

// GetCurrentPoints prices a book from its attributes. Never fails.
func (Heuristic) GetCurrentPoints(_ context.Context, book *exchange.Book) (int, error) {
	points := weightBase

	titleLen := len(book.Title)
	if titleLen > 40 {
		titleLen = 40
	}
	points = points.Add(weightTitle.Mul(decimal.NewFromInt(int64(titleLen))))

	if book.Author != "" {
		points = points.Add(weightAuthor)
	}

	// Per-book spread keyed off the permanent ID, so two otherwise
	// identical listings don't all price identically.
	points = points.Add(weightSpread.Mul(spread(string(book.ID))))

	return clamp(points), nil
}

// spread maps an ID to a stable fraction in [0,1).
func spread(id string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(id))
	return decimal.NewFromInt(int64(h.Sum32() % 100)).Div(decimal.NewFromInt(100))
}

func clamp(d decimal.Decimal) int {
	n := int(d.Round(0).IntPart())
	if n < MinPoints {
		return MinPoints
	}
	if n > MaxPoints {
		return MaxPoints
	}
	return n
}

// Fixed returns a provider that always prices at n. Useful in tests and
// for pinning demo data.
func Fixed(n int) exchange.ValuationProvider {
	return fixed(n)
}

type fixed int

func (f fixed) GetCurrentPoints(context.Context, *exchange.Book) (int, error) {
	return int(f), nil
}
