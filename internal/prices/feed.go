package prices

import (
	"context"
	"fmt"

	"github.com/argenta/argenta-backend/internal/oracle"
)

// DefaultFeedDecimals matches the usual USD aggregator precision.
const DefaultFeedDecimals = 8

// FeedSource exposes one provider symbol as an oracle feed with a fixed
// number of decimals, the way an on-chain aggregator reports answers.
type FeedSource struct {
	provider Provider
	symbol   string
	decimals uint8
}

func NewFeedSource(provider Provider, symbol string, decimals uint8) *FeedSource {
	return &FeedSource{provider: provider, symbol: symbol, decimals: decimals}
}

func (f *FeedSource) Decimals() uint8 { return f.decimals }

func (f *FeedSource) Description() string {
	return fmt.Sprintf("%s:%s", f.provider.Name(), f.symbol)
}

// LatestRound truncates the quote to the feed's decimals.
func (f *FeedSource) LatestRound(ctx context.Context) (oracle.Round, error) {
	q, err := f.provider.Quote(ctx, f.symbol)
	if err != nil {
		return oracle.Round{}, err
	}
	answer := q.Price.Shift(int32(f.decimals)).Truncate(0).BigInt()
	return oracle.Round{Answer: answer, UpdatedAt: q.Time}, nil
}
