package pricefeed

import "context"

// Quote is a raw reading in the feed's own fixed-point scale: the real price is
// Price * 10^Expo, and Conf shares that scale.
type Quote struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// Source loads the current quote for a single configured feed.
type Source interface {
	Name() string
	LatestQuote(ctx context.Context) (Quote, error)
}
