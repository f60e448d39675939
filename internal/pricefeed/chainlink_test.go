package pricefeed

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	decimals      uint8
	answer        *big.Int
	updatedAt     *big.Int
	decimalsCalls int
}

func (f *fakeAggregator) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case bytes.HasPrefix(msg.Data, aggregatorV3ABI.Methods["decimals"].ID):
		f.decimalsCalls++
		return aggregatorV3ABI.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.HasPrefix(msg.Data, aggregatorV3ABI.Methods["latestRoundData"].ID):
		return aggregatorV3ABI.Methods["latestRoundData"].Outputs.Pack(
			big.NewInt(7), f.answer, big.NewInt(0), f.updatedAt, big.NewInt(7),
		)
	}
	return nil, errors.New("unknown selector")
}

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	_, err := c.LatestQuote(context.Background())
	require.Error(t, err, "missing feed address should fail")

	c = NewChainlink(ChainlinkOptions{FeedAddress: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"}, noopLogger())
	_, err = c.LatestQuote(context.Background())
	require.Error(t, err, "missing rpc url should fail")
}

func TestChainlinkLatestQuote(t *testing.T) {
	agg := &fakeAggregator{decimals: 8, answer: big.NewInt(6_500_000_000_000), updatedAt: big.NewInt(1700000000)}
	c := NewChainlinkWithCaller(ChainlinkOptions{FeedAddress: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"}, agg, noopLogger())

	q, err := c.LatestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, Quote{Price: 6_500_000_000_000, Conf: 0, Expo: -8, PublishTime: 1700000000}, q)

	_, err = c.LatestQuote(context.Background())
	require.NoError(t, err, "second read")
	require.Equal(t, 1, agg.decimalsCalls, "decimals should be cached")
}

func TestChainlinkAnswerOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	agg := &fakeAggregator{decimals: 8, answer: huge, updatedAt: big.NewInt(1)}
	c := NewChainlinkWithCaller(ChainlinkOptions{FeedAddress: "0x01"}, agg, noopLogger())
	_, err := c.LatestQuote(context.Background())
	require.Error(t, err, "answer beyond int64 should fail")
}
