package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain source.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// Chainlink reads an AggregatorV3 price feed via Ethereum RPC. Chainlink
// publishes no confidence interval, so quotes carry Conf 0.
type Chainlink struct {
	opts   ChainlinkOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	caller    ethereum.ContractCaller
	decimals  *uint8
}

// NewChainlink builds a Chainlink source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_source").Logger()}
}

// NewChainlinkWithCaller builds a source over an existing contract caller.
func NewChainlinkWithCaller(opts ChainlinkOptions, caller ethereum.ContractCaller, logger zerolog.Logger) *Chainlink {
	c := NewChainlink(opts, logger)
	c.caller = caller
	return c
}

// Name implements Source.
func (c *Chainlink) Name() string { return "chainlink" }

// LatestQuote reads latestRoundData and scales it by the feed's decimals.
func (c *Chainlink) LatestQuote(ctx context.Context) (Quote, error) {
	if c.opts.FeedAddress == "" {
		return Quote{}, errors.New("chainlink feed address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return Quote{}, err
	}
	addr := common.HexToAddress(c.opts.FeedAddress)

	decimals, err := c.feedDecimals(ctx, caller, addr)
	if err != nil {
		return Quote{}, err
	}

	outputs, err := c.call(ctx, caller, addr, "latestRoundData")
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData updatedAt")
	}
	if !answer.IsInt64() {
		return Quote{}, fmt.Errorf("answer %s exceeds int64", answer)
	}
	if !updatedAt.IsInt64() {
		return Quote{}, fmt.Errorf("updatedAt %s exceeds int64", updatedAt)
	}

	return Quote{
		Price:       answer.Int64(),
		Conf:        0,
		Expo:        -int32(decimals),
		PublishTime: updatedAt.Int64(),
	}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, caller ethereum.ContractCaller, addr common.Address) (uint8, error) {
	c.clientMux.Lock()
	cached := c.decimals
	c.clientMux.Unlock()
	if cached != nil {
		return *cached, nil
	}

	outputs, err := c.call(ctx, caller, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals = &decimals
	c.clientMux.Unlock()
	return decimals, nil
}

func (c *Chainlink) call(ctx context.Context, caller ethereum.ContractCaller, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (c *Chainlink) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ Source = (*Chainlink)(nil)
