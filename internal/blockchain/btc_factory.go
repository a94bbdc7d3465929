package blockchain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Gas limits (conservative upper bounds)
const (
	createMarketGasLimit  = uint64(500_000)
	resolveMarketGasLimit = uint64(200_000)
)

var factoryABI abi.ABI

func init() {
	var err error
	factoryABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "createMarket",
			"type": "function",
			"inputs": [
				{"name": "interval", "type": "uint256"},
				{"name": "startTime", "type": "uint256"},
				{"name": "startPrice", "type": "int256"}
			],
			"outputs": [{"name": "marketId", "type": "uint256"}]
		},
		{
			"name": "resolveMarket",
			"type": "function",
			"inputs": [
				{"name": "marketId", "type": "uint256"},
				{"name": "endPrice", "type": "int256"}
			],
			"outputs": []
		},
		{
			"name": "getMarket",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "marketId", "type": "uint256"}],
			"outputs": [
				{"name": "interval", "type": "uint256"},
				{"name": "startTime", "type": "uint256"},
				{"name": "endTime", "type": "uint256"},
				{"name": "startPrice", "type": "int256"},
				{"name": "endPrice", "type": "int256"},
				{"name": "resolved", "type": "bool"}
			]
		},
		{
			"name": "marketCount",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "MarketCreated",
			"type": "event",
			"inputs": [
				{"name": "marketId", "type": "uint256", "indexed": true},
				{"name": "interval", "type": "uint256", "indexed": false},
				{"name": "startTime", "type": "uint256", "indexed": false},
				{"name": "endTime", "type": "uint256", "indexed": false},
				{"name": "startPrice", "type": "int256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic(fmt.Sprintf("invalid factory ABI: %v", err))
	}
}

// OnChainMarket mirrors the factory's stored market struct.
type OnChainMarket struct {
	MarketID   int64
	Interval   int
	StartTime  time.Time
	EndTime    time.Time
	StartPrice *big.Int
	EndPrice   *big.Int
	Resolved   bool
}

// BTCFactory wraps the on-chain BTC market factory contract.
type BTCFactory struct {
	client  *Client
	address common.Address
}

// NewBTCFactory creates a factory wrapper for the deployed contract.
func NewBTCFactory(client *Client, factoryAddress string) *BTCFactory {
	return &BTCFactory{
		client:  client,
		address: common.HexToAddress(factoryAddress),
	}
}

// Address returns the factory contract address.
func (f *BTCFactory) Address() string {
	return f.address.Hex()
}

// CreateMarket deploys a new timed market and returns its on-chain id.
// The id is read from the MarketCreated event; if event parsing fails the
// factory's market count is queried and the last entry is taken instead.
func (f *BTCFactory) CreateMarket(ctx context.Context, interval int, startTime time.Time, startPrice *big.Int) (int64, error) {
	data, err := factoryABI.Pack("createMarket",
		big.NewInt(int64(interval)),
		big.NewInt(startTime.Unix()),
		startPrice,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to pack createMarket: %w", err)
	}

	txHash, err := f.client.SendTransaction(ctx, f.address, big.NewInt(0), data, createMarketGasLimit)
	if err != nil {
		return 0, fmt.Errorf("createMarket transaction failed: %w", err)
	}

	log.Printf("[BTCFactory] createMarket(%dm) sent: %s", interval, txHash.Hex())

	receipt, err := f.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("createMarket not confirmed: %w", err)
	}

	marketID, err := f.parseMarketCreated(receipt.Logs)
	if err == nil {
		return marketID, nil
	}

	// Fallback: the event could not be parsed, take the newest market from
	// the factory's full list.
	log.Printf("[BTCFactory] Event parse failed (%v), falling back to marketCount", err)
	count, err := f.MarketCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("marketCount fallback failed: %w", err)
	}
	return fallbackMarketID(count)
}

// fallbackMarketID maps the factory's market count to the id of the
// newest market (ids are assigned sequentially from zero).
func fallbackMarketID(count int64) (int64, error) {
	if count == 0 {
		return 0, fmt.Errorf("factory reports no markets after creation")
	}
	return count - 1, nil
}

// parseMarketCreated scans receipt logs for the MarketCreated event.
func (f *BTCFactory) parseMarketCreated(logs []*types.Log) (int64, error) {
	topic := factoryABI.Events["MarketCreated"].ID
	for _, l := range logs {
		if l.Address != f.address || len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64(), nil
	}
	return 0, fmt.Errorf("no MarketCreated event in %d logs", len(logs))
}

// ResolveMarket settles a market on-chain with the final price.
func (f *BTCFactory) ResolveMarket(ctx context.Context, marketID int64, endPrice *big.Int) error {
	data, err := factoryABI.Pack("resolveMarket", big.NewInt(marketID), endPrice)
	if err != nil {
		return fmt.Errorf("failed to pack resolveMarket: %w", err)
	}

	txHash, err := f.client.SendTransaction(ctx, f.address, big.NewInt(0), data, resolveMarketGasLimit)
	if err != nil {
		return fmt.Errorf("resolveMarket transaction failed: %w", err)
	}

	log.Printf("[BTCFactory] resolveMarket(%d) sent: %s", marketID, txHash.Hex())

	if _, err := f.client.WaitForReceipt(ctx, txHash); err != nil {
		return fmt.Errorf("resolveMarket not confirmed: %w", err)
	}
	return nil
}

// GetMarket reads a market's full details from the factory.
func (f *BTCFactory) GetMarket(ctx context.Context, marketID int64) (*OnChainMarket, error) {
	data, err := factoryABI.Pack("getMarket", big.NewInt(marketID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getMarket: %w", err)
	}

	out, err := f.client.CallContract(ctx, f.address, data)
	if err != nil {
		return nil, fmt.Errorf("getMarket call failed: %w", err)
	}

	results, err := factoryABI.Unpack("getMarket", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getMarket: %w", err)
	}
	if len(results) != 6 {
		return nil, fmt.Errorf("unexpected getMarket result arity %d", len(results))
	}

	return &OnChainMarket{
		MarketID:   marketID,
		Interval:   int(results[0].(*big.Int).Int64()),
		StartTime:  time.Unix(results[1].(*big.Int).Int64(), 0).UTC(),
		EndTime:    time.Unix(results[2].(*big.Int).Int64(), 0).UTC(),
		StartPrice: results[3].(*big.Int),
		EndPrice:   results[4].(*big.Int),
		Resolved:   results[5].(bool),
	}, nil
}

// MarketCount returns the number of markets the factory has created.
func (f *BTCFactory) MarketCount(ctx context.Context) (int64, error) {
	data, err := factoryABI.Pack("marketCount")
	if err != nil {
		return 0, fmt.Errorf("failed to pack marketCount: %w", err)
	}

	out, err := f.client.CallContract(ctx, f.address, data)
	if err != nil {
		return 0, fmt.Errorf("marketCount call failed: %w", err)
	}

	results, err := factoryABI.Unpack("marketCount", out)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack marketCount: %w", err)
	}
	return results[0].(*big.Int).Int64(), nil
}
