package blockchain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestParseMarketCreated(t *testing.T) {
	factory := NewBTCFactory(nil, "0xfac7000000000000000000000000000000000001")
	topic := factoryABI.Events["MarketCreated"].ID

	id, err := factory.parseMarketCreated([]*types.Log{
		{
			Address: factory.address,
			Topics:  []common.Hash{topic, common.BigToHash(big.NewInt(42))},
		},
	})
	if err != nil {
		t.Fatalf("parseMarketCreated failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected market id 42, got %d", id)
	}
}

func TestParseMarketCreatedSkipsForeignLogs(t *testing.T) {
	factory := NewBTCFactory(nil, "0xfac7000000000000000000000000000000000001")
	topic := factoryABI.Events["MarketCreated"].ID
	other := common.HexToAddress("0xdead000000000000000000000000000000000002")

	// The matching log is buried behind logs from another contract, a log
	// with too few topics, and a log with a different event signature.
	id, err := factory.parseMarketCreated([]*types.Log{
		{
			Address: other,
			Topics:  []common.Hash{topic, common.BigToHash(big.NewInt(999))},
		},
		{
			Address: factory.address,
			Topics:  []common.Hash{topic},
		},
		{
			Address: factory.address,
			Topics:  []common.Hash{common.HexToHash("0x01"), common.BigToHash(big.NewInt(999))},
		},
		{
			Address: factory.address,
			Topics:  []common.Hash{topic, common.BigToHash(big.NewInt(7))},
		},
	})
	if err != nil {
		t.Fatalf("parseMarketCreated failed: %v", err)
	}
	if id != 7 {
		t.Errorf("expected market id 7, got %d", id)
	}
}

func TestParseMarketCreatedNoMatch(t *testing.T) {
	factory := NewBTCFactory(nil, "0xfac7000000000000000000000000000000000001")

	if _, err := factory.parseMarketCreated(nil); err == nil {
		t.Fatal("expected error for empty log set")
	}

	_, err := factory.parseMarketCreated([]*types.Log{
		{
			Address: common.HexToAddress("0xdead000000000000000000000000000000000002"),
			Topics:  []common.Hash{factoryABI.Events["MarketCreated"].ID, common.BigToHash(big.NewInt(1))},
		},
	})
	if err == nil {
		t.Fatal("expected error when only foreign logs are present")
	}
	if !strings.Contains(err.Error(), "no MarketCreated event") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFallbackMarketID(t *testing.T) {
	tests := []struct {
		count   int64
		want    int64
		wantErr bool
	}{
		{count: 0, wantErr: true},
		{count: 1, want: 0},
		{count: 5, want: 4},
	}

	for _, tc := range tests {
		got, err := fallbackMarketID(tc.count)
		if tc.wantErr {
			if err == nil {
				t.Errorf("count %d: expected error", tc.count)
			}
			continue
		}
		if err != nil {
			t.Errorf("count %d: unexpected error %v", tc.count, err)
			continue
		}
		if got != tc.want {
			t.Errorf("count %d: expected id %d, got %d", tc.count, tc.want, got)
		}
	}
}
