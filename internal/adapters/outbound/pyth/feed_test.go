package pyth

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/paymaster-oracle/internal/pkg/blockchain/abis"
	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
	"github.com/archon-research/paymaster-oracle/internal/testutil"
)

var pythAddr = common.HexToAddress("0x4305FB66699C3B2702D4d05CF36551390A4c69C6")

// mockSender implements outbound.TxSender.
type mockSender struct {
	mu       sync.Mutex
	sendFn   func(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	calls    int
	lastTo   common.Address
	lastFee  *big.Int
	lastData []byte
}

func (m *mockSender) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	m.mu.Lock()
	m.calls++
	m.lastTo = to
	m.lastFee = value
	m.lastData = data
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, to, value, data)
	}
	return common.Hash{0x01}, nil
}

func packPriceOutput(t *testing.T, price int64, conf uint64, expo int32, publishTime uint64) []byte {
	t.Helper()
	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("GetPythABI() error = %v", err)
	}
	data, err := pythABI.Methods["getPriceUnsafe"].Outputs.Pack(struct {
		Price       int64
		Conf        uint64
		Expo        int32
		PublishTime *big.Int
	}{price, conf, expo, new(big.Int).SetUint64(publishTime)})
	if err != nil {
		t.Fatalf("packing output: %v", err)
	}
	return data
}

func packFeeOutput(t *testing.T, fee int64) []byte {
	t.Helper()
	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("GetPythABI() error = %v", err)
	}
	data, err := pythABI.Methods["getUpdateFee"].Outputs.Pack(big.NewInt(fee))
	if err != nil {
		t.Fatalf("packing fee output: %v", err)
	}
	return data
}

func newFeed(t *testing.T, mc outbound.Multicaller, sender outbound.TxSender) *Feed {
	t.Helper()
	feed, err := NewFeed(Config{ContractAddress: pythAddr, Logger: testutil.DiscardLogger()}, mc, sender)
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	return feed
}

func TestNewFeedValidation(t *testing.T) {
	mc := testutil.NewMockMulticaller()

	if _, err := NewFeed(Config{ContractAddress: pythAddr}, nil, nil); err == nil {
		t.Error("NewFeed() with nil multicaller: error = nil, want error")
	}
	if _, err := NewFeed(Config{}, mc, nil); err == nil {
		t.Error("NewFeed() with zero contract address: error = nil, want error")
	}
	if _, err := NewFeed(Config{ContractAddress: pythAddr}, mc, nil); err != nil {
		t.Errorf("NewFeed() read-only: error = %v, want nil", err)
	}
}

func TestFetchLatest(t *testing.T) {
	mc := testutil.NewMockMulticaller()
	mc.ExecuteFn = func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
		if calls[0].Target != pythAddr {
			t.Errorf("call target = %v, want %v", calls[0].Target, pythAddr)
		}
		return []outbound.Result{
			{Success: true, ReturnData: packPriceOutput(t, 250000000000, 120000000, -8, 1700000000)},
		}, nil
	}

	quote, err := newFeed(t, mc, nil).FetchLatest(context.Background(), [32]byte{0xaa})
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if quote.Price != 250000000000 || quote.Conf != 120000000 || quote.Expo != -8 || quote.PublishTime != 1700000000 {
		t.Errorf("FetchLatest() = %+v", quote)
	}
}

func TestFetchLatestUnavailable(t *testing.T) {
	reverted := testutil.NewMockMulticaller()
	reverted.ExecuteFn = func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
		return []outbound.Result{{Success: false}}, nil
	}
	if _, err := newFeed(t, reverted, nil).FetchLatest(context.Background(), [32]byte{0xaa}); !errors.Is(err, outbound.ErrFeedUnavailable) {
		t.Errorf("FetchLatest() on reverted call: error = %v, want ErrFeedUnavailable", err)
	}

	down := testutil.NewMockMulticaller()
	down.ExecuteFn = func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
		return nil, errors.New("rpc down")
	}
	if _, err := newFeed(t, down, nil).FetchLatest(context.Background(), [32]byte{0xaa}); !errors.Is(err, outbound.ErrFeedUnavailable) {
		t.Errorf("FetchLatest() on rpc failure: error = %v, want ErrFeedUnavailable", err)
	}
}

func TestUpdateFee(t *testing.T) {
	mc := testutil.NewMockMulticaller()
	mc.ExecuteFn = func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
		return []outbound.Result{{Success: true, ReturnData: packFeeOutput(t, 7)}}, nil
	}

	fee, err := newFeed(t, mc, nil).UpdateFee(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("UpdateFee() error = %v", err)
	}
	if fee.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("UpdateFee() = %s, want 7", fee)
	}
}

func TestSubmitUpdate(t *testing.T) {
	sender := &mockSender{}
	feed := newFeed(t, testutil.NewMockMulticaller(), sender)

	fee := big.NewInt(7)
	if err := feed.SubmitUpdate(context.Background(), [][]byte{{0x01, 0x02}}, fee); err != nil {
		t.Fatalf("SubmitUpdate() error = %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("Send calls = %d, want 1", sender.calls)
	}
	if sender.lastTo != pythAddr {
		t.Errorf("Send target = %v, want %v", sender.lastTo, pythAddr)
	}
	if sender.lastFee.Cmp(fee) != 0 {
		t.Errorf("Send value = %s, want %s", sender.lastFee, fee)
	}
	if len(sender.lastData) == 0 {
		t.Error("Send data is empty")
	}
}

func TestSubmitUpdateWithoutSender(t *testing.T) {
	feed := newFeed(t, testutil.NewMockMulticaller(), nil)

	if err := feed.SubmitUpdate(context.Background(), [][]byte{{0x01}}, big.NewInt(1)); err == nil {
		t.Error("SubmitUpdate() without sender: error = nil, want error")
	}
}
