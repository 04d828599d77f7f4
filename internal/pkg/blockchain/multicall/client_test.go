package multicall

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewClientLoadsABI(t *testing.T) {
	addr := common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	client, err := NewClient(nil, addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Address() != addr {
		t.Errorf("Address() = %v, want %v", client.Address(), addr)
	}
}

func TestExecuteEmptyBatch(t *testing.T) {
	client, err := NewClient(nil, common.Address{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	// An empty batch never touches the RPC client.
	results, err := client.Execute(context.Background(), nil, big.NewInt(1))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Execute() returned %d results, want 0", len(results))
	}
}

func TestBlockNumberString(t *testing.T) {
	if got := blockNumberString(nil); got != "latest" {
		t.Errorf("blockNumberString(nil) = %q, want %q", got, "latest")
	}
	if got := blockNumberString(big.NewInt(123)); got != "123" {
		t.Errorf("blockNumberString(123) = %q, want %q", got, "123")
	}
}
