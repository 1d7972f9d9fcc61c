package ledger

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Well-known local development account, never funded on a real chain.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testContract   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func TestRegistryABI_Parses(t *testing.T) {
	parsed, err := registryABI()
	require.NoError(t, err)

	_, ok := parsed.Methods[methodRecordUsage]
	assert.True(t, ok)
	_, ok = parsed.Methods[methodLastSeenAt]
	assert.True(t, ok)
	_, ok = parsed.Events["UsageRecorded"]
	assert.True(t, ok)
}

func TestRegistryABI_Signatures(t *testing.T) {
	parsed, err := registryABI()
	require.NoError(t, err)

	record := parsed.Methods[methodRecordUsage]
	assert.Equal(t, "recordUsage(bytes32,uint256,bytes32,string)", record.Sig)
	assert.Equal(t, crypto.Keccak256([]byte(record.Sig))[:4], record.ID)

	lastSeen := parsed.Methods[methodLastSeenAt]
	assert.Equal(t, "lastSeenAt(bytes32)", lastSeen.Sig)

	event := parsed.Events["UsageRecorded"]
	assert.Equal(t,
		crypto.Keccak256Hash([]byte("UsageRecorded(address,bytes32,uint256,bytes32,string)")),
		event.ID)
}

func TestRegistryABI_PackRecordUsage(t *testing.T) {
	parsed, err := registryABI()
	require.NoError(t, err)

	var keyHash, reqHash [32]byte
	keyHash[0] = 0xAB
	reqHash[31] = 0xCD
	ts := big.NewInt(1755772800)

	data, err := parsed.Pack(methodRecordUsage, keyHash, ts, reqHash, "proxy:v1")
	require.NoError(t, err)

	method := parsed.Methods[methodRecordUsage]
	assert.Equal(t, []byte(method.ID), data[:4])

	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, keyHash, values[0].([32]byte))
	assert.Equal(t, 0, ts.Cmp(values[1].(*big.Int)))
	assert.Equal(t, reqHash, values[2].([32]byte))
	assert.Equal(t, "proxy:v1", values[3].(string))
}

func TestNew_RejectsBadContractAddress(t *testing.T) {
	_, err := New(context.Background(), Options{
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: "not-an-address",
		PrivateKey:      testPrivateKey,
		ChainID:         31337,
		ConfirmTimeout:  time.Minute,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid contract address")
}

func TestNew_RejectsBadPrivateKey(t *testing.T) {
	_, err := New(context.Background(), Options{
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: testContract,
		PrivateKey:      "zz",
		ChainID:         31337,
		ConfirmTimeout:  time.Minute,
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNew_DialsLazily(t *testing.T) {
	// An HTTP endpoint is not contacted at construction time, so New
	// succeeds even with nothing listening.
	c, err := New(context.Background(), Options{
		RPCURL:          "http://127.0.0.1:1",
		ContractAddress: testContract,
		PrivateKey:      "0x" + testPrivateKey,
		ChainID:         31337,
		ConfirmTimeout:  time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, c)
	c.Close()
}

func TestSubmit_StalledEndpointTimesOut(t *testing.T) {
	// Accepts connections and never answers, like a black-holed node.
	// The body must be drained: net/http starts the background read
	// that surfaces a client disconnect on r.Context() only after the
	// handler consumes the body, and without it the deferred Close
	// waits forever on this handler.
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer stalled.Close()

	c, err := New(context.Background(), Options{
		RPCURL:          stalled.URL,
		ContractAddress: testContract,
		PrivateKey:      testPrivateKey,
		ChainID:         31337,
		ConfirmTimeout:  200 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	sub := Submission{
		APIKeyHash:  common.HexToHash("0x01"),
		RequestHash: common.HexToHash("0x02"),
		Timestamp:   1755772800,
		Tag:         "proxy:v1",
	}

	// Both calls must give up on their own deadline rather than queue
	// indefinitely behind the first one's lock hold.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Submit(context.Background(), sub)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("submissions still blocked on a stalled endpoint")
	}
	for _, err := range errs {
		assert.Error(t, err)
	}
}
