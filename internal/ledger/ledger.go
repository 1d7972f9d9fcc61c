// Package ledger anchors usage records on an EVM chain through the
// UsageRegistry contract.
package ledger

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options configures the ledger client
type Options struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	ConfirmTimeout  time.Duration
}

// Submission is one usage record bound for the registry contract
type Submission struct {
	APIKeyHash  common.Hash
	RequestHash common.Hash
	Timestamp   int64
	Tag         string
}

// Receipt reports a mined submission
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Client submits usage records from a single funded account
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	signer   *bind.TransactOpts

	confirmTimeout time.Duration
	logger         *zap.Logger

	// mu serializes nonce assignment across concurrent submissions.
	// Confirmation waits happen outside the lock.
	mu sync.Mutex
}

// New builds a ledger client. Dialing an HTTP endpoint is lazy, so the
// chain does not have to be reachable at construction time.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	contractABI, err := registryABI()
	if err != nil {
		return nil, errors.Wrap(err, "parse registry abi")
	}

	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, errors.Errorf("invalid contract address %q", opts.ContractAddress)
	}
	address := common.HexToAddress(opts.ContractAddress)

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse submitter private key")
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(opts.ChainID))
	if err != nil {
		return nil, errors.Wrap(err, "build transactor")
	}

	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc endpoint")
	}

	logger.Info("Ledger client initialized",
		zap.String("contract", address.Hex()),
		zap.Int64("chain_id", opts.ChainID))

	return &Client{
		eth:            eth,
		contract:       bind.NewBoundContract(address, contractABI, eth, eth, eth),
		signer:         signer,
		confirmTimeout: opts.ConfirmTimeout,
		logger:         logger,
	}, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

// Submit sends one usage record to the registry and waits for it to be
// mined. Any failure along the way surfaces as a non-nil error; the
// caller decides how much to care.
func (c *Client) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	// One deadline spans the transact phase and the confirmation wait;
	// time spent holding the nonce lock is bounded by it.
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	opts := *c.signer
	opts.Context = ctx

	c.mu.Lock()
	tx, err := c.contract.Transact(&opts, methodRecordUsage,
		[32]byte(sub.APIKeyHash),
		big.NewInt(sub.Timestamp),
		[32]byte(sub.RequestHash),
		sub.Tag)
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "submit usage record")
	}

	c.logger.Debug("Usage record submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("api_key_hash", sub.APIKeyHash.Hex()))

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "await confirmation of %s", tx.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Errorf("transaction %s reverted", tx.Hash().Hex())
	}

	return &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// LastSeenAt reads the on-chain watermark for a hashed API key. Zero
// means the key has never been anchored.
func (c *Client) LastSeenAt(ctx context.Context, apiKeyHash common.Hash) (uint64, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodLastSeenAt, [32]byte(apiKeyHash))
	if err != nil {
		return 0, errors.Wrap(err, "query last seen timestamp")
	}
	if len(out) != 1 {
		return 0, errors.Errorf("unexpected result arity %d", len(out))
	}
	ts, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.Errorf("unexpected result type %T", out[0])
	}
	return ts.Uint64(), nil
}
