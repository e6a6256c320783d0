package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"trustlink/escrow"
)

const defaultPollInterval = 4 * time.Second

// revertReason is surfaced for mined transactions with a failed status. The
// receipt carries no reason string.
const revertReason = "execution reverted"

// Backend is the subset of the Ethereum RPC used by EVMClient.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an RPC backend for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVMConfig configures the contract binding.
type EVMConfig struct {
	Contract     common.Address
	Assets       *escrow.AssetRegistry
	PollInterval time.Duration
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64
}

// EVMClient implements Client against the deployed escrow contract.
type EVMClient struct {
	backend  Backend
	signer   Signer
	contract common.Address
	assets   *escrow.AssetRegistry
	poll     time.Duration
	buffer   uint64
	logger   *slog.Logger
	now      func() time.Time

	chainMu sync.Mutex
	chainID *big.Int

	// sendMu serialises nonce allocation across senders sharing the backend.
	sendMu sync.Mutex
}

// NewEVMClient binds the escrow contract through backend, signing writes
// with signer.
func NewEVMClient(backend Backend, signer Signer, cfg EVMConfig, logger *slog.Logger) (*EVMClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	if signer == nil {
		return nil, fmt.Errorf("transaction signer required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("escrow contract address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &EVMClient{
		backend:  backend,
		signer:   signer,
		contract: cfg.Contract,
		assets:   cfg.Assets,
		poll:     poll,
		buffer:   cfg.GasBufferPercent,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// escrowRecord mirrors the positional outputs of escrows(uint256).
type escrowRecord struct {
	Id            *big.Int
	Buyer         common.Address
	Seller        common.Address
	Token         common.Address
	TotalAmount   *big.Int
	LockedBalance *big.Int
	IsAccepted    bool
	IsShipped     bool
	IsDisputed    bool
	IsCompleted   bool
	CreatedAt     *big.Int
}

// Order implements Client.
func (c *EVMClient) Order(ctx context.Context, id uint64) (escrow.LedgerOrder, error) {
	if id == 0 {
		return escrow.LedgerOrder{}, escrow.ErrOrderNotFound
	}
	data, err := c.call(ctx, c.contract, escrowABI.Pack, "escrows", new(big.Int).SetUint64(id))
	if err != nil {
		return escrow.LedgerOrder{}, err
	}
	var rec escrowRecord
	if err := escrowABI.UnpackIntoInterface(&rec, "escrows", data); err != nil {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: decode escrow %d: %v", escrow.ErrSourceUnavailable, id, err)
	}
	// Unset mapping slots decode as zero records.
	if rec.Buyer == (common.Address{}) {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: %d", escrow.ErrOrderNotFound, id)
	}
	total, err := toUint256(rec.TotalAmount)
	if err != nil {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: escrow %d total: %v", escrow.ErrSourceUnavailable, id, err)
	}
	locked, err := toUint256(rec.LockedBalance)
	if err != nil {
		return escrow.LedgerOrder{}, fmt.Errorf("%w: escrow %d locked: %v", escrow.ErrSourceUnavailable, id, err)
	}
	order := escrow.LedgerOrder{
		ID:            id,
		Buyer:         rec.Buyer,
		Seller:        rec.Seller,
		Asset:         c.assets.Resolve(rec.Token),
		TotalAmount:   total,
		LockedBalance: locked,
		Accepted:      rec.IsAccepted,
		Shipped:       rec.IsShipped,
		Disputed:      rec.IsDisputed,
		Completed:     rec.IsCompleted,
	}
	if rec.CreatedAt != nil && rec.CreatedAt.Sign() > 0 && rec.CreatedAt.IsInt64() {
		order.CreatedAt = time.Unix(rec.CreatedAt.Int64(), 0).UTC()
	}
	return order, nil
}

// OrderCount implements Client.
func (c *EVMClient) OrderCount(ctx context.Context) (uint64, error) {
	data, err := c.call(ctx, c.contract, escrowABI.Pack, "escrowCount")
	if err != nil {
		return 0, err
	}
	out, err := escrowABI.Unpack("escrowCount", data)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("%w: decode escrowCount: %v", escrow.ErrSourceUnavailable, err)
	}
	count, ok := out[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, fmt.Errorf("%w: escrowCount out of range", escrow.ErrSourceUnavailable)
	}
	return count.Uint64(), nil
}

// Release implements Client.
func (c *EVMClient) Release(ctx context.Context, from common.Address, id uint64, amount *uint256.Int) (TxHandle, error) {
	if amount == nil {
		return TxHandle{}, fmt.Errorf("%w: release amount required", escrow.ErrWriteFailed)
	}
	return c.transact(ctx, from, TxRelease, id, nil, new(big.Int).SetUint64(id), amount.ToBig())
}

// Dispute implements Client.
func (c *EVMClient) Dispute(ctx context.Context, from common.Address, id uint64) (TxHandle, error) {
	return c.transact(ctx, from, TxDispute, id, nil, new(big.Int).SetUint64(id))
}

// Cancel implements Client.
func (c *EVMClient) Cancel(ctx context.Context, from common.Address, id uint64) (TxHandle, error) {
	return c.transact(ctx, from, TxCancel, id, nil, new(big.Int).SetUint64(id))
}

// Resolve implements Client.
func (c *EVMClient) Resolve(ctx context.Context, from common.Address, id uint64, winner common.Address) (TxHandle, error) {
	return c.transact(ctx, from, TxResolve, id, nil, new(big.Int).SetUint64(id), winner)
}

// Create implements Client. Stable token deposits need an allowance for the
// escrow contract first; an insufficient allowance is topped up with an
// approve transaction that is awaited before the deposit is sent.
func (c *EVMClient) Create(ctx context.Context, from common.Address, req escrow.CreateOrder) (TxHandle, error) {
	if req.Amount == nil || req.Amount.IsZero() {
		return TxHandle{}, fmt.Errorf("%w: amount required", escrow.ErrWriteFailed)
	}
	amount := req.Amount.ToBig()
	if req.Asset.IsNative() {
		return c.transact(ctx, from, TxCreate, 0, amount, req.Seller, common.Address{}, amount)
	}
	if err := c.ensureAllowance(ctx, from, req.Asset.Token, amount); err != nil {
		return TxHandle{}, err
	}
	return c.transact(ctx, from, TxCreate, 0, nil, req.Seller, req.Asset.Token, amount)
}

func (c *EVMClient) ensureAllowance(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	data, err := c.call(ctx, token, erc20ABI.Pack, "allowance", owner, c.contract)
	if err != nil {
		return err
	}
	out, err := erc20ABI.Unpack("allowance", data)
	if err != nil || len(out) != 1 {
		return fmt.Errorf("%w: decode allowance: %v", escrow.ErrSourceUnavailable, err)
	}
	current, _ := out[0].(*big.Int)
	if current != nil && current.Cmp(amount) >= 0 {
		return nil
	}
	input, err := erc20ABI.Pack("approve", c.contract, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	handle, err := c.send(ctx, owner, token, nil, input, TxApprove, 0)
	if err != nil {
		return err
	}
	c.logger.Info("submitted token approval",
		slog.String("erc20", token.Hex()),
		slog.String("owner", owner.Hex()),
		slog.String("tx_hash", handle.Hash.Hex()))
	receipt, err := c.Await(ctx, handle)
	if err != nil {
		return err
	}
	if receipt.State != TxConfirmed {
		return fmt.Errorf("%w: approve %s: %s", escrow.ErrWriteFailed, handle.Hash.Hex(), receipt.Reason)
	}
	return nil
}

// Await implements Client. Receipts that are not yet available keep the
// transaction pending; read failures are logged and polled again.
func (c *EVMClient) Await(ctx context.Context, handle TxHandle) (Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil && receipt != nil:
			return c.toReceipt(handle, receipt), nil
		case err == nil, errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
			return Receipt{}, ctx.Err()
		default:
			c.logger.Warn("receipt lookup failed",
				slog.String("tx_hash", handle.Hash.Hex()),
				slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) toReceipt(handle TxHandle, receipt *gethtypes.Receipt) Receipt {
	out := Receipt{Hash: handle.Hash, OrderID: handle.OrderID, State: TxConfirmed}
	if receipt.BlockNumber != nil && receipt.BlockNumber.IsUint64() {
		out.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		out.State = TxFailed
		out.Reason = revertReason
		return out
	}
	if handle.Kind == TxCreate {
		if id, ok := createdOrderID(c.contract, receipt.Logs); ok {
			out.OrderID = id
		}
	}
	return out
}

func createdOrderID(contract common.Address, logs []*gethtypes.Log) (uint64, bool) {
	eventID := escrowABI.Events["EscrowCreated"].ID
	for _, log := range logs {
		if log == nil || log.Address != contract {
			continue
		}
		if len(log.Topics) < 2 || log.Topics[0] != eventID {
			continue
		}
		id := new(big.Int).SetBytes(log.Topics[1].Bytes())
		if !id.IsUint64() {
			continue
		}
		return id.Uint64(), true
	}
	return 0, false
}

type packFunc func(name string, args ...interface{}) ([]byte, error)

func (c *EVMClient) call(ctx context.Context, to common.Address, pack packFunc, method string, args ...interface{}) ([]byte, error) {
	input, err := pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: input}
	data, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", escrow.ErrSourceUnavailable, method, err)
	}
	return data, nil
}

func (c *EVMClient) transact(ctx context.Context, sender common.Address, kind TxKind, orderID uint64, value *big.Int, args ...interface{}) (TxHandle, error) {
	input, err := escrowABI.Pack(string(kind), args...)
	if err != nil {
		return TxHandle{}, fmt.Errorf("pack %s: %w", kind, err)
	}
	return c.send(ctx, sender, c.contract, value, input, kind, orderID)
}

func (c *EVMClient) send(ctx context.Context, addr, to common.Address, value *big.Int, input []byte, kind TxKind, orderID uint64) (TxHandle, error) {
	chainID, err := c.chain(ctx)
	if err != nil {
		return TxHandle{}, err
	}
	if value == nil {
		value = new(big.Int)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: %s nonce: %v", escrow.ErrWriteFailed, kind, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: %s gas price: %v", escrow.ErrWriteFailed, kind, err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: addr, To: &to, Value: value, Data: input})
	if err != nil {
		// Estimation executes the call, so contract reverts surface here.
		return TxHandle{}, fmt.Errorf("%w: %s: %v", escrow.ErrWriteFailed, kind, err)
	}
	gas += gas * c.buffer / 100

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := c.signer.SignTx(addr, tx, chainID)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: sign %s: %v", escrow.ErrWriteFailed, kind, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return TxHandle{}, fmt.Errorf("%w: send %s: %v", escrow.ErrWriteFailed, kind, err)
	}
	return TxHandle{
		Hash:        signed.Hash(),
		Kind:        kind,
		OrderID:     orderID,
		From:        addr,
		SubmittedAt: c.now().UTC(),
	}, nil
}

func (c *EVMClient) chain(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", escrow.ErrWriteFailed, err)
	}
	c.chainID = id
	return id, nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value overflows 256 bits")
	}
	return out, nil
}
