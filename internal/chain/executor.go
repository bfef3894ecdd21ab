// Package chain drives the escrow smart contract that custodies wager
// stakes. Instructions are the closed variant set from the domain package;
// each is packed into a contract call, signed, and submitted. When no RPC
// endpoint is configured the executor runs in simulated mode and returns
// results explicitly marked Simulated, never a fake signature.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/wagerforge/wagerd/internal/domain"
)

// escrowABI is the settlement surface of the escrow contract.
const escrowABI = `[
  {"name":"accept","type":"function","stateMutability":"payable","inputs":[{"name":"wagerId","type":"bytes32"}],"outputs":[]},
  {"name":"resolve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wagerId","type":"bytes32"},{"name":"winner","type":"address"},{"name":"payout","type":"uint256"},{"name":"platformFee","type":"uint256"}],"outputs":[]},
  {"name":"cancel","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wagerId","type":"bytes32"}],"outputs":[]},
  {"name":"refund","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wagerId","type":"bytes32"},{"name":"creator","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"handleDraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wagerId","type":"bytes32"},{"name":"creator","type":"address"},{"name":"acceptor","type":"address"},{"name":"amountEach","type":"uint256"}],"outputs":[]}
]`

// fallbackGasLimit is used when gas estimation fails (e.g. against nodes
// that reject eth_estimateGas for payable calls with value attached).
const fallbackGasLimit = 300_000

// Config holds the executor's connection and signing parameters.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. Empty enables simulated mode.
	RPCURL          string
	ContractAddress string

	// PrivateKey is a hex-encoded secp256k1 key. Alternatively set
	// KeystorePath + KeystorePassword to load an encrypted keystore file.
	PrivateKey       string
	KeystorePath     string
	KeystorePassword string

	ChainID     int64
	CallTimeout time.Duration
	WaitMined   bool
}

// Executor implements domain.SettlementExecutor against an EVM escrow
// contract.
type Executor struct {
	client    *ethclient.Client
	contract  common.Address
	abi       abi.ABI
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	timeout   time.Duration
	waitMined bool
	simulated bool
	logger    *slog.Logger
}

// New creates an Executor. With an empty RPCURL the executor is constructed
// in simulated mode: it validates and logs every instruction but performs no
// network calls.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Executor, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse escrow abi: %w", err)
	}

	e := &Executor{
		abi:       parsed,
		timeout:   cfg.CallTimeout,
		waitMined: cfg.WaitMined,
		logger:    logger.With(slog.String("component", "executor")),
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}

	if cfg.RPCURL == "" {
		e.simulated = true
		e.logger.Warn("no rpc endpoint configured, executor running in simulated mode")
		return e, nil
	}

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	e.key = key
	e.from = ethcrypto.PubkeyToAddress(key.PublicKey)

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	e.contract = common.HexToAddress(cfg.ContractAddress)
	e.chainID = big.NewInt(cfg.ChainID)

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	e.client = client

	return e, nil
}

// Simulated reports whether the executor performs no real on-chain calls.
func (e *Executor) Simulated() bool {
	return e.simulated
}

// Close releases the RPC connection.
func (e *Executor) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

// Execute packs the instruction into a contract call, signs and submits it,
// and returns the transaction hash. The call is bounded by the configured
// timeout; on timeout or submission failure the caller sees domain.ErrExecutor
// and no state has been recorded, so the settlement is retryable.
func (e *Executor) Execute(ctx context.Context, ins domain.Instruction) (domain.ExecutorResult, error) {
	calldata, value, err := e.pack(ins)
	if err != nil {
		return domain.ExecutorResult{}, err
	}

	if e.simulated {
		ref := "sim:" + uuid.New().String()
		e.logger.InfoContext(ctx, "simulated settlement instruction",
			slog.String("instruction", ins.Name()),
			slog.String("ref", ref),
		)
		return domain.ExecutorResult{Ref: ref, Simulated: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.submit(ctx, calldata, value)
	if err != nil {
		return domain.ExecutorResult{}, fmt.Errorf("%w: %s: %v", domain.ErrExecutor, ins.Name(), err)
	}

	e.logger.InfoContext(ctx, "settlement instruction submitted",
		slog.String("instruction", ins.Name()),
		slog.String("tx", tx.Hash().Hex()),
	)
	return domain.ExecutorResult{Ref: tx.Hash().Hex()}, nil
}

// pack converts an instruction variant into calldata plus the native value
// attached to the transaction.
func (e *Executor) pack(ins domain.Instruction) ([]byte, *big.Int, error) {
	switch v := ins.(type) {
	case domain.AcceptInstruction:
		data, err := e.abi.Pack("accept", wagerIDHash(v.WagerID))
		return data, toWei(v.Amount), wrapPack(err, v)
	case domain.ResolveInstruction:
		data, err := e.abi.Pack("resolve",
			wagerIDHash(v.WagerID),
			common.HexToAddress(v.Winner),
			toWei(v.Payout),
			toWei(v.PlatformFee),
		)
		return data, nil, wrapPack(err, v)
	case domain.CancelInstruction:
		data, err := e.abi.Pack("cancel", wagerIDHash(v.WagerID))
		return data, nil, wrapPack(err, v)
	case domain.RefundInstruction:
		data, err := e.abi.Pack("refund",
			wagerIDHash(v.WagerID),
			common.HexToAddress(v.Creator),
			toWei(v.Amount),
		)
		return data, nil, wrapPack(err, v)
	case domain.DrawInstruction:
		data, err := e.abi.Pack("handleDraw",
			wagerIDHash(v.WagerID),
			common.HexToAddress(v.Creator),
			common.HexToAddress(v.Acceptor),
			toWei(v.AmountEach),
		)
		return data, nil, wrapPack(err, v)
	}
	// Unreachable while domain.Instruction stays a closed set.
	return nil, nil, fmt.Errorf("chain: unknown instruction %T", ins)
}

func wrapPack(err error, ins domain.Instruction) error {
	if err != nil {
		return fmt.Errorf("chain: pack %s: %w", ins.Name(), err)
	}
	return nil
}

// submit builds, signs, and sends a transaction carrying calldata to the
// escrow contract.
func (e *Executor) submit(ctx context.Context, calldata []byte, value *big.Int) (*types.Transaction, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.from,
		To:    &e.contract,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	if e.waitMined {
		receipt, err := bind.WaitMined(ctx, e.client, signed)
		if err != nil {
			return nil, fmt.Errorf("wait mined: %w", err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
		}
	}

	return signed, nil
}

// loadKey loads the signing key from a hex string or an encrypted keystore
// file.
func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain: invalid private key: %w", err)
		}
		return key, nil
	}

	if cfg.KeystorePath != "" {
		data, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("chain: read keystore %s: %w", cfg.KeystorePath, err)
		}
		key, err := keystore.DecryptKey(data, cfg.KeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("chain: decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}

	return nil, fmt.Errorf("chain: no signing key configured")
}

// wagerIDHash derives the bytes32 escrow key from the external wager id.
func wagerIDHash(wagerID string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(wagerID))
}

// toWei converts a native token amount to wei. Sub-wei remainders truncate.
func toWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(
		big.NewFloat(amount),
		big.NewFloat(1e18),
	).Int(nil)
	return wei
}

// Compile-time interface check.
var _ domain.SettlementExecutor = (*Executor)(nil)
