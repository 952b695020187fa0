package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/angelmondragon/paystream-keeper/pkg/config"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

// RPCClient is the subset of the Ethereum client the keeper uses.
type RPCClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// NewRPCClient dials an Ethereum RPC endpoint. Overridable in tests.
var NewRPCClient = func(rpcURL string) (RPCClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Operator owns the RPC connection and the signing key shared by every
// payment contract client. One keeper process per operator key; nonces are
// fetched fresh per write and writes are serialized by the keeper loop.
type Operator struct {
	client  RPCClient
	cfg     config.ChainConfig
	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewOperator parses the operator key and verifies the RPC endpoint answers.
func NewOperator(ctx context.Context, cfg config.ChainConfig) (*Operator, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chain rpc url is required")
	}
	rawKey := strings.TrimPrefix(strings.TrimSpace(cfg.OperatorPrivateKey), "0x")
	if rawKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operator private key is required")
	}
	key, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing operator private key")
	}

	client, err := NewRPCClient(cfg.RPCURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dialing chain rpc")
	}

	op := &Operator{
		client:  client,
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	if _, err := client.HeaderByNumber(checkCtx, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "chain rpc unreachable")
	}
	return op, nil
}

// NewOperatorWithClient wires an explicit RPC client; used by tests.
func NewOperatorWithClient(cfg config.ChainConfig, client RPCClient, key *ecdsa.PrivateKey) *Operator {
	return &Operator{
		client:  client,
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the operator account address.
func (o *Operator) Address() common.Address {
	return o.address
}

// OperatorBalance reads the native balance of the operator account.
func (o *Operator) OperatorBalance(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	balance, err := o.client.BalanceAt(callCtx, o.address, nil)
	if err != nil {
		return nil, ClassifyError(err, "reading operator balance")
	}
	return balance, nil
}

// Contract binds a payment contract instance to the operator connection.
func (o *Operator) Contract(address string) (*PaymentContract, error) {
	if !common.IsHexAddress(address) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid contract address").
			WithDetails(map[string]any{"address": address})
	}
	return &PaymentContract{op: o, address: common.HexToAddress(address)}, nil
}
