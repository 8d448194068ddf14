// Package executor adapts an external EVM to the ZK trie state: it derives
// per-transaction environments from the block context, feeds a read-only
// database view to the EVM and commits the resulting write set through the
// state cache into the trie.
package executor

import (
	"fmt"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// L1MessageTxType is the transaction type byte of L1 queue messages.
const L1MessageTxType = 0x7e

// L1MessageTx is an L1→L2 message transaction. Its nonce is the L1 queue
// index; it carries no signature, the sender being authenticated by the L1
// bridge.
type L1MessageTx struct {
	QueueIndex uint64
	Gas        uint64
	To         *types.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	Sender     types.Address
}

// Encode returns the canonical bytes: the type byte followed by the RLP
// body.
func (m *L1MessageTx) Encode() ([]byte, error) {
	body, err := rlp.EncodeToBytes(m)
	if err != nil {
		return nil, err
	}
	return append([]byte{L1MessageTxType}, body...), nil
}

// Transaction wraps either a signed L2 transaction envelope or an L1
// message, keeping the canonical encoded bytes for batch construction.
type Transaction struct {
	raw   []byte
	hash  types.Hash
	l1    *L1MessageTx
	inner *ethtypes.Transaction
}

// DecodeTransaction parses a canonical transaction encoding: the L1 message
// type byte introduces the bridge message layout, anything else is a
// standard typed or legacy envelope.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("executor: empty transaction bytes")
	}
	if raw[0] == L1MessageTxType {
		var msg L1MessageTx
		if err := rlp.DecodeBytes(raw[1:], &msg); err != nil {
			return nil, fmt.Errorf("executor: decode l1 message: %w", err)
		}
		return &Transaction{
			raw:  append([]byte(nil), raw...),
			hash: crypto.Keccak256Hash(raw),
			l1:   &msg,
		}, nil
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("executor: decode transaction: %w", err)
	}
	return &Transaction{
		raw:   append([]byte(nil), raw...),
		hash:  types.BytesToHash(tx.Hash().Bytes()),
		inner: &tx,
	}, nil
}

// IsL1Message reports whether this is a bridge message.
func (t *Transaction) IsL1Message() bool { return t.l1 != nil }

// Hash returns the transaction hash.
func (t *Transaction) Hash() types.Hash { return t.hash }

// RLP returns the canonical encoded bytes.
func (t *Transaction) RLP() []byte { return t.raw }

// Nonce returns the account nonce, or the queue index for L1 messages.
func (t *Transaction) Nonce() uint64 {
	if t.l1 != nil {
		return t.l1.QueueIndex
	}
	return t.inner.Nonce()
}

// TxEnv is the per-transaction environment handed to the external EVM.
type TxEnv struct {
	Caller           types.Address
	GasLimit         uint64
	GasPrice         *uint256.Int
	GasPriorityFee   *uint256.Int // nil for legacy transactions
	To               *types.Address
	Value            *uint256.Int
	Data             []byte
	Nonce            uint64
	ChainID          uint64
	AccessList       []AccessTuple
	BlobHashes       []types.Hash
	MaxFeePerBlobGas *uint256.Int
	IsL1Message      bool
}

// AccessTuple is one access-list entry.
type AccessTuple struct {
	Address     types.Address
	StorageKeys []types.Hash
}

// DeriveTxEnv builds the environment for a transaction given the block's
// base fee and chain id. The effective gas price of a dynamic-fee
// transaction is min(maxFee, baseFee+maxPriorityFee) when a base fee is
// present.
func DeriveTxEnv(tx *Transaction, chainID uint64, baseFee *uint256.Int) (*TxEnv, error) {
	if tx.l1 != nil {
		env := &TxEnv{
			Caller:      tx.l1.Sender,
			GasLimit:    tx.l1.Gas,
			GasPrice:    uint256.NewInt(0),
			To:          tx.l1.To,
			Value:       mustU256(tx.l1.Value),
			Data:        tx.l1.Data,
			Nonce:       tx.l1.QueueIndex,
			ChainID:     chainID,
			IsL1Message: true,
		}
		return env, nil
	}

	inner := tx.inner
	signer := ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	from, err := ethtypes.Sender(signer, inner)
	if err != nil {
		return nil, fmt.Errorf("executor: recover sender of %s: %w", tx.hash, err)
	}

	env := &TxEnv{
		Caller:   types.BytesToAddress(from.Bytes()),
		GasLimit: inner.Gas(),
		Value:    mustU256(inner.Value()),
		Data:     inner.Data(),
		Nonce:    inner.Nonce(),
		ChainID:  chainID,
	}
	if to := inner.To(); to != nil {
		addr := types.BytesToAddress(to.Bytes())
		env.To = &addr
	}

	switch inner.Type() {
	case ethtypes.LegacyTxType:
		env.GasPrice = mustU256(inner.GasPrice())
	case ethtypes.AccessListTxType:
		env.GasPrice = mustU256(inner.GasPrice())
		env.AccessList = convertAccessList(inner.AccessList())
	default:
		maxFee := mustU256(inner.GasFeeCap())
		priority := mustU256(inner.GasTipCap())
		env.GasPriorityFee = priority
		if baseFee != nil {
			price := new(uint256.Int).Add(baseFee, priority)
			if price.Gt(maxFee) {
				price = maxFee
			}
			env.GasPrice = price
		} else {
			env.GasPrice = maxFee
		}
		env.AccessList = convertAccessList(inner.AccessList())
		if inner.Type() == ethtypes.BlobTxType {
			env.MaxFeePerBlobGas = mustU256(inner.BlobGasFeeCap())
			for _, h := range inner.BlobHashes() {
				env.BlobHashes = append(env.BlobHashes, types.BytesToHash(h.Bytes()))
			}
		}
	}
	return env, nil
}

func convertAccessList(list ethtypes.AccessList) []AccessTuple {
	if len(list) == 0 {
		return nil
	}
	out := make([]AccessTuple, 0, len(list))
	for _, tuple := range list {
		t := AccessTuple{Address: types.BytesToAddress(tuple.Address.Bytes())}
		for _, k := range tuple.StorageKeys {
			t.StorageKeys = append(t.StorageKeys, types.BytesToHash(k.Bytes()))
		}
		out = append(out, t)
	}
	return out
}

func mustU256(v *big.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
