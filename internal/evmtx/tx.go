// Package evmtx constructs and hashes EIP-1559 (type 2) transactions, and
// encodes/decodes the ERC-20 transfer() call data the withdrawal pipeline
// sends. Signing itself is delegated to the external signing oracle
// (internal/signer); this package only builds the bytes that get signed
// and reassembles the final raw transaction once a signature comes back.
package evmtx

import (
	"github.com/erigontech/erigon-lib/common"
	"github.com/erigontech/erigon-lib/crypto"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

// Eip1559TransactionRequest is the unsigned transaction body.
// AccessList is always empty for this system — the minter never needs
// storage-key prewarming — but the field is carried so the RLP framing
// matches the canonical EIP-1559 envelope exactly.
type Eip1559TransactionRequest struct {
	ChainID              uint64
	Nonce                units.Amount // TagTransactionNonce
	MaxPriorityFeePerGas units.Amount // TagWei
	MaxFeePerGas         units.Amount // TagWei
	GasLimit             units.Amount // TagGasAmount
	Destination          common.Address
	Amount               units.Amount // TagWei, always zero for ERC-20 transfers
	Data                 []byte
}

// unsignedFields returns the RLP list fields shared by the signing
// preimage and the final signed envelope, in EIP-1559 order.
func (tx Eip1559TransactionRequest) unsignedFields() [][]byte {
	amount := tx.Amount.ToBeBytes32()
	tip := tx.MaxPriorityFeePerGas.ToBeBytes32()
	fee := tx.MaxFeePerGas.ToBeBytes32()
	return [][]byte{
		rlpEncodeUint64(tx.ChainID),
		rlpEncodeUint64(tx.Nonce.Uint64()),
		rlpEncodeBigEndian(tip[:]),
		rlpEncodeBigEndian(fee[:]),
		rlpEncodeUint64(tx.GasLimit.Uint64()),
		rlpEncodeBytes(tx.Destination.Bytes()),
		rlpEncodeBigEndian(amount[:]),
		rlpEncodeBytes(tx.Data),
		rlpEncodeList(), // access list, always empty
	}
}

// SigningHash returns the digest the signing oracle must sign: keccak256
// over the 0x02-prefixed RLP list of the unsigned fields (EIP-2718 typed
// transaction signing preimage).
func (tx Eip1559TransactionRequest) SigningHash() common.Hash {
	body := rlpEncodeList(tx.unsignedFields()...)
	payload := append([]byte{0x02}, body...)
	return common.BytesToHash(crypto.Keccak256(payload))
}

// Signature is a recoverable secp256k1 signature over a SigningHash: 32
// bytes R, 32 bytes S, and a recovery id Y-parity (0 or 1) rather than the
// legacy 27/28 V, matching EIP-1559's signature encoding.
type Signature struct {
	R        [32]byte
	S        [32]byte
	YParity  uint64
}

// SignedTransaction is an Eip1559TransactionRequest plus the signature the
// oracle returned for it.
type SignedTransaction struct {
	Unsigned  Eip1559TransactionRequest
	Signature Signature
}

// RawBytes returns the final broadcastable transaction: 0x02 || rlp(fields
// ++ [yParity, r, s]).
func (tx SignedTransaction) RawBytes() []byte {
	fields := tx.Unsigned.unsignedFields()
	fields = append(fields,
		rlpEncodeUint64(tx.Signature.YParity),
		rlpEncodeBigEndian(tx.Signature.R[:]),
		rlpEncodeBigEndian(tx.Signature.S[:]),
	)
	body := rlpEncodeList(fields...)
	return append([]byte{0x02}, body...)
}

// Hash returns the transaction hash used to look up receipts: keccak256 of
// RawBytes.
func (tx SignedTransaction) Hash() common.Hash {
	return common.BytesToHash(crypto.Keccak256(tx.RawBytes()))
}

// SameUnsignedBody reports whether a and b share every unsigned field
// except MaxFeePerGas, MaxPriorityFeePerGas and Amount — the fee-bump
// equality law I7/P5 that every element of sent_tx[nonce] must satisfy
// against every other.
func SameUnsignedBody(a, b Eip1559TransactionRequest) bool {
	return a.ChainID == b.ChainID &&
		a.Nonce == b.Nonce &&
		a.GasLimit == b.GasLimit &&
		a.Destination == b.Destination &&
		string(a.Data) == string(b.Data)
}
