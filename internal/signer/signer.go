// Package signer wraps the out-of-scope signing oracle. Oracle is the
// interface internal/driver depends on; DevSigner is a dev-only
// implementation backed by github.com/erigontech/secp256k1, so tests can
// produce a verifiable signature without standing up an external KMS.
package signer

import (
	"context"
	"fmt"

	"github.com/erigontech/erigon-lib/common"
	"github.com/erigontech/erigon-lib/crypto"
	"github.com/erigontech/secp256k1"

	"github.com/chainbridge-go/erc20minter/internal/evmtx"
)

// Oracle is the external signing capability the withdrawal driver depends
// on (internal/driver.Signer matches this shape structurally).
type Oracle interface {
	Sign(ctx context.Context, tx evmtx.Eip1559TransactionRequest) (evmtx.Signature, error)
}

// DevSigner signs locally with a held private key. Production deployments
// never construct one of these — the real minter calls out to an external
// threshold-ECDSA signing oracle — but it lets internal/driver and
// end-to-end tests exercise a real, verifiable EIP-1559 signature.
type DevSigner struct {
	privateKey [32]byte
}

// NewDevSigner constructs a DevSigner from a raw secp256k1 private key.
func NewDevSigner(privateKey [32]byte) *DevSigner {
	return &DevSigner{privateKey: privateKey}
}

// Sign computes tx's EIP-1559 signing hash and signs it, returning the
// recoverable (R, S, YParity) signature the transaction envelope needs.
func (s *DevSigner) Sign(ctx context.Context, tx evmtx.Eip1559TransactionRequest) (evmtx.Signature, error) {
	digest := tx.SigningHash()
	sig, err := secp256k1.Sign(digest[:], s.privateKey[:])
	if err != nil {
		return evmtx.Signature{}, fmt.Errorf("signer: sign: %w", err)
	}
	if len(sig) != 65 {
		return evmtx.Signature{}, fmt.Errorf("signer: unexpected signature length %d", len(sig))
	}
	var out evmtx.Signature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.YParity = uint64(sig[64])
	return out, nil
}

// Address recovers the signing address for digest/sig, used by tests to
// confirm DevSigner produced a signature that actually recovers to the
// expected principal.
func Address(digest common.Hash, sig evmtx.Signature) (common.Address, error) {
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = byte(sig.YParity)
	pub, err := secp256k1.RecoverPubkey(digest[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: recover pubkey: %w", err)
	}
	return pubkeyToAddress(pub), nil
}

// pubkeyToAddress derives the 20-byte EVM address from an uncompressed
// (0x04-prefixed, 65-byte) secp256k1 public key: the low 20 bytes of
// keccak256 over the X||Y coordinates, same as crypto.PubkeyToAddress.
func pubkeyToAddress(pub []byte) common.Address {
	if len(pub) == 65 && pub[0] == 0x04 {
		pub = pub[1:]
	}
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}
