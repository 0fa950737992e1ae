package evmtx

// A minimal RLP encoder sufficient for framing an EIP-1559 (type 2)
// transaction body. The teacher corpus's own RLP package
// (github.com/erigontech/erigon-lib/rlp, used throughout
// erigon-lib/types/txn.go) is a zero-copy *decoder* tuned for parsing
// transactions out of a mempool wire payload by byte offset; none of its
// encode-side helpers were present in the retrieved reference material, so
// rather than guess at an API this system doesn't exercise, encoding is
// implemented directly here against the RLP specification. See DESIGN.md
// for this as a deliberate exception to "never hand-roll what the corpus
// has a library for".

import (
	"encoding/binary"
	"math/bits"
)

func rlpEncodeUint64(v uint64) []byte {
	if v == 0 {
		return rlpEncodeBytes(nil)
	}
	n := (bits.Len64(v) + 7) / 8
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return rlpEncodeBytes(buf[8-n:])
}

func rlpEncodeBigEndian(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return rlpEncodeBytes(b[i:])
}

func rlpEncodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	return append(rlpLengthPrefix(0x80, len(b)), b...)
}

func rlpEncodeList(items ...[]byte) []byte {
	var body []byte
	for _, it := range items {
		body = append(body, it...)
	}
	return append(rlpLengthPrefix(0xc0, len(body)), body...)
}

func rlpLengthPrefix(base byte, n int) []byte {
	if n < 56 {
		return []byte{base + byte(n)}
	}
	lenBytes := rlpMinimalBigEndian(uint64(n))
	return append([]byte{base + 55 + byte(len(lenBytes))}, lenBytes...)
}

func rlpMinimalBigEndian(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}
