package evmtx

import (
	"fmt"

	"github.com/erigontech/erigon-lib/common"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

// TransferSelector is the 4-byte selector of transfer(address,uint256):
// keccak256("transfer(address,uint256)")[:4], 0xa9059cbb.
var TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// Erc20Transfer is the decoded argument pair of a transfer() call.
type Erc20Transfer struct {
	To    common.Address
	Value units.Amount // TagErc20Value
}

// EncodeErc20Transfer produces the 68-byte call data for transfer(to,
// value): selector ‖ left_pad20(to, 32) ‖ be256(value).
func EncodeErc20Transfer(t Erc20Transfer) []byte {
	out := make([]byte, 0, 68)
	out = append(out, TransferSelector[:]...)
	var paddedTo [32]byte
	copy(paddedTo[12:], t.To.Bytes())
	out = append(out, paddedTo[:]...)
	value := t.Value.ToBeBytes32()
	out = append(out, value[:]...)
	return out
}

// DecodeErc20Transfer is the exact inverse of EncodeErc20Transfer, used for
// audit and for recognizing previously-created withdrawal transactions.
func DecodeErc20Transfer(data []byte) (Erc20Transfer, error) {
	if len(data) != 68 {
		return Erc20Transfer{}, fmt.Errorf("evmtx: transfer call data must be 68 bytes, got %d", len(data))
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	if sel != TransferSelector {
		return Erc20Transfer{}, fmt.Errorf("evmtx: selector %x is not transfer(address,uint256)", sel)
	}
	padded := data[4:36]
	for _, b := range padded[:12] {
		if b != 0 {
			return Erc20Transfer{}, fmt.Errorf("evmtx: address argument has non-zero padding")
		}
	}
	var to common.Address
	copy(to[:], padded[12:])
	value, err := units.FromBigEndian(units.TagErc20Value, data[36:68])
	if err != nil {
		return Erc20Transfer{}, err
	}
	return Erc20Transfer{To: to, Value: value}, nil
}
