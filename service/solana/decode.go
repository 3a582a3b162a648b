package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// tokenAccountLen is the serialized size of an SPL token account.
const tokenAccountLen = 165

// TokenAccountData is the subset of the SPL token account layout the engine
// cares about.
type TokenAccountData struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// DecodeTokenAccount decodes raw SPL token account bytes: mint at offset 0,
// owner at 32, little-endian u64 amount at 64. Short or oversized buffers
// are rejected with ErrDecode rather than defaulting any field.
func DecodeTokenAccount(data []byte) (TokenAccountData, error) {
	if len(data) != tokenAccountLen {
		return TokenAccountData{}, fmt.Errorf("%w: token account is %d bytes, want %d", ErrDecode, len(data), tokenAccountLen)
	}
	return TokenAccountData{
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}
