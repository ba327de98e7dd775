// internal/chain/address.go
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveAddress returns the last 20 bytes of keccak256 over the concatenated
// parts. It is the content-addressed scheme used for token and pool ids.
func DeriveAddress(parts ...[]byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(parts...)[12:])
}

// NamedAddress derives a stable account address from a human readable label.
func NamedAddress(name string) common.Address {
	return DeriveAddress([]byte("account:"), []byte(name))
}

// ResolveAddress accepts a 0x-hex address or a label for NamedAddress. Empty
// input is the zero address.
func ResolveAddress(s string) common.Address {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return common.Address{}
	case common.IsHexAddress(s):
		return common.HexToAddress(s)
	default:
		return NamedAddress(s)
	}
}
