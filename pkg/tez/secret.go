package tez

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	packPrefix byte = 0x05
	tagString  byte = 0x01
)

// PackString returns the Michelson PACK serialisation of a string value.
func PackString(s string) []byte {
	out := make([]byte, 0, 6+len(s))
	out = append(out, packPrefix, tagString)
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

// HashSecret computes blake2b-256(PACK(secret)), the value the escrow contract
// stores as hashedSecret.
func HashSecret(secret string) []byte {
	sum := blake2b.Sum256(PackString(secret))
	return sum[:]
}

// VerifySecret reports whether secret hashes to hashedHex. An empty or
// malformed hash never verifies.
func VerifySecret(secret, hashedHex string) bool {
	want, err := hex.DecodeString(strings.TrimPrefix(hashedHex, "0x"))
	if err != nil || len(want) != blake2b.Size256 {
		return false
	}
	return subtle.ConstantTimeCompare(HashSecret(secret), want) == 1
}
