package uniqset

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Hasher maps a value to a 64-bit hash. The set reduces it modulo the table
// size, so every bit should depend on every input bit.
type Hasher func(v int64) uint64

// Mix64 is a cheap avalanche mix of the value's bits.
func Mix64(v int64) uint64 {
	h := uint64(v)
	h = ((h >> 32) ^ h) * 0x45d9f3b
	h = ((h >> 32) ^ h) * 0x45d9f3b
	return (h >> 32) ^ h
}

// XXH3 hashes the little-endian encoding of v with xxh3.
func XXH3(v int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return xxh3.Hash(b[:])
}

// Hasher names accepted by HasherByName.
const (
	HashMix  = "mix"
	HashXXH3 = "xxh3"
)

// HasherByName resolves a configured hash name. The empty name selects Mix64.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashMix:
		return Mix64, nil
	case HashXXH3:
		return XXH3, nil
	default:
		return nil, fmt.Errorf("uniqset: unknown hash %q", name)
	}
}
