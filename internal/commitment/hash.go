// hash.go - Versioned hash-to-exponent functions.
//
// The hash is part of the group parameters. Changing it after deployment silently breaks
// every stored commitment, so each variant carries a version string that is persisted
// with the parameters.

package commitment

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"golang.org/x/crypto/sha3"
)

const (
	// HashSHA3V1 hashes "VAL|"+value with SHA3-256 and keeps the leading 128 bits.
	HashSHA3V1 = "xctok-sha3-v1"
	// HashMiMCBN254V1 hashes "VAL|"+value with MiMC over the BN254 scalar field.
	HashMiMCBN254V1 = "xctok-mimc-bn254-v1"

	valueDomain     = "VAL|"
	generatorDomain = "XCTOK:gen:"
)

// hashFunc maps a value's text to a raw digest. The digest is reduced mod P-1 by the caller.
type hashFunc func(data []byte) (*big.Int, error)

var hashRegistry = map[string]hashFunc{
	HashSHA3V1:      sha3Leading128,
	HashMiMCBN254V1: mimcBN254,
}

// SupportedHashVersions lists the hash versions this build understands.
func SupportedHashVersions() []string {
	return []string{HashSHA3V1, HashMiMCBN254V1}
}

func lookupHash(version string) (hashFunc, error) {
	h, ok := hashRegistry[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHashVersion, version)
	}
	return h, nil
}

// sha3Leading128 reads the first 32 hex characters of the SHA3-256 digest as an integer.
func sha3Leading128(data []byte) (*big.Int, error) {
	digest := sha3.Sum256(data)
	return new(big.Int).SetBytes(digest[:16]), nil
}

// mimcBN254 packs data into 31-byte chunks, each left-padded to a 32-byte field element.
func mimcBN254(data []byte) (*big.Int, error) {
	h := mimc.NewMiMC()
	const chunk = 31
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		var block [32]byte
		copy(block[32-(end-start):], data[start:end])
		if _, err := h.Write(block[:]); err != nil {
			return nil, fmt.Errorf("mimc write failed: %w", err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// mapToBase derives a generator in [2, p-2] from a tag: sha3("XCTOK:gen:"+tag) mod (p-3) + 2.
func mapToBase(p *big.Int, tag string) *big.Int {
	digest := sha3.Sum256([]byte(generatorDomain + tag))
	v := new(big.Int).SetBytes(digest[:16])
	v.Mod(v, new(big.Int).Sub(p, big.NewInt(3)))
	return v.Add(v, big.NewInt(2))
}
