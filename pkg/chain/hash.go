package chain

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// scriptTag is the discriminator byte Cardano prepends to a script's raw
// bytes before hashing, so a native script and a Plutus script with
// identical bytes still hash differently.
var scriptTag = map[string]byte{
	"native":    0,
	"plutus:v1": 1,
	"plutus:v2": 2,
	"plutus:v3": 3,
}

// HashDatum computes the content address of a datum: blake2b-256 of its
// raw CBOR bytes, hex-encoded.
func HashDatum(cbor []byte) string {
	sum := blake2b.Sum256(cbor)
	return hex.EncodeToString(sum[:])
}

// HashScript computes the content address of a script: blake2b-224 of the
// version tag byte followed by its raw bytes, hex-encoded. Scripts whose
// version is not recognized are tagged 0, matching the native-script
// convention used when a producer's version string is unexpected.
func HashScript(version string, raw []byte) string {
	tag, ok := scriptTag[version]
	if !ok {
		tag = 0
	}
	h, _ := blake2b.New(28, nil)
	h.Write([]byte{tag})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
