// inputs.go - Public inputs of the withdrawal circuit.

package pool

import (
	"math/big"

	"stealthpool/internal/field"
)

// maxRecipientQuotient is floor((2^256 - 1) / r): a 32-byte key is at most
// five moduli above its reduced value.
const maxRecipientQuotient = 5

// RecipientElement maps a 32-byte account to the field: the bytes are read
// big-endian and reduced mod r.
func RecipientElement(recipient [32]byte) field.Element {
	return field.FromBytesBE(recipient[:])
}

// PublicInputs builds the withdrawal circuit's public inputs
// [root, nullifier_hash, recipient, amount] as big-endian field encodings.
// root and nullifierHash are little-endian Poseidon outputs.
func PublicInputs(root, nullifierHash [32]byte, recipient AccountID, amount uint64) [][32]byte {
	return [][32]byte{
		field.FromBytesLE(root[:]).BytesBE(),
		field.FromBytesLE(nullifierHash[:]).BytesBE(),
		RecipientElement(recipient).BytesBE(),
		field.FromUint64(amount).BytesBE(),
	}
}

// VerifyRecipientReduction checks that reduced (big-endian) is the canonical
// field element of pubkey: reduced < r and pubkey = reduced + k·r with
// 0 <= k <= 5.
func VerifyRecipientReduction(pubkey, reduced [32]byte) bool {
	r := field.Modulus()
	red := new(big.Int).SetBytes(reduced[:])
	if red.Cmp(r) >= 0 {
		return false
	}
	diff := new(big.Int).Sub(new(big.Int).SetBytes(pubkey[:]), red)
	if diff.Sign() < 0 {
		return false
	}
	q, m := new(big.Int).DivMod(diff, r, new(big.Int))
	return m.Sign() == 0 && q.Cmp(big.NewInt(maxRecipientQuotient)) <= 0
}

// canonicalLE reports whether b is the canonical little-endian encoding of a
// field element.
func canonicalLE(b [32]byte) bool {
	return field.FromBytesLE(b[:]).BytesLE() == b
}
