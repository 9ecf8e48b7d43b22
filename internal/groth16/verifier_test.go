package groth16

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// squareCircuit proves knowledge of X with X*X = Square and X+1 = Next.
type squareCircuit struct {
	Square frontend.Variable `gnark:",public"`
	Next   frontend.Variable `gnark:",public"`
	X      frontend.Variable
}

func (c *squareCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Square)
	api.AssertIsEqual(api.Add(c.X, 1), c.Next)
	return nil
}

type fixture struct {
	vk     *VerifyingKey
	proof  *Proof
	inputs [][32]byte
}

var (
	fixtureOnce sync.Once
	fixtureVal  fixture
	fixtureErr  error
)

func beInput(v int64) [32]byte {
	var e fr.Element
	e.SetInt64(v)
	return e.Bytes()
}

func loadFixture(t *testing.T) fixture {
	t.Helper()
	fixtureOnce.Do(func() {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &squareCircuit{})
		if err != nil {
			fixtureErr = err
			return
		}
		pk, vk, err := gnarkgroth16.Setup(ccs)
		if err != nil {
			fixtureErr = err
			return
		}
		w, err := frontend.NewWitness(&squareCircuit{Square: 9, Next: 4, X: 3}, ecc.BN254.ScalarField())
		if err != nil {
			fixtureErr = err
			return
		}
		proof, err := gnarkgroth16.Prove(ccs, pk, w)
		if err != nil {
			fixtureErr = err
			return
		}
		if fixtureVal.vk, err = FromGnarkVerifyingKey(vk); err != nil {
			fixtureErr = err
			return
		}
		if fixtureVal.proof, err = FromGnarkProof(proof); err != nil {
			fixtureErr = err
			return
		}
		fixtureVal.inputs = [][32]byte{beInput(9), beInput(4)}
	})
	if fixtureErr != nil {
		t.Fatalf("fixture: %v", fixtureErr)
	}
	return fixtureVal
}

func TestVerifyValidProof(t *testing.T) {
	f := loadFixture(t)

	ok, err := Verify(f.proof, f.inputs, f.vk)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("valid proof rejected")
	}

	ok, err = VerifyBytes(f.proof.Bytes(), f.inputs, f.vk)
	if err != nil || !ok {
		t.Fatalf("VerifyBytes: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsWrongInputs(t *testing.T) {
	f := loadFixture(t)
	ok, err := Verify(f.proof, [][32]byte{beInput(16), beInput(5)}, f.vk)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("proof accepted for different public inputs")
	}
}

func TestVerifyRejectsBitFlipInC(t *testing.T) {
	f := loadFixture(t)
	enc := f.proof.Bytes()

	for bit := 0; bit < G1Size*8; bit++ {
		tampered := append([]byte(nil), enc...)
		tampered[192+bit/8] ^= 1 << (bit % 8)

		ok, err := VerifyBytes(tampered, f.inputs, f.vk)
		if ok || err != nil {
			t.Fatalf("bit %d: ok=%v err=%v, want (false, nil)", bit, ok, err)
		}
	}
}

func TestVerifyRejectsOffCurvePoints(t *testing.T) {
	f := loadFixture(t)
	enc := f.proof.Bytes()

	t.Run("a not on curve", func(t *testing.T) {
		tampered := append([]byte(nil), enc...)
		tampered[63] ^= 1
		ok, err := VerifyBytes(tampered, f.inputs, f.vk)
		if ok || err != nil {
			t.Fatalf("ok=%v err=%v, want (false, nil)", ok, err)
		}
	})

	t.Run("b coordinate not reduced", func(t *testing.T) {
		tampered := append([]byte(nil), enc...)
		for i := 64; i < 96; i++ {
			tampered[i] = 0xff
		}
		ok, err := VerifyBytes(tampered, f.inputs, f.vk)
		if ok || err != nil {
			t.Fatalf("ok=%v err=%v, want (false, nil)", ok, err)
		}
	})

	t.Run("parse still reports the point", func(t *testing.T) {
		tampered := append([]byte(nil), enc...)
		tampered[255] ^= 1
		if _, err := ParseProof(tampered); !errors.Is(err, ErrMalformedProof) {
			t.Fatalf("err = %v, want ErrMalformedProof", err)
		}
	})

	t.Run("ic length checked first", func(t *testing.T) {
		tampered := append([]byte(nil), enc...)
		tampered[255] ^= 1
		if _, err := VerifyBytes(tampered, f.inputs[:1], f.vk); !errors.Is(err, ErrICLength) {
			t.Fatalf("err = %v, want ErrICLength", err)
		}
	})
}

func TestVerifyMalformedInput(t *testing.T) {
	f := loadFixture(t)

	t.Run("ic length mismatch", func(t *testing.T) {
		_, err := Verify(f.proof, f.inputs[:1], f.vk)
		if !errors.Is(err, ErrICLength) {
			t.Fatalf("err = %v, want ErrICLength", err)
		}
	})

	t.Run("input not reduced", func(t *testing.T) {
		var r [32]byte
		fr.Modulus().FillBytes(r[:])
		_, err := Verify(f.proof, [][32]byte{r, f.inputs[1]}, f.vk)
		if !errors.Is(err, ErrInputOutOfField) {
			t.Fatalf("err = %v, want ErrInputOutOfField", err)
		}
	})

	t.Run("zero proof", func(t *testing.T) {
		_, err := VerifyBytes(make([]byte, ProofSize), f.inputs, f.vk)
		if !errors.Is(err, ErrMalformedProof) {
			t.Fatalf("err = %v, want ErrMalformedProof", err)
		}
	})

	t.Run("short proof", func(t *testing.T) {
		_, err := VerifyBytes(make([]byte, 10), f.inputs, f.vk)
		if !errors.Is(err, ErrMalformedProof) {
			t.Fatalf("err = %v, want ErrMalformedProof", err)
		}
	})
}

func TestVerifyingKeyEncoding(t *testing.T) {
	f := loadFixture(t)

	b, err := f.vk.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if want := G1Size + 3*G2Size + 4 + 3*G1Size; len(b) != want {
		t.Fatalf("encoded length %d, want %d", len(b), want)
	}

	v, err := NewVerifier(b)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	ok, err := v.VerifyProof(f.proof.Bytes(), f.inputs)
	if err != nil || !ok {
		t.Fatalf("VerifyProof after round trip: ok=%v err=%v", ok, err)
	}

	t.Run("ic length out of range", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[G1Size+3*G2Size] = 11
		if _, err := NewVerifier(bad); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("err = %v, want ErrMalformedKey", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := NewVerifier(b[:len(b)-1]); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("err = %v, want ErrMalformedKey", err)
		}
	})

	t.Run("alpha off curve", func(t *testing.T) {
		bad := append([]byte(nil), b...)
		bad[63] ^= 1
		if _, err := NewVerifier(bad); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("err = %v, want ErrMalformedKey", err)
		}
	})
}

func TestProofEncoding(t *testing.T) {
	f := loadFixture(t)
	enc := f.proof.Bytes()
	if len(enc) != ProofSize {
		t.Fatalf("proof length %d", len(enc))
	}
	p, err := ParseProof(enc)
	if err != nil {
		t.Fatalf("ParseProof: %v", err)
	}
	if !p.A.Equal(&f.proof.A) || !p.B.Equal(&f.proof.B) || !p.C.Equal(&f.proof.C) {
		t.Fatal("proof round trip mismatch")
	}

	// G1 x || y, big-endian
	x := new(big.Int).SetBytes(enc[0:32])
	if x.Cmp(f.proof.A.X.BigInt(new(big.Int))) != 0 {
		t.Fatal("A.x not big-endian at offset 0")
	}
	// G2 x.c1 first
	xc1 := new(big.Int).SetBytes(enc[64:96])
	if xc1.Cmp(f.proof.B.X.A1.BigInt(new(big.Int))) != 0 {
		t.Fatal("B.x.c1 not at offset 64")
	}
}
