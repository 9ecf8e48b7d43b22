package field

import (
	"crypto/rand"
	"math/big"
	"testing"
)

func randBig(t *testing.T, bound *big.Int) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		t.Fatalf("rand: %v", err)
	}
	return n
}

func boundaryValues() []*big.Int {
	r := Modulus()
	return []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(2),
		new(big.Int).Sub(r, big.NewInt(1)),
		new(big.Int).Sub(r, big.NewInt(2)),
		new(big.Int).Rsh(r, 1),
		new(big.Int).Lsh(big.NewInt(1), 64),
		new(big.Int).Lsh(big.NewInt(1), 253),
	}
}

func TestArithmeticMatchesBigInt(t *testing.T) {
	r := Modulus()
	vals := boundaryValues()
	for i := 0; i < 32; i++ {
		vals = append(vals, randBig(t, r))
	}

	for _, x := range vals {
		for _, y := range vals {
			a, b := FromBigInt(x), FromBigInt(y)

			wantAdd := new(big.Int).Add(x, y)
			wantAdd.Mod(wantAdd, r)
			if got := a.Add(b).BigInt(); got.Cmp(wantAdd) != 0 {
				t.Fatalf("add(%v, %v) = %v, want %v", x, y, got, wantAdd)
			}

			wantSub := new(big.Int).Sub(x, y)
			wantSub.Mod(wantSub, r)
			if got := a.Sub(b).BigInt(); got.Cmp(wantSub) != 0 {
				t.Fatalf("sub(%v, %v) = %v, want %v", x, y, got, wantSub)
			}

			wantMul := new(big.Int).Mul(x, y)
			wantMul.Mod(wantMul, r)
			if got := a.Mul(b).BigInt(); got.Cmp(wantMul) != 0 {
				t.Fatalf("mul(%v, %v) = %v, want %v", x, y, got, wantMul)
			}
		}
	}
}

func TestMulWide(t *testing.T) {
	r := Modulus()
	for i := 0; i < 64; i++ {
		x, y := randBig(t, r), randBig(t, r)
		a, b := FromBigInt(x), FromBigInt(y)

		w := MulWide(a, b)
		got := new(big.Int)
		for j := 7; j >= 0; j-- {
			got.Lsh(got, 64)
			got.Or(got, new(big.Int).SetUint64(w[j]))
		}
		want := new(big.Int).Mul(x, y)
		if got.Cmp(want) != 0 {
			t.Fatalf("MulWide mismatch: got %v want %v", got, want)
		}

		if !Reduce512(w).Equal(a.Mul(b)) {
			t.Fatal("Reduce512(MulWide(a, b)) != a*b")
		}
	}
}

func TestReduce512(t *testing.T) {
	r := Modulus()

	t.Run("all ones", func(t *testing.T) {
		var w [8]uint64
		for i := range w {
			w[i] = ^uint64(0)
		}
		want := new(big.Int).Lsh(big.NewInt(1), 512)
		want.Sub(want, big.NewInt(1))
		want.Mod(want, r)
		if got := Reduce512(w).BigInt(); got.Cmp(want) != 0 {
			t.Fatalf("got %v want %v", got, want)
		}
	})

	t.Run("exact modulus", func(t *testing.T) {
		var w [8]uint64
		w[0], w[1], w[2], w[3] = q0, q1, q2, q3
		if !Reduce512(w).IsZero() {
			t.Fatal("r should reduce to zero")
		}
	})

	t.Run("random", func(t *testing.T) {
		bound := new(big.Int).Lsh(big.NewInt(1), 512)
		for i := 0; i < 64; i++ {
			x := randBig(t, bound)
			var w [8]uint64
			words := x.Bits()
			for j := range words {
				w[j] = uint64(words[j])
			}
			want := new(big.Int).Mod(x, r)
			if got := Reduce512(w).BigInt(); got.Cmp(want) != 0 {
				t.Fatalf("got %v want %v", got, want)
			}
		}
	})
}

func TestByteEncodings(t *testing.T) {
	t.Run("little endian round trip", func(t *testing.T) {
		e := FromUint64(0x0102030405060708)
		b := e.BytesLE()
		if b[0] != 0x08 || b[7] != 0x01 {
			t.Fatalf("unexpected LE layout: %x", b)
		}
		if !FromBytesLE(b[:]).Equal(e) {
			t.Fatal("LE round trip failed")
		}
	})

	t.Run("big endian round trip", func(t *testing.T) {
		e := FromUint64(0x0102030405060708)
		b := e.BytesBE()
		if b[31] != 0x08 || b[24] != 0x01 {
			t.Fatalf("unexpected BE layout: %x", b)
		}
		if !FromBytesBE(b[:]).Equal(e) {
			t.Fatal("BE round trip failed")
		}
	})

	t.Run("oversized input reduces", func(t *testing.T) {
		var max [32]byte
		for i := range max {
			max[i] = 0xff
		}
		want := new(big.Int).Lsh(big.NewInt(1), 256)
		want.Sub(want, big.NewInt(1))
		want.Mod(want, Modulus())
		if got := FromBytesLE(max[:]).BigInt(); got.Cmp(want) != 0 {
			t.Fatalf("got %v want %v", got, want)
		}
	})
}

func TestPow5(t *testing.T) {
	x := FromUint64(3)
	if got := x.Pow5(); !got.Equal(FromUint64(243)) {
		t.Fatalf("3^5 = %v", got)
	}
	neg := FromUint64(1).Neg()
	if !neg.Pow5().Equal(neg) {
		t.Fatal("(-1)^5 should be -1")
	}
}
