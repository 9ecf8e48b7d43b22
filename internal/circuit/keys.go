// keys.go - Constraint compilation and Groth16 key files.

package circuit

import (
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"stealthpool/internal/groth16"
)

// Compile builds the constraint system for a tree of the given depth.
func Compile(depth int) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewWithdrawCircuit(depth))
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// SaveProvingKey writes a proving key to disk.
func SaveProvingKey(path string, pk gnarkgroth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey writes a verifying key to disk in gnark's format.
func SaveVerifyingKey(path string, vk gnarkgroth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey reads a proving key written by SaveProvingKey.
func LoadProvingKey(path string) (gnarkgroth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := gnarkgroth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey reads a verifying key written by SaveVerifyingKey.
func LoadVerifyingKey(path string) (gnarkgroth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := gnarkgroth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads the key pair if both files exist, otherwise runs a
// fresh setup and saves it.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (gnarkgroth16.ProvingKey, gnarkgroth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}

	pk, vk, err := gnarkgroth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// ExportVerifyingKey converts a gnark key into the compact binary form the
// pool verifier loads.
func ExportVerifyingKey(vk gnarkgroth16.VerifyingKey) ([]byte, error) {
	k, err := groth16.FromGnarkVerifyingKey(vk)
	if err != nil {
		return nil, err
	}
	return k.MarshalBinary()
}
