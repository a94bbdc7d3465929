package blockchain

import (
	"bytes"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// Throwaway key for signature tests.
const testPrivateKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestNewLocalSigner(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if signer.Address().Hex() != "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" {
		t.Errorf("unexpected signer address %s", signer.Address().Hex())
	}

	// Prefix is optional.
	bare, err := NewLocalSigner(testPrivateKey[2:])
	if err != nil {
		t.Fatalf("NewLocalSigner without prefix failed: %v", err)
	}
	if bare.Address() != signer.Address() {
		t.Error("expected same address with and without 0x prefix")
	}

	if _, err := NewLocalSigner("not-a-key"); err == nil {
		t.Error("expected invalid key to be rejected")
	}
}

func TestSignMessageRecoverable(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	client := &Client{chainID: big.NewInt(84532), signer: signer}

	packed := []byte("arbitrary packed payload")
	sig, err := client.SignMessage(packed)
	if err != nil {
		t.Fatalf("SignMessage failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("expected V of 27 or 28, got %d", sig[64])
	}

	// ecrecover over the prefixed digest must yield the signer address.
	hash := crypto.Keccak256(packed)
	prefixed := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))),
		hash,
	)

	raw := make([]byte, 65)
	copy(raw, sig)
	raw[64] -= 27
	pub, err := crypto.SigToPub(prefixed, raw)
	if err != nil {
		t.Fatalf("failed to recover public key: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != signer.Address() {
		t.Error("recovered address does not match signer")
	}

	// Same payload, same key, deterministic signature.
	again, err := client.SignMessage(packed)
	if err != nil {
		t.Fatalf("second SignMessage failed: %v", err)
	}
	if !bytes.Equal(sig, again) {
		t.Error("expected deterministic signatures for identical payloads")
	}
}
