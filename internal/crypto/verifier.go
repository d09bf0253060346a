// Package crypto provides cancel-request signature verification and API key
// hashing for the HTTP surface.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/castlefield/tickbook/internal/domain"
)

// CancelMessage is the plain-text message an owner signs to authorize
// cancelling one of their orders.
func CancelMessage(orderID uint64) string {
	return fmt.Sprintf("tickbook: cancel order %d", orderID)
}

// cancelDigest applies EIP-191 personal-sign prefixing to the cancel message.
func cancelDigest(orderID uint64) []byte {
	msg := CancelMessage(orderID)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// VerifyCancel recovers the signer of a cancel message and checks it matches
// the order owner. The signature is hex-encoded r || s || v (65 bytes), with
// v in {0,1} or {27,28}.
func VerifyCancel(orderID uint64, owner common.Address, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("crypto: decode cancel signature: %w", domain.ErrValidation)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: cancel signature must be 65 bytes, got %d: %w", len(sig), domain.ErrValidation)
	}

	// go-ethereum recovery wants v in {0,1}.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(cancelDigest(orderID), recSig)
	if err != nil {
		return fmt.Errorf("crypto: recover cancel signer: %w", domain.ErrValidation)
	}
	if ethcrypto.PubkeyToAddress(*pub) != owner {
		return fmt.Errorf("crypto: cancel order %d signed by wrong key: %w", orderID, domain.ErrUnauthorized)
	}
	return nil
}

// SignCancel produces a cancel signature for the given order. Used by the sim
// mode and tests; real owners sign client-side.
func SignCancel(orderID uint64, key *ecdsa.PrivateKey) (string, error) {
	sig, err := ethcrypto.Sign(cancelDigest(orderID), key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign cancel: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
