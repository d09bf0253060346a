package crypto

import (
	"encoding/hex"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/domain"
)

func TestCancelSignature_RoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignCancel(42, key)
	require.NoError(t, err)

	assert.NoError(t, VerifyCancel(42, owner, sig))
}

func TestCancelSignature_WrongSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	sig, err := SignCancel(42, key)
	require.NoError(t, err)

	err = VerifyCancel(42, ethcrypto.PubkeyToAddress(other.PublicKey), sig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCancelSignature_WrongOrderID(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	sig, err := SignCancel(42, key)
	require.NoError(t, err)

	// A signature for order 42 must not authorize cancelling order 43.
	err = VerifyCancel(43, owner, sig)
	assert.Error(t, err)
}

func TestCancelSignature_Malformed(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	assert.ErrorIs(t, VerifyCancel(1, owner, "not-hex"), domain.ErrValidation)
	assert.ErrorIs(t, VerifyCancel(1, owner, "0xdeadbeef"), domain.ErrValidation)
}

func TestAPIKeyVerifier(t *testing.T) {
	saltHex, err := GenerateSalt()
	require.NoError(t, err)
	salt, err := hex.DecodeString(saltHex)
	require.NoError(t, err)

	hashHex := hex.EncodeToString(HashAPIKey("s3cret", salt))

	v, err := NewAPIKeyVerifier(hashHex, saltHex)
	require.NoError(t, err)
	require.True(t, v.Enabled())

	assert.True(t, v.Verify("s3cret"))
	assert.False(t, v.Verify("wrong"))
}

func TestAPIKeyVerifier_DisabledAcceptsAll(t *testing.T) {
	v, err := NewAPIKeyVerifier("", "")
	require.NoError(t, err)
	assert.False(t, v.Enabled())
	assert.True(t, v.Verify("anything"))
}

func TestAPIKeyVerifier_RejectsPartialConfig(t *testing.T) {
	_, err := NewAPIKeyVerifier("zz", "00")
	assert.Error(t, err)

	_, err = NewAPIKeyVerifier("deadbeef", "00")
	assert.Error(t, err, "hash of wrong length")
}
