package clients

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKey(t *testing.T) {
	generated, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(generated))

	parsed, err := loadKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(generated.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	throwaway, err := loadKey("")
	require.NoError(t, err)
	assert.NotNil(t, throwaway)

	_, err = loadKey("zz")
	assert.Error(t, err)
}
