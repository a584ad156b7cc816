package jwt

import (
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/cozykost"
)

func testKey(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	priv := hex.EncodeToString(crypto.FromECDSA(key))
	addr, err := cozykost.PrivKeyToAddr(priv, cozykost.SignerPrefix)
	require.NoError(t, err)
	return priv, addr
}

func TestCreateValidate(t *testing.T) {
	priv, addr := testKey(t)

	token, err := Create(Claims{
		Issuer:         addr,
		Subject:        "user-1",
		Audience:       "cozykost.example",
		ExpirationTime: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}, priv)
	require.NoError(t, err)

	header, claims, err := Validate(token)
	require.NoError(t, err)
	assert.Equal(t, addr, header.KeyID)
	assert.Equal(t, Algorithm, header.Algorithm)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "cozykost.example", claims.Audience)
}

func TestValidateExpired(t *testing.T) {
	priv, addr := testKey(t)

	token, err := Create(Claims{
		Issuer:         addr,
		Subject:        "user-1",
		ExpirationTime: strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
	}, priv)
	require.NoError(t, err)

	_, _, err = Validate(token)
	assert.Error(t, err)
}

func TestValidateTamperedPayload(t *testing.T) {
	priv, addr := testKey(t)
	token, err := Create(Claims{Issuer: addr, Subject: "user-1"}, priv)
	require.NoError(t, err)

	other, err := Create(Claims{Issuer: addr, Subject: "user-2"}, priv)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, _, err = Validate(forged)
	assert.Error(t, err)
}

func TestValidateMalformed(t *testing.T) {
	_, _, err := Validate("a.b")
	assert.Error(t, err)
}
