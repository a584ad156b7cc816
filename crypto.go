package cozykost

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerPrefix is the bech32 human readable part of server signer addresses.
const SignerPrefix = "kost"

func GetHash(data []byte) []byte {
	return crypto.Keccak256(data)
}

func PubkeyToAddr(pub *ecdsa.PublicKey, hrp string) (string, error) {
	addr := crypto.PubkeyToAddress(*pub)
	return bech32.ConvertAndEncode(hrp, addr.Bytes())
}

func PrivKeyToAddr(privatekey string, hrp string) (string, error) {
	key, err := crypto.HexToECDSA(privatekey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return PubkeyToAddr(&key.PublicKey, hrp)
}

// SignBytes returns a 65 byte recoverable signature over the keccak256 digest of data.
func SignBytes(data []byte, privatekey string) ([]byte, error) {
	key, err := crypto.HexToECDSA(privatekey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.Sign(GetHash(data), key)
}

// VerifySignature recovers the signer of data and checks it against the bech32 address.
func VerifySignature(data []byte, signature []byte, address string) error {
	if len(signature) != 65 {
		return fmt.Errorf("invalid signature length %d", len(signature))
	}

	hrp, _, err := bech32.DecodeAndConvert(address)
	if err != nil {
		return fmt.Errorf("invalid signer address: %w", err)
	}

	pub, err := crypto.SigToPub(GetHash(data), signature)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered, err := PubkeyToAddr(pub, hrp)
	if err != nil {
		return err
	}

	if recovered != address {
		return fmt.Errorf("signature mismatch: signed by %s", recovered)
	}
	return nil
}
