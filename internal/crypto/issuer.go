package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

const (
	// AddressVersion is the version byte prepended to issuer addresses
	AddressVersion = 0x00

	// ChecksumLength is the length of address checksum
	ChecksumLength = 4
)

// Issuer is the signing identity of the party issuing artifact records
type Issuer struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  []byte // Compressed secp256k1 public key (33 bytes)
}

// NewIssuer creates an issuer with a freshly generated secp256k1 key pair
func NewIssuer() (*Issuer, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return &Issuer{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PubKey().SerializeCompressed(),
	}, nil
}

// IssuerFromHex restores an issuer from a hex-encoded private key
func IssuerFromHex(hexKey string) (*Issuer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid private key length %d", len(raw))
	}

	privateKey, publicKey := btcec.PrivKeyFromBytes(raw)
	return &Issuer{
		PrivateKey: privateKey,
		PublicKey:  publicKey.SerializeCompressed(),
	}, nil
}

// PrivateKeyHex returns the hex encoding of the private key scalar
func (i *Issuer) PrivateKeyHex() string {
	return hex.EncodeToString(i.PrivateKey.Serialize())
}

// PublicKeyHex returns the hex encoding of the compressed public key
func (i *Issuer) PublicKeyHex() string {
	return hex.EncodeToString(i.PublicKey)
}

// Address returns the issuer's Base58Check address
// Address = Base58(version + RIPEMD160(SHA256(pubKey)) + checksum)
func (i *Issuer) Address() string {
	return AddressFromPubKey(i.PublicKey)
}

// Sign signs SHA256(message) and returns a DER-encoded signature
func (i *Issuer) Sign(message []byte) []byte {
	hash := sha256.Sum256(message)
	return ecdsa.Sign(i.PrivateKey, hash[:]).Serialize()
}

// VerifySignature verifies a DER signature over SHA256(message)
func VerifySignature(pubKey, message, signature []byte) bool {
	publicKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}

	hash := sha256.Sum256(message)
	return sig.Verify(hash[:], publicKey)
}

// AddressFromPubKey generates an address from a public key
func AddressFromPubKey(pubKey []byte) string {
	return EncodeAddress(PublicKeyHash(pubKey))
}

// EncodeAddress encodes a public key hash into an address
func EncodeAddress(pubKeyHash []byte) string {
	versionedPayload := append([]byte{AddressVersion}, pubKeyHash...)
	checksum := Checksum(versionedPayload)
	return base58.Encode(append(versionedPayload, checksum...))
}

// DecodeAddress decodes an address to its public key hash
func DecodeAddress(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}

	if len(decoded) < ChecksumLength+1 {
		return nil, fmt.Errorf("invalid address length")
	}

	payload := decoded[:len(decoded)-ChecksumLength]
	checksumProvided := decoded[len(decoded)-ChecksumLength:]

	if string(Checksum(payload)) != string(checksumProvided) {
		return nil, fmt.Errorf("invalid address checksum")
	}

	return payload[1:], nil
}

// Checksum generates a 4-byte checksum for address encoding
func Checksum(payload []byte) []byte {
	return DoubleHashBytes(payload)[:ChecksumLength]
}

// PublicKeyHash returns the RIPEMD160(SHA256(pubKey))
func PublicKeyHash(pubKey []byte) []byte {
	sha256Hash := sha256.Sum256(pubKey)
	ripemd160Hasher := ripemd160.New()
	ripemd160Hasher.Write(sha256Hash[:])
	return ripemd160Hasher.Sum(nil)
}
