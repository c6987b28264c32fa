// Package wallet owns one secp256k1 signing key, derives its base58check
// address, and signs/verifies the "spend message" that authorizes a
// transaction input. Key handling (btcec key generation, DER encoding with
// low-S canonicalization) is adapted from the teacher's
// pkg/wallet/wallet.go; address derivation adds the RIPEMD-160 step the
// teacher's SHA-256-only scheme skips, matching pubkey_to_address.
package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // teacher's pack uses this for address hashing; no replacement in the corpus.

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/codec"
)

// addressVersion is the version byte prepended before the base58check
// checksum, matching pubkey_to_address's 0x00 prefix.
const addressVersion = 0x00

// Wallet holds exactly one signing key, persisted to a plain file on
// disk: keyed wallet storage is out of this system's scope beyond a raw
// read/write of the private key bytes.
type Wallet struct {
	log     *zap.Logger
	priv    *btcec.PrivateKey
	address string
}

// Load reads the private key from path, generating and writing a new one
// if the file does not exist.
func Load(path string, log *zap.Logger) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return newWallet(priv, log), nil
	case os.IsNotExist(err):
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: generate key: %w", err)
		}
		if err := os.WriteFile(path, priv.Serialize(), 0o600); err != nil {
			return nil, fmt.Errorf("wallet: write key file: %w", err)
		}
		log.Info("generated new wallet key", zap.String("path", path))
		return newWallet(priv, log), nil
	default:
		return nil, fmt.Errorf("wallet: read key file: %w", err)
	}
}

func newWallet(priv *btcec.PrivateKey, log *zap.Logger) *Wallet {
	w := &Wallet{priv: priv, log: log}
	w.address = AddressFromPubKey(priv.PubKey().SerializeUncompressed())
	return w
}

// Address returns the wallet's base58check address.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKeyBytes returns the uncompressed public key, the form unlock_pk
// carries on the wire.
func (w *Wallet) PublicKeyBytes() []byte {
	return w.priv.PubKey().SerializeUncompressed()
}

// AddressFromPubKey computes pubkey_to_address(pk) = base58check(0x00 ||
// RIPEMD160(SHA256(pk))).
func AddressFromPubKey(pubKey []byte) string {
	sha := sha256.Sum256(pubKey)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	pubKeyHash := ripe.Sum(nil)

	versioned := append([]byte{addressVersion}, pubKeyHash...)
	checksum1 := sha256.Sum256(versioned)
	checksum2 := sha256.Sum256(checksum1[:])
	full := append(versioned, checksum2[:4]...)
	return base58.Encode(full)
}

// ValidateAddress reports whether addr decodes to a well-formed,
// checksum-valid base58check address.
func ValidateAddress(addr string) error {
	data, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("wallet: invalid base58 address: %w", err)
	}
	if len(data) != 1+20+4 {
		return fmt.Errorf("wallet: invalid address length %d", len(data))
	}
	versioned, checksum := data[:len(data)-4], data[len(data)-4:]
	hash1 := sha256.Sum256(versioned)
	hash2 := sha256.Sum256(hash1[:])
	for i := range checksum {
		if checksum[i] != hash2[i] {
			return errors.New("wallet: address checksum mismatch")
		}
	}
	return nil
}

// BuildSpendMessage computes the message signed to authorize spending
// outpoint at the given sequence with pubkey, binding it to every output
// of the spending transaction: sha256d(serialize(outpoint) ||
// str(sequence) || hex(pubkey) || serialize(txouts)).
func BuildSpendMessage(outpoint block.OutPoint, sequence uint32, pubKey []byte, txouts []block.TxOut) ([]byte, error) {
	opBytes, err := codec.Marshal(outpoint)
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal outpoint: %w", err)
	}
	outsBytes, err := codec.Marshal(txouts)
	if err != nil {
		return nil, fmt.Errorf("wallet: marshal txouts: %w", err)
	}
	buf := append([]byte{}, opBytes...)
	buf = append(buf, []byte(fmt.Sprintf("%d", sequence))...)
	buf = append(buf, []byte(fmt.Sprintf("%x", pubKey))...)
	buf = append(buf, outsBytes...)
	return codec.SHA256D(buf), nil
}

// Sign produces a DER-encoded, low-S-canonicalized signature over msg.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	return signDER(w.priv.ToECDSA(), msg)
}

func signDER(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, msg)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	return encodeSignatureDER(r, s)
}

// VerifySignature verifies sig over msg under the secp256k1 public key
// pubKey (uncompressed encoding), rejecting non-canonical (high-S)
// signatures.
func VerifySignature(pubKey, sig, msg []byte) error {
	btcPubKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("wallet: parse public key: %w", err)
	}
	r, s, err := decodeSignatureDER(sig)
	if err != nil {
		return err
	}
	if err := verifyCanonicalSignature(r, s); err != nil {
		return err
	}
	if !ecdsa.Verify(btcPubKey.ToECDSA(), msg, r, s) {
		return errors.New("wallet: signature verification failed")
	}
	return nil
}

// canonicalSignature enforces low-S: if s > N/2, replace it with N - s.
func canonicalSignature(r, s *big.Int) (*big.Int, *big.Int) {
	n := btcec.S256().N
	half := new(big.Int).Rsh(n, 1)
	if s.Cmp(half) > 0 {
		s = new(big.Int).Sub(n, s)
	}
	return r, s
}

func encodeSignatureDER(r, s *big.Int) ([]byte, error) {
	r, s = canonicalSignature(r, s)
	sig := struct{ R, S *big.Int }{r, s}
	return asn1.Marshal(sig)
}

func decodeSignatureDER(sig []byte) (*big.Int, *big.Int, error) {
	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
		return nil, nil, fmt.Errorf("wallet: unmarshal DER signature: %w", err)
	}
	return parsed.R, parsed.S, nil
}

func verifyCanonicalSignature(r, s *big.Int) error {
	n := btcec.S256().N
	if r.Sign() <= 0 || r.Cmp(n) >= 0 {
		return errors.New("wallet: signature r out of bounds")
	}
	if s.Sign() <= 0 || s.Cmp(n) >= 0 {
		return errors.New("wallet: signature s out of bounds")
	}
	half := new(big.Int).Rsh(n, 1)
	if s.Cmp(half) > 0 {
		return errors.New("wallet: signature s not in canonical (low-S) form")
	}
	return nil
}
