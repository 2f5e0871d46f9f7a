package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Signer signs transaction messages on behalf of one account.
type Signer interface {
	PublicKey() AccountID
	Sign(message []byte) ([]byte, error)
}

// Keypair is an in-memory ed25519 signer.
type Keypair struct {
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a random keypair. New ledger accounts are minted
// from these; the payer should come from LoadSigner* instead.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromSecret wraps a 64-byte ed25519 secret key (seed || public key).
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), secret...))
	derived := ed25519.NewKeyFromSeed(priv.Seed())
	if !derived.Equal(priv) {
		return nil, errors.New("secret key public half does not match its seed")
	}
	return &Keypair{priv: priv}, nil
}

// PublicKey implements Signer.
func (k *Keypair) PublicKey() AccountID {
	var id AccountID
	copy(id[:], k.priv.Public().(ed25519.PublicKey))
	return id
}

// Sign implements Signer.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

// Secret returns a copy of the 64-byte secret key.
func (k *Keypair) Secret() []byte {
	return append([]byte(nil), k.priv...)
}

// LoadSignerFromBase58 parses a base58 64-byte secret key, the format
// wallets export.
func LoadSignerFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	return KeypairFromSecret(raw)
}

// LoadSignerFile reads a keypair file. Two formats are accepted: the plain
// JSON byte array written by the Solana CLI, and the sealed format written
// by SealKeyfile, which requires passphrase.
func LoadSignerFile(path, passphrase string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signer file: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(trimmed), &ints); err != nil {
			return nil, fmt.Errorf("parse keypair array: %w", err)
		}
		secret := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range: %d", i, v)
			}
			secret[i] = byte(v)
		}
		return KeypairFromSecret(secret)
	}

	var sealed sealedKeyfile
	if err := json.Unmarshal([]byte(trimmed), &sealed); err != nil {
		return nil, fmt.Errorf("parse sealed keyfile: %w", err)
	}
	if passphrase == "" {
		return nil, errors.New("sealed keyfile requires a passphrase")
	}
	return sealed.open(passphrase)
}

// scrypt parameters for sealed keyfiles
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

type sealedKeyfile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealKeyfile encrypts the keypair under passphrase with scrypt and
// NaCl secretbox and returns the JSON document to write to disk.
func SealKeyfile(k *Keypair, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	key, err := deriveKey(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}
	sealed := sealedKeyfile{
		Version:    1,
		PublicKey:  k.PublicKey().String(),
		KDF:        "scrypt",
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
		Salt:       salt,
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, k.priv, &nonce, key),
	}
	return json.MarshalIndent(sealed, "", "  ")
}

func (s *sealedKeyfile) open(passphrase string) (*Keypair, error) {
	if s.Version != 1 || s.KDF != "scrypt" {
		return nil, fmt.Errorf("unsupported keyfile version %d kdf %q", s.Version, s.KDF)
	}
	if len(s.Nonce) != 24 {
		return nil, errors.New("keyfile nonce must be 24 bytes")
	}
	key, err := deriveKey(passphrase, s.Salt, s.N, s.R, s.P)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], s.Nonce)
	secret, ok := secretbox.Open(nil, s.Ciphertext, &nonce, key)
	if !ok {
		return nil, errors.New("wrong passphrase or corrupted keyfile")
	}
	kp, err := KeypairFromSecret(secret)
	if err != nil {
		return nil, err
	}
	if s.PublicKey != "" && kp.PublicKey().String() != s.PublicKey {
		return nil, errors.New("keyfile public key does not match sealed secret")
	}
	return kp, nil
}

func deriveKey(passphrase string, salt []byte, n, r, p int) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, n, r, p, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
