// Package hsm keeps the ledger's settlement signing keys. Private keys are
// sealed with AES-GCM under a master key derived with Argon2 before they
// touch disk.
package hsm

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidSignature = errors.New("invalid signature")
)

var validKeyID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// KeyStore signs settlement messages with its active RSA key. Rotated keys
// stay loaded so signatures made before a rotation still verify.
type KeyStore struct {
	keys         map[string]*KeyPair
	activeID     string
	masterKey    []byte
	mu           sync.RWMutex
	keyStorePath string
	keyBits      int
	now          func() time.Time
}

// KeyPair holds RSA key pair
type KeyPair struct {
	ID         string
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

// storedKey is the sealed on-disk form of a KeyPair.
type storedKey struct {
	ID         string    `json:"id"`
	PrivateKey []byte    `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds HSM configuration
type Config struct {
	MasterKey    string
	Salt         string
	KeyStorePath string
	// KeyID names the first key generated when the store is empty.
	KeyID   string
	KeyBits int
}

// InitKeyStore opens the key store, loading every sealed key under
// KeyStorePath and generating the first key when there is none.
func InitKeyStore(config Config) (*KeyStore, error) {
	if config.MasterKey == "" {
		return nil, errors.New("master key required")
	}
	if config.Salt == "" {
		return nil, errors.New("salt required")
	}
	if config.KeyID == "" {
		config.KeyID = "settlement"
	}
	if err := validateKeyID(config.KeyID); err != nil {
		return nil, fmt.Errorf("invalid key ID: %w", err)
	}
	if config.KeyBits == 0 {
		config.KeyBits = 2048
	}

	ks := &KeyStore{
		keys:         make(map[string]*KeyPair),
		masterKey:    deriveKey(config.MasterKey, config.Salt, 32),
		keyStorePath: config.KeyStorePath,
		keyBits:      config.KeyBits,
		now:          time.Now,
	}

	if err := ks.loadKeys(); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}

	if len(ks.keys) == 0 {
		if _, err := ks.GenerateKeyPair(config.KeyID); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	log.Printf("[HSM] Key store ready with %d key(s), active %s", len(ks.keys), ks.ActiveKeyID())
	return ks, nil
}

// GenerateKeyPair creates a new RSA key pair, persists it and makes it the
// active signing key.
func (h *KeyStore) GenerateKeyPair(keyID string) (*KeyPair, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, fmt.Errorf("invalid key ID: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, h.keyBits)
	if err != nil {
		return nil, err
	}
	keyPair := &KeyPair{ID: keyID, PrivateKey: privateKey, CreatedAt: h.now().UTC()}

	if err := h.saveKeyToDisk(keyPair); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	h.mu.Lock()
	h.keys[keyID] = keyPair
	h.activeID = keyID
	h.mu.Unlock()

	log.Printf("[HSM] Generated signing key %s", keyID)
	return keyPair, nil
}

// RotateKeys replaces the active key with a freshly generated one.
func (h *KeyStore) RotateKeys() (string, error) {
	keyID := fmt.Sprintf("settlement-%d", h.now().UTC().UnixNano())
	if _, err := h.GenerateKeyPair(keyID); err != nil {
		return "", err
	}
	return keyID, nil
}

func (h *KeyStore) ActiveKeyID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeID
}

// Sign signs data with the active key and returns the key id with the
// base64 PKCS#1 v1.5 SHA-256 signature.
func (h *KeyStore) Sign(data []byte) (string, string, error) {
	h.mu.RLock()
	keyPair, exists := h.keys[h.activeID]
	h.mu.RUnlock()
	if !exists {
		return "", "", ErrKeyNotFound
	}

	hashed := sha256.Sum256(data)
	signature, err := rsa.SignPKCS1v15(rand.Reader, keyPair.PrivateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return "", "", fmt.Errorf("failed to sign data: %w", err)
	}
	return keyPair.ID, base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks a signature produced by Sign.
func (h *KeyStore) Verify(keyID string, data []byte, signature string) error {
	h.mu.RLock()
	keyPair, exists := h.keys[keyID]
	h.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	hashed := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(&keyPair.PrivateKey.PublicKey, crypto.SHA256, hashed[:], raw); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// GetPublicKey returns the PEM encoded public half of a key, for handing to
// the clearing counterparty.
func (h *KeyStore) GetPublicKey(keyID string) (string, error) {
	h.mu.RLock()
	keyPair, exists := h.keys[keyID]
	h.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	der, err := x509.MarshalPKIXPublicKey(&keyPair.PrivateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Private helper methods
func (h *KeyStore) loadKeys() error {
	if h.keyStorePath == "" {
		return nil
	}

	files, err := os.ReadDir(h.keyStorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(h.keyStorePath, 0700)
		}
		return err
	}

	var loaded []*KeyPair
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".key" {
			continue
		}

		keyData, err := os.ReadFile(filepath.Join(h.keyStorePath, file.Name()))
		if err != nil {
			return err
		}

		decrypted, err := h.decryptWithMasterKey(keyData)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Name(), err)
		}

		var stored storedKey
		if err := json.Unmarshal(decrypted, &stored); err != nil {
			return fmt.Errorf("%s: %w", file.Name(), err)
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(stored.PrivateKey)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Name(), err)
		}

		loaded = append(loaded, &KeyPair{ID: stored.ID, PrivateKey: privateKey, CreatedAt: stored.CreatedAt})
	}

	// newest key signs
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].CreatedAt.Before(loaded[j].CreatedAt) })
	for _, keyPair := range loaded {
		h.keys[keyPair.ID] = keyPair
		h.activeID = keyPair.ID
	}
	return nil
}

func (h *KeyStore) saveKeyToDisk(keyPair *KeyPair) error {
	if h.keyStorePath == "" {
		return nil
	}

	keyData, err := json.Marshal(storedKey{
		ID:         keyPair.ID,
		PrivateKey: x509.MarshalPKCS1PrivateKey(keyPair.PrivateKey),
		CreatedAt:  keyPair.CreatedAt,
	})
	if err != nil {
		return err
	}

	encrypted, err := h.encryptWithMasterKey(keyData)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(h.keyStorePath, 0700); err != nil {
		return err
	}
	keyPath := filepath.Join(h.keyStorePath, keyPair.ID+".key")
	return os.WriteFile(keyPath, encrypted, 0600)
}

func (h *KeyStore) encryptWithMasterKey(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (h *KeyStore) decryptWithMasterKey(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}

// validateKeyID validates key ID to prevent path traversal attacks
func validateKeyID(keyID string) error {
	if keyID == "" {
		return errors.New("key ID cannot be empty")
	}
	if !validKeyID.MatchString(keyID) {
		return errors.New("key ID contains invalid characters")
	}
	return nil
}
