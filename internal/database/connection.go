package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with encryption capabilities
type DB struct {
	conn   *sql.DB
	cipher cipher.AEAD
}

// Config holds database configuration options
type Config struct {
	DatabasePath  string
	EncryptionKey []byte
}

// NewDB creates a new database connection with the specified configuration
func NewDB(config Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", config.DatabasePath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	block, err := aes.NewCipher(config.EncryptionKey)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	db := &DB{
		conn:   conn,
		cipher: gcm,
	}

	if err := db.configurePragmas(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Open opens the database at path. A non-empty passphrase is stretched into
// the encryption key; otherwise a random key is kept in a file next to the
// database.
func Open(path, passphrase string) (*DB, error) {
	var key []byte
	if passphrase != "" {
		key = KeyFromPassphrase(passphrase)
	} else {
		var err error
		key, err = loadOrCreateKey(path + ".key")
		if err != nil {
			return nil, err
		}
	}
	return NewDB(Config{DatabasePath: path, EncryptionKey: key})
}

// KeyFromPassphrase derives a 32 byte AES key from a passphrase
func KeyFromPassphrase(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key file %s is corrupt", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	}

	key = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write encryption key: %w", err)
	}
	return key, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB cache
		"PRAGMA temp_store = memory",
	}

	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is usable
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Encrypt encrypts data using AES-GCM
func (db *DB) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, db.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := db.cipher.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts data using AES-GCM
func (db *DB) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := db.cipher.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := db.cipher.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// generatePlaceholders creates a string of SQL placeholders (?, ?, ?)
func generatePlaceholders(count int) string {
	if count == 0 {
		return ""
	}

	result := "?"
	for i := 1; i < count; i++ {
		result += ", ?"
	}
	return result
}
