// ABOUTME: Matrix E2EE setup: crypto store, device mismatch recovery and
// ABOUTME: optional cross-signing verification with a recovery key

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoStore owns the client's E2EE state for one account.
type cryptoStore struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto enables encryption on the client, wiring a SQLite-backed
// crypto store under cfg.DataDir. A configured recovery key additionally
// verifies the device for cross-signing; verification failure is logged and
// the device keeps encrypting unverified.
func setupCrypto(ctx context.Context, client *mautrix.Client, cfg Config, logger *slog.Logger) (*cryptoStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Per-account database so switching accounts cannot mix key material.
	dbPath := filepath.Join(cfg.DataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(cfg.UserID)))
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(cfg.UserID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cs := &cryptoStore{helper: helper, logger: logger}
	if cfg.RecoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return cs, nil
	}
	if err := cs.verifyRecoveryKey(ctx, cfg.RecoveryKey); err != nil {
		logger.Warn("recovery key verification failed", "error", err)
		logger.Info("encryption enabled without cross-signing")
		return cs, nil
	}
	logger.Info("device verified for cross-signing")
	return cs, nil
}

func (cs *cryptoStore) verifyRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cs.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification: %w", err)
	}
	return nil
}

// Close releases the crypto store.
func (cs *cryptoStore) Close() error {
	if cs.helper != nil {
		return cs.helper.Close()
	}
	return nil
}

// initCryptoHelper creates and initializes the crypto helper. A fresh login
// gets a new device id while the store still holds keys for the old one;
// that mismatch is detected up front and the store reset, because the helper
// refuses to init over it.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if mismatch, err := deviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device id", "error", err)
	} else if mismatch {
		logger.Warn("device id mismatch, resetting crypto store", "db", dbPath)
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing old crypto store: %w", err)
		}
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// deviceIDMismatch reports whether the store at dbPath belongs to a
// different device than the client is logged in as.
func deviceIDMismatch(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return stored != currentDeviceID, nil
}

// slugify converts a Matrix user id to a filesystem-safe string.
// Example: @linger:example.org -> linger_example.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey derives the store encryption key from the user id, so each
// account gets a distinct key without an external secret.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("linger-matrix-crypto:" + userID))
	return h[:]
}
