package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"pixieauth/core"

	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

// Persisted keys
const (
	keyAPIURL   = "api_url"
	keyAPIKey   = "api_key"
	keyUserID   = "user_id"
	keyProvider = "auth_provider"

	metaSalt = "kdf_salt"
)

// SQLiteCredentialStore keeps the active credential in a local SQLite file.
// api_key and user_id are encrypted with a key derived from the configured secret.
// A credential saved against another API URL is treated as absent.
type SQLiteCredentialStore struct {
	db     *sql.DB
	crypto *core.CryptoService
	apiURL string
}

func NewSQLiteCredentialStore(dbPath, secret, apiURL string) (*SQLiteCredentialStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteCredentialStore{db: db, apiURL: apiURL}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	salt, err := store.salt(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load key salt: %w", err)
	}

	store.crypto, err = core.NewCryptoService(secret, salt)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteCredentialStore) initSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// salt returns the per-database HKDF salt, creating it on first use
func (s *SQLiteCredentialStore) salt(ctx context.Context) ([]byte, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaSalt).Scan(&encoded)
	if err == nil {
		return base64.StdEncoding.DecodeString(encoded)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?)`,
		metaSalt, base64.StdEncoding.EncodeToString(salt),
	)
	if err != nil {
		return nil, err
	}
	return salt, nil
}

func (s *SQLiteCredentialStore) Save(ctx context.Context, cred *core.Credential) error {
	if !cred.Complete() {
		return errors.New("refusing to store an incomplete credential")
	}

	apiKey, err := s.crypto.EncryptToken(cred.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	userID, err := s.crypto.EncryptToken(cred.UserID)
	if err != nil {
		return fmt.Errorf("failed to encrypt user id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO credentials (key, value, updated_at)
		VALUES (?, ?, ?)
	`
	rows := [][2]string{
		{keyAPIURL, s.apiURL},
		{keyAPIKey, apiKey},
		{keyUserID, userID},
		{keyProvider, string(cred.Provider)},
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row[0], row[1], now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteCredentialStore) Load(ctx context.Context) (*core.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string, 4)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if values[keyAPIKey] == "" || values[keyUserID] == "" {
		return nil, core.ErrNotFound
	}
	if values[keyAPIURL] != s.apiURL {
		return nil, core.ErrNotFound
	}

	apiKey, err := s.crypto.DecryptToken(values[keyAPIKey])
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	userID, err := s.crypto.DecryptToken(values[keyUserID])
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt user id: %w", err)
	}

	return &core.Credential{
		APIKey:   apiKey,
		UserID:   userID,
		Provider: core.Provider(values[keyProvider]),
	}, nil
}

func (s *SQLiteCredentialStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}
