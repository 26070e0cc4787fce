package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"pqsession/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_context (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	blob_id TEXT NOT NULL,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS device_salt (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	salt BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS communications (
	id TEXT PRIMARY KEY,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	communication_id TEXT NOT NULL,
	shared_id TEXT NOT NULL DEFAULT '',
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_comm ON messages(communication_id);
CREATE INDEX IF NOT EXISTS idx_messages_shared ON messages(shared_id);
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS media_jobs (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	sync_id TEXT NOT NULL,
	nonce BLOB NOT NULL,
	ciphertext BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_jobs_recipient ON media_jobs(recipient_id);
CREATE INDEX IF NOT EXISTS idx_media_jobs_sync ON media_jobs(sync_id);
`

// Store is a database/sql-backed domain.SessionStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ domain.SessionStore = (*Store)(nil)

func (s *Store) CreateSessionContext(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_context (id, blob_id, nonce, ciphertext) VALUES (0, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET blob_id = excluded.blob_id, nonce = excluded.nonce, ciphertext = excluded.ciphertext`,
		blob.ID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchSessionContext(ctx context.Context) (domain.EncryptedBlob, bool, error) {
	var idStr string
	var nonce, ciphertext []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob_id, nonce, ciphertext FROM session_context WHERE id = 0`).Scan(&idStr, &nonce, &ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EncryptedBlob{}, false, nil
	}
	if err != nil {
		return domain.EncryptedBlob{}, false, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return domain.EncryptedBlob{}, false, fmt.Errorf("sqlitestore: parse session context blob id %q: %w", idStr, err)
	}
	return domain.EncryptedBlob{ID: id, Nonce: nonce, Ciphertext: ciphertext}, true, nil
}

func (s *Store) UpdateSessionContext(ctx context.Context, blob domain.EncryptedBlob) error {
	return s.CreateSessionContext(ctx, blob)
}

func (s *Store) DeleteSessionContext(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_context WHERE id = 0`)
	return err
}

func (s *Store) FetchDeviceSalt(ctx context.Context) ([]byte, bool, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx, `SELECT salt FROM device_salt WHERE id = 0`).Scan(&salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return salt, true, nil
}

// StoreDeviceSalt persists the device salt used to derive the database
// symmetric key from the user's passphrase. Not part of domain.SessionStore
// (which only requires fetch/delete of an already-populated salt), but
// needed by cmd/sessionctl's init flow to write the initial value.
func (s *Store) StoreDeviceSalt(ctx context.Context, salt []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_salt (id, salt) VALUES (0, ?)
		 ON CONFLICT(id) DO UPDATE SET salt = excluded.salt`, salt)
	return err
}

func (s *Store) DeleteDeviceSalt(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_salt WHERE id = 0`)
	return err
}

func (s *Store) CreateIdentity(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO identities (id, nonce, ciphertext) VALUES (?, ?, ?)`,
		blob.ID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchAllIdentities(ctx context.Context) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM identities`)
}

func (s *Store) UpdateIdentity(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET nonce = ?, ciphertext = ? WHERE id = ?`,
		blob.Nonce, blob.Ciphertext, blob.ID.String())
	return err
}

func (s *Store) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id.String())
	return err
}

func (s *Store) CreateContact(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO contacts (id, nonce, ciphertext) VALUES (?, ?, ?)`,
		blob.ID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchAllContacts(ctx context.Context) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM contacts`)
}

func (s *Store) UpdateContact(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contacts SET nonce = ?, ciphertext = ? WHERE id = ?`,
		blob.Nonce, blob.Ciphertext, blob.ID.String())
	return err
}

func (s *Store) DeleteContact(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id.String())
	return err
}

func (s *Store) CreateCommunication(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO communications (id, nonce, ciphertext) VALUES (?, ?, ?)`,
		blob.ID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchAllCommunications(ctx context.Context) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM communications`)
}

func (s *Store) UpdateCommunication(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `UPDATE communications SET nonce = ?, ciphertext = ? WHERE id = ?`,
		blob.Nonce, blob.Ciphertext, blob.ID.String())
	return err
}

func (s *Store) DeleteCommunication(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM communications WHERE id = ?`, id.String())
	return err
}

func (s *Store) CreateMessage(ctx context.Context, blob domain.EncryptedBlob, communicationID uuid.UUID, sharedID domain.SharedID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, communication_id, shared_id, nonce, ciphertext) VALUES (?, ?, ?, ?, ?)`,
		blob.ID.String(), communicationID.String(), string(sharedID), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) UpdateMessage(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET nonce = ?, ciphertext = ? WHERE id = ?`,
		blob.Nonce, blob.Ciphertext, blob.ID.String())
	return err
}

func (s *Store) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id.String())
	return err
}

func (s *Store) FetchMessageByID(ctx context.Context, id uuid.UUID) (domain.EncryptedBlob, bool, error) {
	return s.fetchOneBlob(ctx, `SELECT id, nonce, ciphertext FROM messages WHERE id = ?`, id.String())
}

func (s *Store) FetchMessageBySharedID(ctx context.Context, sharedID domain.SharedID) (domain.EncryptedBlob, bool, error) {
	return s.fetchOneBlob(ctx, `SELECT id, nonce, ciphertext FROM messages WHERE shared_id = ? LIMIT 1`, string(sharedID))
}

func (s *Store) StreamMessagesByCommunication(ctx context.Context, communicationID uuid.UUID) iter.Seq2[domain.EncryptedBlob, error] {
	return func(yield func(domain.EncryptedBlob, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, nonce, ciphertext FROM messages WHERE communication_id = ? ORDER BY rowid`,
			communicationID.String())
		if err != nil {
			yield(domain.EncryptedBlob{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			blob, err := scanBlob(rows)
			if !yield(blob, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.EncryptedBlob{}, err)
		}
	}
}

func (s *Store) CountMessagesByCommunication(ctx context.Context, communicationID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE communication_id = ?`, communicationID.String()).Scan(&count)
	return count, err
}

func (s *Store) CreateJob(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, nonce, ciphertext) VALUES (?, ?, ?)`,
		blob.ID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchAllJobs(ctx context.Context) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM jobs`)
}

func (s *Store) UpdateJob(ctx context.Context, blob domain.EncryptedBlob) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET nonce = ?, ciphertext = ? WHERE id = ?`,
		blob.Nonce, blob.Ciphertext, blob.ID.String())
	return err
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String())
	return err
}

func (s *Store) CreateMediaJob(ctx context.Context, blob domain.EncryptedBlob, recipientID uuid.UUID, syncID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_jobs (id, recipient_id, sync_id, nonce, ciphertext) VALUES (?, ?, ?, ?, ?)`,
		blob.ID.String(), recipientID.String(), syncID.String(), blob.Nonce, blob.Ciphertext)
	return err
}

func (s *Store) FetchMediaJobsByRecipient(ctx context.Context, recipientID uuid.UUID) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM media_jobs WHERE recipient_id = ?`, recipientID.String())
}

func (s *Store) FetchMediaJobBySyncID(ctx context.Context, syncID uuid.UUID) (domain.EncryptedBlob, bool, error) {
	return s.fetchOneBlob(ctx, `SELECT id, nonce, ciphertext FROM media_jobs WHERE sync_id = ? LIMIT 1`, syncID.String())
}

func (s *Store) FetchAllMediaJobs(ctx context.Context) ([]domain.EncryptedBlob, error) {
	return s.fetchAllBlobs(ctx, `SELECT id, nonce, ciphertext FROM media_jobs`)
}

func (s *Store) FetchMediaJobByID(ctx context.Context, id uuid.UUID) (domain.EncryptedBlob, bool, error) {
	return s.fetchOneBlob(ctx, `SELECT id, nonce, ciphertext FROM media_jobs WHERE id = ?`, id.String())
}

func (s *Store) DeleteMediaJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media_jobs WHERE id = ?`, id.String())
	return err
}

// --- shared scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlob(row rowScanner) (domain.EncryptedBlob, error) {
	var idStr string
	var blob domain.EncryptedBlob
	if err := row.Scan(&idStr, &blob.Nonce, &blob.Ciphertext); err != nil {
		return domain.EncryptedBlob{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return domain.EncryptedBlob{}, fmt.Errorf("sqlitestore: parse id %q: %w", idStr, err)
	}
	blob.ID = id
	return blob, nil
}

func (s *Store) fetchAllBlobs(ctx context.Context, query string, args ...any) ([]domain.EncryptedBlob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EncryptedBlob
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, blob)
	}
	return out, rows.Err()
}

func (s *Store) fetchOneBlob(ctx context.Context, query string, args ...any) (domain.EncryptedBlob, bool, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	blob, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EncryptedBlob{}, false, nil
	}
	if err != nil {
		return domain.EncryptedBlob{}, false, err
	}
	return blob, true, nil
}
