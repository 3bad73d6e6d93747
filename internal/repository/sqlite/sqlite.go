// Package sqlite persists the registry, secrets and canonical
// inventory in one SQLite database.
//
// Each row keeps the full entity as JSON in a data column next to the
// handful of indexed columns queries filter on. WAL mode keeps query
// reads from blocking on poll-cycle writes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository on SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		source_family TEXT NOT NULL,
		secret_handle TEXT NOT NULL DEFAULT '',
		data JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secrets (
		handle TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hosts (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, name)
	);

	CREATE TABLE IF NOT EXISTS virtual_machines (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		host_id TEXT,
		name TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, name)
	);

	CREATE TABLE IF NOT EXISTS datastores (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, name)
	);

	CREATE TABLE IF NOT EXISTS networks (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, name)
	);

	CREATE TABLE IF NOT EXISTS fabric_nodes (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		natural_key TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		serial TEXT,
		model TEXT,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, natural_key)
	);

	CREATE TABLE IF NOT EXISTS fabric_interfaces (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		node_id TEXT,
		natural_key TEXT NOT NULL,
		stale INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		UNIQUE (endpoint_id, natural_key)
	);

	CREATE INDEX IF NOT EXISTS idx_vms_host ON virtual_machines(host_id);
	CREATE INDEX IF NOT EXISTS idx_fabric_nodes_role ON fabric_nodes(role);
	CREATE INDEX IF NOT EXISTS idx_fabric_interfaces_node ON fabric_interfaces(node_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

// CreateEndpoint inserts a new endpoint row.
func (r *Repository) CreateEndpoint(ctx context.Context, ep *domain.Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, name, source_family, secret_handle, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Name, string(ep.Family), ep.SecretHandle, data, ep.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	return nil
}

// GetEndpoint loads one endpoint by ID.
func (r *Repository) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT secret_handle, data FROM endpoints WHERE id = ?`, id)
	return scanEndpoint(row)
}

// ListEndpoints loads every endpoint ordered by name.
func (r *Repository) ListEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT secret_handle, data FROM endpoints ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var eps []*domain.Endpoint
	for rows.Next() {
		var handle string
		var data []byte
		if err := rows.Scan(&handle, &data); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		ep, err := decodeEndpoint(handle, data)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// UpdateEndpoint overwrites an existing endpoint row.
func (r *Repository) UpdateEndpoint(ctx context.Context, ep *domain.Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE endpoints
		SET name = ?, source_family = ?, secret_handle = ?, data = ?, updated_at = ?
		WHERE id = ?`,
		ep.Name, string(ep.Family), ep.SecretHandle, data, ep.UpdatedAt.UTC(), ep.ID)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	return requireRow(res)
}

// UpdateEndpointHealth patches only the poll health fields inside the
// data column. Settings written by a concurrent registry update stay
// untouched, and the row's updated_at is left to settings writes.
func (r *Repository) UpdateEndpointHealth(ctx context.Context, id string, status domain.PollStatus, message string, polledAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE endpoints
		SET data = json_set(data,
			'$.last_poll_status', ?,
			'$.last_error_message', ?,
			'$.last_polled_at', ?)
		WHERE id = ?`,
		string(status), message, polledAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating endpoint health: %w", err)
	}
	return requireRow(res)
}

// DeleteEndpoint removes the endpoint, its secret and all scoped
// entities. Entity rows go through the cascading foreign keys; the
// secret is deleted in the same transaction.
func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	var handle string
	err = tx.QueryRowContext(ctx,
		`SELECT secret_handle FROM endpoints WHERE id = ?`, id).Scan(&handle)
	if err == sql.ErrNoRows {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading endpoint for delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	if handle != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE handle = ?`, handle); err != nil {
			return fmt.Errorf("deleting secret: %w", err)
		}
	}
	return tx.Commit()
}

// CreateSecret stores opaque ciphertext under a handle.
func (r *Repository) CreateSecret(ctx context.Context, handle string, ciphertext []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO secrets (handle, ciphertext, updated_at) VALUES (?, ?, ?)`,
		handle, ciphertext, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting secret: %w", err)
	}
	return nil
}

// GetSecret loads the ciphertext behind a handle.
func (r *Repository) GetSecret(ctx context.Context, handle string) ([]byte, error) {
	var ciphertext []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM secrets WHERE handle = ?`, handle).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying secret: %w", err)
	}
	return ciphertext, nil
}

// UpdateSecret replaces the ciphertext behind a handle.
func (r *Repository) UpdateSecret(ctx context.Context, handle string, ciphertext []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE secrets SET ciphertext = ?, updated_at = ? WHERE handle = ?`,
		ciphertext, time.Now().UTC(), handle)
	if err != nil {
		return fmt.Errorf("updating secret: %w", err)
	}
	return requireRow(res)
}

// DeleteSecret removes the ciphertext behind a handle.
func (r *Repository) DeleteSecret(ctx context.Context, handle string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	return requireRow(res)
}

func scanEndpoint(row *sql.Row) (*domain.Endpoint, error) {
	var handle string
	var data []byte
	err := row.Scan(&handle, &data)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning endpoint: %w", err)
	}
	return decodeEndpoint(handle, data)
}

// decodeEndpoint restores the secret handle, which the JSON column
// deliberately never carries.
func decodeEndpoint(handle string, data []byte) (*domain.Endpoint, error) {
	ep := &domain.Endpoint{}
	if err := json.Unmarshal(data, ep); err != nil {
		return nil, fmt.Errorf("unmarshaling endpoint: %w", err)
	}
	ep.SecretHandle = handle
	ep.HasCredentials = handle != ""
	return ep, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.Repository = (*Repository)(nil)
