package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

// queryEntities runs a query whose only selected column is the JSON
// data blob and unmarshals every row.
func queryEntities[T any](ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("unmarshaling entity: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListHosts returns host rows, optionally scoped to one endpoint.
func (r *Repository) ListHosts(ctx context.Context, f repository.EntityFilter) ([]*domain.Host, error) {
	query := `SELECT data FROM hosts`
	var args []interface{}
	if f.EndpointID != "" {
		query += ` WHERE endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	query += ` ORDER BY name`
	return queryEntities[domain.Host](ctx, r.db, query, args...)
}

// ListVirtualMachines returns VM rows, optionally scoped to one
// endpoint and one host.
func (r *Repository) ListVirtualMachines(ctx context.Context, f repository.EntityFilter) ([]*domain.VirtualMachine, error) {
	query := `SELECT data FROM virtual_machines WHERE 1=1`
	var args []interface{}
	if f.EndpointID != "" {
		query += ` AND endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	if f.HostID != "" {
		query += ` AND host_id = ?`
		args = append(args, f.HostID)
	}
	query += ` ORDER BY name`
	return queryEntities[domain.VirtualMachine](ctx, r.db, query, args...)
}

// ListDatastores returns datastore rows, optionally scoped to one
// endpoint.
func (r *Repository) ListDatastores(ctx context.Context, f repository.EntityFilter) ([]*domain.Datastore, error) {
	query := `SELECT data FROM datastores`
	var args []interface{}
	if f.EndpointID != "" {
		query += ` WHERE endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	query += ` ORDER BY name`
	return queryEntities[domain.Datastore](ctx, r.db, query, args...)
}

// ListNetworks returns network rows, optionally scoped to one endpoint.
func (r *Repository) ListNetworks(ctx context.Context, f repository.EntityFilter) ([]*domain.Network, error) {
	query := `SELECT data FROM networks`
	var args []interface{}
	if f.EndpointID != "" {
		query += ` WHERE endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	query += ` ORDER BY name`
	return queryEntities[domain.Network](ctx, r.db, query, args...)
}

// ListFabricInterfaces returns interface rows, optionally scoped to
// one endpoint and one owning node.
func (r *Repository) ListFabricInterfaces(ctx context.Context, f repository.EntityFilter) ([]*domain.FabricInterface, error) {
	query := `SELECT data FROM fabric_interfaces WHERE 1=1`
	var args []interface{}
	if f.EndpointID != "" {
		query += ` AND endpoint_id = ?`
		args = append(args, f.EndpointID)
	}
	if f.NodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, f.NodeID)
	}
	query += ` ORDER BY natural_key`
	return queryEntities[domain.FabricInterface](ctx, r.db, query, args...)
}

// Reconcile reads: full per-endpoint row sets including stale rows.

func (r *Repository) HostsByEndpoint(ctx context.Context, endpointID string) ([]*domain.Host, error) {
	return queryEntities[domain.Host](ctx, r.db,
		`SELECT data FROM hosts WHERE endpoint_id = ?`, endpointID)
}

func (r *Repository) VirtualMachinesByEndpoint(ctx context.Context, endpointID string) ([]*domain.VirtualMachine, error) {
	return queryEntities[domain.VirtualMachine](ctx, r.db,
		`SELECT data FROM virtual_machines WHERE endpoint_id = ?`, endpointID)
}

func (r *Repository) DatastoresByEndpoint(ctx context.Context, endpointID string) ([]*domain.Datastore, error) {
	return queryEntities[domain.Datastore](ctx, r.db,
		`SELECT data FROM datastores WHERE endpoint_id = ?`, endpointID)
}

func (r *Repository) NetworksByEndpoint(ctx context.Context, endpointID string) ([]*domain.Network, error) {
	return queryEntities[domain.Network](ctx, r.db,
		`SELECT data FROM networks WHERE endpoint_id = ?`, endpointID)
}

func (r *Repository) FabricNodesByEndpoint(ctx context.Context, endpointID string) ([]*domain.FabricNode, error) {
	return queryEntities[domain.FabricNode](ctx, r.db,
		`SELECT data FROM fabric_nodes WHERE endpoint_id = ?`, endpointID)
}

func (r *Repository) FabricInterfacesByEndpoint(ctx context.Context, endpointID string) ([]*domain.FabricInterface, error) {
	return queryEntities[domain.FabricInterface](ctx, r.db,
		`SELECT data FROM fabric_interfaces WHERE endpoint_id = ?`, endpointID)
}

// Batched upserts, keyed by row ID. The reconciler reuses row IDs for
// entities it has seen before, so the ID conflict target is authoritative.

func (r *Repository) UpsertHosts(ctx context.Context, rows []*domain.Host) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO hosts (id, endpoint_id, name, stale, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, stale = excluded.stale, data = excluded.data`,
		func(h *domain.Host, data []byte) []interface{} {
			return []interface{}{h.ID, h.EndpointID, h.Name, h.Stale, data}
		})
}

func (r *Repository) UpsertVirtualMachines(ctx context.Context, rows []*domain.VirtualMachine) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO virtual_machines (id, endpoint_id, host_id, name, stale, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			host_id = excluded.host_id, name = excluded.name,
			stale = excluded.stale, data = excluded.data`,
		func(vm *domain.VirtualMachine, data []byte) []interface{} {
			return []interface{}{vm.ID, vm.EndpointID, vm.HostID, vm.Name, vm.Stale, data}
		})
}

func (r *Repository) UpsertDatastores(ctx context.Context, rows []*domain.Datastore) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO datastores (id, endpoint_id, name, stale, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, stale = excluded.stale, data = excluded.data`,
		func(d *domain.Datastore, data []byte) []interface{} {
			return []interface{}{d.ID, d.EndpointID, d.Name, d.Stale, data}
		})
}

func (r *Repository) UpsertNetworks(ctx context.Context, rows []*domain.Network) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO networks (id, endpoint_id, name, stale, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, stale = excluded.stale, data = excluded.data`,
		func(n *domain.Network, data []byte) []interface{} {
			return []interface{}{n.ID, n.EndpointID, n.Name, n.Stale, data}
		})
}

func (r *Repository) UpsertFabricNodes(ctx context.Context, rows []*domain.FabricNode) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO fabric_nodes (id, endpoint_id, natural_key, name, role, serial, model, stale, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, role = excluded.role,
			serial = excluded.serial, model = excluded.model,
			stale = excluded.stale, data = excluded.data`,
		func(n *domain.FabricNode, data []byte) []interface{} {
			return []interface{}{n.ID, n.EndpointID, n.NaturalKey, n.Name,
				string(n.Role), n.Serial, n.Model, n.Stale, data}
		})
}

func (r *Repository) UpsertFabricInterfaces(ctx context.Context, rows []*domain.FabricInterface) error {
	return upsertBatch(ctx, r.db, rows, `
		INSERT INTO fabric_interfaces (id, endpoint_id, node_id, natural_key, stale, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			node_id = excluded.node_id, stale = excluded.stale, data = excluded.data`,
		func(i *domain.FabricInterface, data []byte) []interface{} {
			return []interface{}{i.ID, i.EndpointID, i.NodeID, i.NaturalKey, i.Stale, data}
		})
}

// upsertBatch writes one batch of rows inside a transaction, binding
// the indexed columns alongside the JSON blob.
func upsertBatch[T any](ctx context.Context, db *sql.DB, rows []*T, query string, bind func(*T, []byte) []interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshaling entity: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, bind(row, data)...); err != nil {
			return fmt.Errorf("upserting entity: %w", err)
		}
	}
	return tx.Commit()
}
