package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

// ListFabricNodes runs the filtered, paginated node query. The filtered
// count is taken first so an overflowing page clamps to the last page
// instead of returning nothing.
func (r *Repository) ListFabricNodes(ctx context.Context, f repository.FabricNodeFilter) (*domain.Page[*domain.FabricNode], error) {
	where, args := fabricNodeWhere(f)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fabric_nodes`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("counting fabric nodes: %w", err)
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := domain.ClampPage(f.Page, pageSize, total)

	query := `SELECT data FROM fabric_nodes` + where +
		` ORDER BY name, natural_key LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	items, err := queryEntities[domain.FabricNode](ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	p := domain.NewPage(items, total, page, pageSize)
	return &p, nil
}

func fabricNodeWhere(f repository.FabricNodeFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.EndpointID != "" {
		clauses = append(clauses, `endpoint_id = ?`)
		args = append(args, f.EndpointID)
	}
	if f.Role != "" {
		clauses = append(clauses, `role = ?`)
		args = append(args, strings.ToLower(f.Role))
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		clauses = append(clauses,
			`(LOWER(name) LIKE ? OR LOWER(natural_key) LIKE ? OR LOWER(COALESCE(serial, '')) LIKE ? OR LOWER(COALESCE(model, '')) LIKE ?)`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetFabricNode loads one node row by ID.
func (r *Repository) GetFabricNode(ctx context.Context, id string) (*domain.FabricNode, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM fabric_nodes WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying fabric node: %w", err)
	}
	node := &domain.FabricNode{}
	if err := json.Unmarshal(data, node); err != nil {
		return nil, fmt.Errorf("unmarshaling fabric node: %w", err)
	}
	return node, nil
}

// AllFabricNodes returns every node row for summary aggregation.
func (r *Repository) AllFabricNodes(ctx context.Context, endpointID string) ([]*domain.FabricNode, error) {
	if endpointID != "" {
		return r.FabricNodesByEndpoint(ctx, endpointID)
	}
	return queryEntities[domain.FabricNode](ctx, r.db, `SELECT data FROM fabric_nodes`)
}
