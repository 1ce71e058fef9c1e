package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLite stores documents as JSON rows in a single table. The tenant_id
// field is mirrored into its own column so tenant filters hit an index.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLite(db *sql.DB) SQLite {
	return SQLite{DB: db, Now: time.Now}
}

func (s SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s SQLite) Insert(ctx context.Context, collection, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx, `INSERT INTO documents(collection,id,tenant_id,data_json,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		collection, id, tenantOf(doc), string(data), now, now)
	return err
}

func (s SQLite) Get(ctx context.Context, collection, id string) (Document, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT data_json FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s SQLite) Merge(ctx context.Context, collection, id string, patch Document) (Document, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data_json FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s/%s: %w", collection, id, err)
	}
	for k, v := range patch {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data_json=?, tenant_id=?, updated_at=? WHERE collection=? AND id=?`,
		string(merged), tenantOf(doc), now, collection, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s SQLite) Find(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	where, args := buildWhere(collection, filters)
	rows, err := s.DB.QueryContext(ctx, `SELECT data_json FROM documents `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s SQLite) Count(ctx context.Context, collection string, filters ...Filter) (int64, error) {
	where, args := buildWhere(collection, filters)
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents `+where, args...).Scan(&n)
	return n, err
}

func buildWhere(collection string, filters []Filter) (string, []any) {
	clauses := []string{"collection=?"}
	args := []any{collection}
	for _, f := range filters {
		op := string(f.Op)
		if f.Op == OpEq {
			op = "="
		}
		if f.Field == "tenant_id" {
			clauses = append(clauses, "tenant_id"+op+"?")
		} else {
			clauses = append(clauses, "json_extract(data_json, '$."+f.Field+"')"+op+"?")
		}
		args = append(args, f.Value)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func tenantOf(doc Document) any {
	if v, ok := doc["tenant_id"].(string); ok && v != "" {
		return v
	}
	return nil
}
