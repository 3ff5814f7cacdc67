// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLite has SQLITE_MAX_VARIABLE_NUMBER limit (default 999), stay below it
const maxParams = 900

// InternStrings interns values into string_pool and returns their ids in input order.
// Empty values are rejected.
func InternStrings(ctx context.Context, tx TxQuerier, values ...string) ([]int64, error) {
	if len(values) == 0 {
		return []int64{}, nil
	}

	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("value at index %d is empty", i)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}

	for start := 0; start < len(unique); start += maxParams {
		chunk := unique[start:min(start+maxParams, len(unique))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}
		query := "INSERT OR IGNORE INTO string_pool (value) VALUES " + placeholders(len(chunk), "(?)")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to insert strings: %w", err)
		}
	}

	ids, err := lookupIDs(ctx, tx, unique)
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(values))
	for i, v := range values {
		id, ok := ids[v]
		if !ok {
			return nil, fmt.Errorf("failed to get ID for interned string %q", v)
		}
		out[i] = id
	}
	return out, nil
}

// GetString resolves string_pool ids in input order.
func GetString(ctx context.Context, tx TxQuerier, ids ...int64) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	if len(ids) == 1 {
		var value string
		if err := tx.QueryRowContext(ctx, "SELECT value FROM string_pool WHERE id = ?", ids[0]).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to get string from pool: %w", err)
		}
		return []string{value}, nil
	}

	values := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE id IN ("+placeholders(len(chunk), "?")+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			values[id] = value
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		v, ok := values[id]
		if !ok {
			return nil, fmt.Errorf("string pool id %d: %w", id, sql.ErrNoRows)
		}
		out[i] = v
	}
	return out, nil
}

// GetStringID returns the id of an existing value without creating it.
func GetStringID(ctx context.Context, tx TxQuerier, value string) (sql.NullInt64, error) {
	if value == "" {
		return sql.NullInt64{}, nil
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ?", value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullInt64{}, nil
	}
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("failed to get string ID from pool: %w", err)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

func lookupIDs(ctx context.Context, tx TxQuerier, values []string) (map[string]int64, error) {
	out := make(map[string]int64, len(values))
	for start := 0; start < len(values); start += maxParams {
		chunk := values[start:min(start+maxParams, len(values))]
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE value IN ("+placeholders(len(chunk), "?")+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			out[value] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
	}
	return out, nil
}

func placeholders(n int, unit string) string {
	var sb strings.Builder
	sb.Grow(n * (len(unit) + 1))
	for i := range n {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(unit)
	}
	return sb.String()
}
