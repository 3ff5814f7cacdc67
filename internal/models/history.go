// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/upbrr/internal/dbinterface"
)

type HistoryEntry struct {
	ID       int64
	ItemUUID string
	Name     string
	SubmissionOutcome
}

// HistoryStore keeps every terminal per-tracker outcome across runs.
type HistoryStore struct {
	db dbinterface.Querier
}

func NewHistoryStore(db dbinterface.Querier) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Record(ctx context.Context, itemUUID, name string, o SubmissionOutcome) error {
	if name == "" {
		name = itemUUID
	}
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids, err := dbinterface.InternStrings(ctx, tx, name, o.Tracker)
	if err != nil {
		return fmt.Errorf("failed to intern history strings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submission_history
			(item_uuid, name_id, tracker_id, kind, reason, status_code, url, ambiguous, reconciled, debug, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, itemUUID, ids[0], ids[1], string(o.Kind), o.Reason, o.StatusCode, o.URL, o.Ambiguous, o.Reconciled, o.Debug, o.At)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// List returns the most recent entries first.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_uuid, name_id, tracker_id, kind, reason, status_code, url,
			ambiguous, reconciled, debug, created_at
		FROM submission_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	var stringIDs []int64
	for rows.Next() {
		var e HistoryEntry
		var kind string
		var nameID, trackerID int64
		if err := rows.Scan(&e.ID, &e.ItemUUID, &nameID, &trackerID, &kind, &e.Reason, &e.StatusCode, &e.URL,
			&e.Ambiguous, &e.Reconciled, &e.Debug, &e.At); err != nil {
			return nil, err
		}
		e.Kind = OutcomeKind(kind)
		entries = append(entries, &e)
		stringIDs = append(stringIDs, nameID, trackerID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	values, err := dbinterface.GetString(ctx, s.db, stringIDs...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history strings: %w", err)
	}
	for i, e := range entries {
		e.Name = values[2*i]
		e.Tracker = values[2*i+1]
	}

	return entries, nil
}

// HasSucceeded reports whether a non-debug submission of the item to tracker succeeded before.
func (s *HistoryStore) HasSucceeded(ctx context.Context, itemUUID, tracker string) (bool, error) {
	trackerID, err := dbinterface.GetStringID(ctx, s.db, tracker)
	if err != nil || !trackerID.Valid {
		return false, err
	}

	var n int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submission_history
		WHERE item_uuid = ? AND tracker_id = ? AND kind = ? AND debug = 0
	`, itemUUID, trackerID.Int64, string(OutcomeSubmitSucceeded)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
