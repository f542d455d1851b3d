// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package records keeps a local embedded registry of processed case
// records. It backs the storage-statistics figures on the dashboard.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/metrics"
)

const caseKeyPrefix = "case/"

// CaseRecord is the persisted registry entry for one processed case.
type CaseRecord struct {
	CaseID           string    `json:"case_id"`
	State            string    `json:"state"`
	PatternsDetected int       `json:"patterns_detected"`
	StoredAt         time.Time `json:"stored_at"`
}

// Registry is a badger-backed case record store.
//
// # Description
//
// Each completed or failed case is recorded under "case/<id>". The
// registry implements the storage-stats collaborator consumed by the
// metrics aggregator: total record count plus the count stored in the
// current calendar month.
//
// # Thread Safety
//
// All methods are safe for concurrent use; badger provides transaction
// isolation.
type Registry struct {
	db     *badger.DB
	clock  func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the registry at the given directory.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a sidecar store
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record registry at %s: %w", path, err)
	}

	logger.Info("record registry opened", "path", path)
	return &Registry{
		db:     db,
		clock:  time.Now,
		logger: logger,
	}, nil
}

// Close releases the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// RecordCase persists one terminal case status.
func (r *Registry) RecordCase(status datatypes.CaseProcessingStatus) error {
	record := CaseRecord{
		CaseID:           status.CaseID,
		State:            string(status.State),
		PatternsDetected: status.PatternsDetected,
		StoredAt:         r.clock(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal case record: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(caseKeyPrefix+status.CaseID), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store case record %s: %w", status.CaseID, err)
	}
	return nil
}

// GetCase returns one stored record by case id.
func (r *Registry) GetCase(caseID string) (CaseRecord, error) {
	var record CaseRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(caseKeyPrefix + caseID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return CaseRecord{}, fmt.Errorf("failed to load case record %s: %w", caseID, err)
	}
	return record, nil
}

// GetStorageStats implements the metrics storage-stats collaborator.
//
// # Description
//
// TotalFiles is the total record count; FilesThisMonth counts records
// stored since the start of the current calendar month.
func (r *Registry) GetStorageStats(ctx context.Context) (metrics.StorageStats, error) {
	now := r.clock()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var stats metrics.StorageStats
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(caseKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.TotalFiles++

			err := it.Item().Value(func(val []byte) error {
				var record CaseRecord
				if err := json.Unmarshal(val, &record); err != nil {
					// A corrupt entry still counts toward the total.
					r.logger.Warn("skipping unreadable case record", "error", err)
					return nil
				}
				if !record.StoredAt.Before(monthStart) {
					stats.FilesThisMonth++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return metrics.StorageStats{}, fmt.Errorf("failed to scan record registry: %w", err)
	}
	return stats, nil
}

// HandleEvent records terminal case statuses arriving from the event
// dispatcher. Intended to be registered as a subscriber at wiring time.
func (r *Registry) HandleEvent(event datatypes.Event) {
	if event.Type != datatypes.EventCaseCompleted && event.Type != datatypes.EventCaseFailed {
		return
	}
	payload, ok := event.Data.(datatypes.CasePayload)
	if !ok {
		return
	}
	if err := r.RecordCase(payload.Status); err != nil {
		r.logger.Error("failed to record terminal case",
			"case_id", payload.Status.CaseID,
			"error", err,
		)
	}
}
