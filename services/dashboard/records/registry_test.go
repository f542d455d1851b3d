// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func TestRegistry_RecordAndGetCase(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.RecordCase(datatypes.CaseProcessingStatus{
		CaseID:           "case-1",
		State:            datatypes.CaseCompleted,
		PatternsDetected: 3,
	})
	require.NoError(t, err)

	record, err := registry.GetCase("case-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", record.CaseID)
	assert.Equal(t, string(datatypes.CaseCompleted), record.State)
	assert.Equal(t, 3, record.PatternsDetected)
	assert.False(t, record.StoredAt.IsZero())
}

func TestRegistry_GetCase_Missing(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.GetCase("missing")
	assert.Error(t, err)
}

func TestRegistry_RecordCase_OverwriteIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t)

	status := datatypes.CaseProcessingStatus{CaseID: "case-1", State: datatypes.CaseCompleted}
	require.NoError(t, registry.RecordCase(status))
	require.NoError(t, registry.RecordCase(status))

	stats, err := registry.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
}

func TestRegistry_GetStorageStats_CountsCurrentMonth(t *testing.T) {
	registry := newTestRegistry(t)

	// Two records this month, one from last month.
	now := time.Now()
	registry.clock = func() time.Time { return now }
	require.NoError(t, registry.RecordCase(datatypes.CaseProcessingStatus{CaseID: "recent-1"}))
	require.NoError(t, registry.RecordCase(datatypes.CaseProcessingStatus{CaseID: "recent-2"}))

	registry.clock = func() time.Time { return now.AddDate(0, -1, 0) }
	require.NoError(t, registry.RecordCase(datatypes.CaseProcessingStatus{CaseID: "old-1"}))

	registry.clock = func() time.Time { return now }
	stats, err := registry.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 2, stats.FilesThisMonth)
}

func TestRegistry_GetStorageStats_Empty(t *testing.T) {
	registry := newTestRegistry(t)

	stats, err := registry.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
	assert.Zero(t, stats.FilesThisMonth)
}

func TestRegistry_HandleEvent_RecordsOnlyTerminalCases(t *testing.T) {
	registry := newTestRegistry(t)
	dispatcher := events.NewDispatcher(nil)
	dispatcher.Subscribe(registry.HandleEvent)

	completedAt := time.Now()
	dispatcher.Publish(datatypes.EventCaseQueued, datatypes.CasePayload{
		Status: datatypes.CaseProcessingStatus{CaseID: "queued-1", State: datatypes.CaseQueued},
	})
	dispatcher.Publish(datatypes.EventCaseCompleted, datatypes.CasePayload{
		Status: datatypes.CaseProcessingStatus{
			CaseID: "done-1", State: datatypes.CaseCompleted, CompletedAt: &completedAt,
		},
	})
	dispatcher.Publish(datatypes.EventCaseFailed, datatypes.CasePayload{
		Status: datatypes.CaseProcessingStatus{
			CaseID: "failed-1", State: datatypes.CaseFailed, CompletedAt: &completedAt,
		},
	})

	stats, err := registry.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)

	_, err = registry.GetCase("queued-1")
	assert.Error(t, err, "non-terminal events are not recorded")
}
