// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

// ============================================================================
// Closure Fakes
// ============================================================================

type fakeStorage struct {
	stats StorageStats
	err   error
}

func (f *fakeStorage) GetStorageStats(ctx context.Context) (StorageStats, error) {
	return f.stats, f.err
}

type fakeJobQueue struct {
	status  ServiceStatus
	pending int
	total   int64
	err     error
}

func (f *fakeJobQueue) GetServiceStatus(ctx context.Context) (ServiceStatus, error) {
	return f.status, f.err
}

func (f *fakeJobQueue) GetPendingJobsCount(ctx context.Context) (int, error) {
	return f.pending, f.err
}

func (f *fakeJobQueue) GetTotalCases(ctx context.Context) (int64, error) {
	return f.total, f.err
}

type fakeProbe struct {
	number uint64
	block  BlockInfo
	err    error
}

func (f *fakeProbe) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.number, f.err
}

func (f *fakeProbe) Block(ctx context.Context, number uint64) (BlockInfo, error) {
	return f.block, f.err
}

type fakeCounter struct{ count int64 }

func (f fakeCounter) SubmittedCount() int64 { return f.count }

func healthyFakes() (*fakeStorage, *fakeJobQueue, *fakeProbe) {
	return &fakeStorage{stats: StorageStats{TotalFiles: 120, FilesThisMonth: 14}},
		&fakeJobQueue{
			status:  ServiceStatus{Initialized: true, NetworkConnected: true},
			pending: 3,
			total:   40,
		},
		&fakeProbe{number: 900, block: BlockInfo{TransactionCount: 2, Timestamp: time.Now()}}
}

// ============================================================================
// Refresh Tests
// ============================================================================

func TestAggregator_HealthyRefresh(t *testing.T) {
	storage, queue, probe := healthyFakes()
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, fakeCounter{count: 5}, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.False(t, snapshot.Degraded)
	assert.True(t, snapshot.NetworkConnected)
	assert.Equal(t, 120, snapshot.TotalFiles)
	assert.Equal(t, 14, snapshot.FilesThisMonth)
	assert.Equal(t, healthyAccuracyPercent, snapshot.AccuracyPercent)
	assert.Equal(t, uptimeFresh, snapshot.NetworkUptimePercent)
	assert.InDelta(t, 41.0, snapshot.SystemLoadPercent, 1e-9, "20 + 7*3 pending jobs")
	assert.Equal(t, int64(40), snapshot.TotalCases)
	assert.False(t, snapshot.RefreshedAt.IsZero())

	assert.Equal(t, snapshot, a.GetMetrics())
}

func TestAggregator_StorageFailureDegradesOnlyFileFigures(t *testing.T) {
	_, queue, probe := healthyFakes()
	storage := &fakeStorage{err: errors.New("registry offline")}
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.Equal(t, 0, snapshot.TotalFiles)
	// The other collaborators still contribute their fields.
	assert.True(t, snapshot.NetworkConnected)
	assert.Equal(t, healthyAccuracyPercent, snapshot.AccuracyPercent)
	assert.Equal(t, uptimeFresh, snapshot.NetworkUptimePercent)
}

func TestAggregator_JobQueueFailureDegradesLoadAndAccuracy(t *testing.T) {
	storage, _, probe := healthyFakes()
	queue := &fakeJobQueue{err: errors.New("coordinator unreachable")}
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.False(t, snapshot.NetworkConnected)
	assert.Equal(t, fallbackAccuracyPercent, snapshot.AccuracyPercent, "accuracy degrades down")
	assert.Equal(t, fallbackSystemLoadPercent, snapshot.SystemLoadPercent, "load degrades up")
	// Storage fields are unaffected.
	assert.Equal(t, 120, snapshot.TotalFiles)
}

func TestAggregator_NotConnectedStatusDegradesLikeFailure(t *testing.T) {
	storage, queue, probe := healthyFakes()
	queue.status.NetworkConnected = false
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.False(t, snapshot.NetworkConnected)
	assert.Equal(t, fallbackAccuracyPercent, snapshot.AccuracyPercent)
}

func TestAggregator_ProbeFailureDegradesUptime(t *testing.T) {
	storage, queue, _ := healthyFakes()
	probe := &fakeProbe{err: errors.New("rpc down")}
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.Equal(t, fallbackUptimePercent, snapshot.NetworkUptimePercent)
	assert.True(t, snapshot.NetworkConnected)
}

func TestAggregator_StaleBlockLowersUptime(t *testing.T) {
	storage, queue, probe := healthyFakes()
	probe.block.Timestamp = time.Now().Add(-30 * time.Minute)
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())
	assert.Equal(t, uptimeLagging, snapshot.NetworkUptimePercent)

	probe.block.Timestamp = time.Now().Add(-3 * time.Hour)
	snapshot = a.Refresh(context.Background())
	assert.Equal(t, uptimeStale, snapshot.NetworkUptimePercent)
}

func TestAggregator_TotalFailureProducesBaselineSnapshot(t *testing.T) {
	st := store.New(nil, nil, nil)
	storage := &fakeStorage{err: errors.New("down")}
	queue := &fakeJobQueue{err: errors.New("down")}
	probe := &fakeProbe{err: errors.New("down")}
	a := NewAggregator(storage, queue, probe, fakeCounter{count: 7}, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.False(t, snapshot.NetworkConnected)
	assert.Zero(t, snapshot.AccuracyPercent)
	assert.Zero(t, snapshot.SystemLoadPercent)
	assert.Zero(t, snapshot.NetworkUptimePercent)
	assert.Zero(t, snapshot.TotalFiles)
	assert.Equal(t, int64(7), snapshot.TotalCases, "the local submission floor survives the baseline")
}

func TestAggregator_NilCollaboratorsActAsFailed(t *testing.T) {
	st := store.New(nil, nil, nil)
	a := NewAggregator(nil, nil, nil, nil, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())

	assert.True(t, snapshot.Degraded)
	assert.Zero(t, snapshot.TotalCases)
}

// ============================================================================
// Floor Invariant Tests
// ============================================================================

func TestAggregator_TotalCasesFlooredBySubmissionCounter(t *testing.T) {
	storage, queue, probe := healthyFakes()
	queue.total = 3
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, fakeCounter{count: 5}, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())
	assert.Equal(t, int64(5), snapshot.TotalCases,
		"displayed total never regresses below in-process submissions")
}

func TestAggregator_ExternalTotalWinsWhenHigher(t *testing.T) {
	storage, queue, probe := healthyFakes()
	queue.total = 50
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, fakeCounter{count: 5}, st, nil, Config{}, nil)

	snapshot := a.Refresh(context.Background())
	assert.Equal(t, int64(50), snapshot.TotalCases)
}

// ============================================================================
// Active Analyses and Events
// ============================================================================

func TestAggregator_ActiveAnalysesComesFromStore(t *testing.T) {
	storage, queue, probe := healthyFakes()
	st := store.New(nil, nil, nil)
	st.PutCaseStatus(datatypes.CaseProcessingStatus{CaseID: "a", State: datatypes.CaseProcessing})
	st.PutCaseStatus(datatypes.CaseProcessingStatus{CaseID: "b", State: datatypes.CaseQueued})
	completedAt := time.Now()
	st.PutCaseStatus(datatypes.CaseProcessingStatus{
		CaseID: "c", State: datatypes.CaseCompleted, CompletedAt: &completedAt,
	})

	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{}, nil)
	snapshot := a.Refresh(context.Background())

	assert.Equal(t, 2, snapshot.ActiveAnalyses)
}

func TestAggregator_EveryRefreshPublishesMetricsUpdated(t *testing.T) {
	storage, queue, probe := healthyFakes()
	dispatcher := events.NewDispatcher(nil)
	st := store.New(dispatcher, nil, nil)

	var got []datatypes.Event
	dispatcher.Subscribe(func(e datatypes.Event) {
		if e.Type == datatypes.EventMetricsUpdated {
			got = append(got, e)
		}
	})

	a := NewAggregator(storage, queue, probe, nil, st, dispatcher, Config{}, nil)
	a.Refresh(context.Background())
	a.Refresh(context.Background())

	require.Len(t, got, 2)
	payload, ok := got[0].Data.(datatypes.MetricsPayload)
	require.True(t, ok)
	assert.Equal(t, 120, payload.Metrics.TotalFiles)
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestAggregator_StartTwiceFails(t *testing.T) {
	storage, queue, probe := healthyFakes()
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{RefreshInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	assert.Error(t, a.Start(ctx))
}

func TestAggregator_StartupRefreshPopulatesSnapshot(t *testing.T) {
	storage, queue, probe := healthyFakes()
	st := store.New(nil, nil, nil)
	a := NewAggregator(storage, queue, probe, nil, st, nil, Config{RefreshInterval: time.Hour}, nil)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if !a.GetMetrics().RefreshedAt.IsZero() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("startup refresh never populated the snapshot")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
