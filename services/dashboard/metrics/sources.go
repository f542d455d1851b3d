// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics aggregates the dashboard-wide metrics snapshot from
// external collaborators, with per-field degraded fallbacks.
package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// StorageStats is the file-registry view used on the dashboard.
type StorageStats struct {
	TotalFiles     int
	FilesThisMonth int
}

// StorageStatsSource supplies upload/record statistics.
type StorageStatsSource interface {
	GetStorageStats(ctx context.Context) (StorageStats, error)
}

// ServiceStatus is the job-queue service's self-reported state.
type ServiceStatus struct {
	Initialized      bool `json:"initialized"`
	NetworkConnected bool `json:"network_connected"`
}

// JobQueueSource supplies queue depth and case totals from the shared
// processing network.
type JobQueueSource interface {
	GetServiceStatus(ctx context.Context) (ServiceStatus, error)
	GetPendingJobsCount(ctx context.Context) (int, error)
	GetTotalCases(ctx context.Context) (int64, error)
}

// BlockInfo describes one block on the case-registry chain. Used only to
// derive a network uptime/activity estimate.
type BlockInfo struct {
	TransactionCount int
	Timestamp        time.Time
}

// NetworkProbe reads recent chain activity.
type NetworkProbe interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (BlockInfo, error)
}

// =============================================================================
// HTTP Job-Queue Client
// =============================================================================

// HTTPJobQueueClient implements JobQueueSource against the coordinator
// service's REST API.
type HTTPJobQueueClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPJobQueueClient creates a client for the given coordinator base URL.
func NewHTTPJobQueueClient(baseURL string, timeout time.Duration) *HTTPJobQueueClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPJobQueueClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *HTTPJobQueueClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job queue request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read job queue response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("job queue returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse job queue response: %w", err)
	}
	return nil
}

// GetServiceStatus implements JobQueueSource.
func (c *HTTPJobQueueClient) GetServiceStatus(ctx context.Context) (ServiceStatus, error) {
	var status ServiceStatus
	if err := c.getJSON(ctx, "/v1/status", &status); err != nil {
		return ServiceStatus{}, err
	}
	return status, nil
}

// GetPendingJobsCount implements JobQueueSource.
func (c *HTTPJobQueueClient) GetPendingJobsCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.getJSON(ctx, "/v1/jobs/pending", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetTotalCases implements JobQueueSource.
func (c *HTTPJobQueueClient) GetTotalCases(ctx context.Context) (int64, error) {
	var out struct {
		Total int64 `json:"total"`
	}
	if err := c.getJSON(ctx, "/v1/cases/total", &out); err != nil {
		return 0, err
	}
	return out.Total, nil
}

// =============================================================================
// JSON-RPC Network Probe
// =============================================================================

// JSONRPCProbe implements NetworkProbe against the case-registry chain's
// JSON-RPC endpoint.
type JSONRPCProbe struct {
	httpClient *http.Client
	endpoint   string
}

// NewJSONRPCProbe creates a probe for the given JSON-RPC endpoint.
func NewJSONRPCProbe(endpoint string, timeout time.Duration) *JSONRPCProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &JSONRPCProbe{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *JSONRPCProbe) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("RPC call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RPC endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse RPC result: %w", err)
	}
	return nil
}

// parseHexUint parses an "0x"-prefixed quantity.
func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// LatestBlockNumber implements NetworkProbe.
func (p *JSONRPCProbe) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var hexNumber string
	if err := p.call(ctx, "eth_blockNumber", []any{}, &hexNumber); err != nil {
		return 0, err
	}
	number, err := parseHexUint(hexNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number %q: %w", hexNumber, err)
	}
	return number, nil
}

// Block implements NetworkProbe.
func (p *JSONRPCProbe) Block(ctx context.Context, number uint64) (BlockInfo, error) {
	var raw struct {
		Timestamp    string   `json:"timestamp"`
		Transactions []string `json:"transactions"`
	}
	param := "0x" + strconv.FormatUint(number, 16)
	if err := p.call(ctx, "eth_getBlockByNumber", []any{param, false}, &raw); err != nil {
		return BlockInfo{}, err
	}

	ts, err := parseHexUint(raw.Timestamp)
	if err != nil {
		return BlockInfo{}, fmt.Errorf("failed to parse block timestamp %q: %w", raw.Timestamp, err)
	}
	return BlockInfo{
		TransactionCount: len(raw.Transactions),
		Timestamp:        time.Unix(int64(ts), 0),
	}, nil
}
