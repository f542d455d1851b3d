// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	previous := serverURL
	serverURL = server.URL
	t.Cleanup(func() { serverURL = previous })
}

func TestGetJSON_DecodesResponse(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	var resp map[string]string
	require.NoError(t, getJSON("/health", &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGetJSON_Non200IsError(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"case not found"}`, http.StatusNotFound)
	})

	var resp map[string]string
	err := getJSON("/v1/cases/nope", &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPostJSON_SendsBodyAndDecodes(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"fever"}, body["symptoms"])

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"case_id": "case-1"})
	})

	var resp map[string]string
	err := postJSON("/v1/cases", map[string]any{"symptoms": []string{"fever"}}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "case-1", resp["case_id"])
}

func TestPostJSON_ErrorStatusSurfacesBody(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
	})

	err := postJSON("/v1/cases", map[string]string{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request body")
}
