// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runHealth(cmd *cobra.Command, args []string) {
	var resp map[string]string
	if err := getJSON("/health", &resp); err != nil {
		log.Fatalf("Dashboard service is unreachable: %v", err)
	}
	fmt.Println("Dashboard service is", resp["status"])
}

func runSubmit(cmd *cobra.Command, args []string) {
	request := struct {
		datatypes.CaseInput
		PreferredProvider string `json:"preferred_provider,omitempty"`
	}{
		CaseInput: datatypes.CaseInput{
			PatientAge:  patientAge,
			Symptoms:    symptoms,
			Description: description,
			Specialty:   specialty,
		},
		PreferredProvider: preferredProvider,
	}

	var resp map[string]string
	if err := postJSON("/v1/cases", request, &resp); err != nil {
		log.Fatalf("Failed to submit the case: %v", err)
	}
	fmt.Println("Case accepted:", resp["case_id"])
	fmt.Println("Track it with: cairn cases status", resp["case_id"])
}

func runStatus(cmd *cobra.Command, args []string) {
	var status datatypes.CaseProcessingStatus
	if err := getJSON("/v1/cases/"+args[0], &status); err != nil {
		log.Fatalf("Failed to fetch the case status: %v", err)
	}
	printStatus(status)
}

func runActiveCases(cmd *cobra.Command, args []string) {
	var resp struct {
		Cases []datatypes.CaseProcessingStatus `json:"cases"`
	}
	if err := getJSON("/v1/cases", &resp); err != nil {
		log.Fatalf("Failed to list active cases: %v", err)
	}
	if len(resp.Cases) == 0 {
		fmt.Println("No cases in flight.")
		return
	}
	for _, status := range resp.Cases {
		fmt.Printf("%s  %-10s  %3d%%\n", status.CaseID, status.State, status.Progress)
	}
}

func runInsights(cmd *cobra.Command, args []string) {
	path := "/v1/insights"
	if insightLimit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, insightLimit)
	}
	var resp struct {
		Insights []datatypes.AIInsight `json:"insights"`
	}
	if err := getJSON(path, &resp); err != nil {
		log.Fatalf("Failed to list insights: %v", err)
	}
	if len(resp.Insights) == 0 {
		fmt.Println("No insights.")
		return
	}
	for _, insight := range resp.Insights {
		marker := " "
		if insight.ActionRequired {
			marker = "!"
		}
		fmt.Printf("%s [%-8s] %-25s %s (case %s)\n",
			marker, insight.Priority, insight.Type, insight.Title, insight.CaseID)
	}
}

func runNotifications(cmd *cobra.Command, args []string) {
	path := "/v1/notifications"
	if unreadOnly {
		path += "?unread=true"
	}
	var resp struct {
		Notifications []datatypes.DashboardNotification `json:"notifications"`
	}
	if err := getJSON(path, &resp); err != nil {
		log.Fatalf("Failed to list notifications: %v", err)
	}
	if len(resp.Notifications) == 0 {
		fmt.Println("No notifications.")
		return
	}
	for _, n := range resp.Notifications {
		read := " "
		if !n.Read {
			read = "*"
		}
		fmt.Printf("%s [%-7s] %s  %s - %s\n",
			read, n.Kind, n.Timestamp.Format("15:04:05"), n.Title, n.Message)
	}
}

func runMetrics(cmd *cobra.Command, args []string) {
	var snapshot datatypes.DashboardMetrics
	if err := getJSON("/v1/metrics", &snapshot); err != nil {
		log.Fatalf("Failed to fetch the dashboard snapshot: %v", err)
	}
	fmt.Printf("Total cases:       %d\n", snapshot.TotalCases)
	fmt.Printf("Active analyses:   %d\n", snapshot.ActiveAnalyses)
	fmt.Printf("Accuracy:          %.1f%%\n", snapshot.AccuracyPercent)
	fmt.Printf("System load:       %.1f%%\n", snapshot.SystemLoadPercent)
	fmt.Printf("Network uptime:    %.1f%%\n", snapshot.NetworkUptimePercent)
	fmt.Printf("Files (month/all): %d/%d\n", snapshot.FilesThisMonth, snapshot.TotalFiles)
	if snapshot.Degraded {
		fmt.Println("NOTE: one or more figures are degraded fallbacks.")
	}
}

func printStatus(status datatypes.CaseProcessingStatus) {
	fmt.Printf("Case:          %s\n", status.CaseID)
	fmt.Printf("State:         %s\n", status.State)
	fmt.Printf("Progress:      %d%%\n", status.Progress)
	fmt.Printf("Patterns:      %d\n", status.PatternsDetected)
	fmt.Printf("Similar cases: %d\n", status.SimilarCasesFound)
	fmt.Printf("Consultation:  %v\n", status.ConsultationRequested)
	if status.EstimatedCompletion != nil && !status.State.Terminal() {
		fmt.Printf("Estimated:     %s\n", status.EstimatedCompletion.Format(time.RFC3339))
	}
	if status.CompletedAt != nil {
		fmt.Printf("Completed:     %s\n", status.CompletedAt.Format(time.RFC3339))
	}
}
