// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const cliVersion = "0.1.0"

// --- Global Command Variables ---
var (
	serverURL         string
	patientAge        int
	symptoms          []string
	description       string
	specialty         string
	preferredProvider string
	insightLimit      int
	unreadOnly        bool

	rootCmd = &cobra.Command{
		Use:   "cairn",
		Short: "A cli to interact with the Cairn case analysis dashboard",
		Long: `Cairn is a tool for submitting medical cases for AI analysis
				and inspecting the live dashboard state from the terminal.`,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cairn", cliVersion)
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check whether the dashboard service is up",
		Run:   runHealth, // Defined in cmd_cases.go
	}

	// --- Cases ---
	casesCmd = &cobra.Command{
		Use:   "cases",
		Short: "Submit and inspect analysis cases",
	}
	submitCmd = &cobra.Command{
		Use:   "submit",
		Short: "Submit a case for background analysis",
		Run:   runSubmit, // Defined in cmd_cases.go
	}
	statusCmd = &cobra.Command{
		Use:   "status [case_id]",
		Short: "Show the processing status of a case",
		Args:  cobra.ExactArgs(1),
		Run:   runStatus, // Defined in cmd_cases.go
	}
	activeCmd = &cobra.Command{
		Use:   "active",
		Short: "List all cases still in flight",
		Run:   runActiveCases, // Defined in cmd_cases.go
	}

	// --- Dashboard state ---
	insightsCmd = &cobra.Command{
		Use:   "insights",
		Short: "List insights ordered by priority then recency",
		Run:   runInsights, // Defined in cmd_cases.go
	}
	notificationsCmd = &cobra.Command{
		Use:   "notifications",
		Short: "List dashboard notifications",
		Run:   runNotifications, // Defined in cmd_cases.go
	}
	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Show the aggregated dashboard snapshot",
		Run:   runMetrics, // Defined in cmd_cases.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:8099", "Base URL of the dashboard service")

	submitCmd.Flags().IntVar(&patientAge, "age", 0, "Patient age")
	submitCmd.Flags().StringSliceVar(&symptoms, "symptom", nil, "Symptom (repeatable)")
	submitCmd.Flags().StringVar(&description, "description", "", "Free-text case description")
	submitCmd.Flags().StringVar(&specialty, "specialty", "", "Requesting specialty")
	submitCmd.Flags().StringVar(&preferredProvider, "provider", "",
		"Preferred analysis provider (openai, ollama, heuristic)")

	insightsCmd.Flags().IntVar(&insightLimit, "limit", 0, "Maximum insights to list (0 = all)")
	notificationsCmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only unread notifications")

	casesCmd.AddCommand(submitCmd, statusCmd, activeCmd)
	rootCmd.AddCommand(versionCmd, healthCmd, casesCmd, insightsCmd, notificationsCmd, metricsCmd)
}
