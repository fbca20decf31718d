package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var url string

	if len(args) == 0 {
		// List all jobs
		url = fmt.Sprintf("%s/api/v1/jobs", serverURL)
		return listJobs(url)
	} else {
		// Get specific job status
		jobID := args[0]
		url = fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID)
		return getJobStatus(url, jobID)
	}
}

func listJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job["id"])
		fmt.Printf("  State: %s\n", job["state"])
		config := job["config"].(map[string]interface{})
		fmt.Printf("  Strategy: %s\n", config["strategy"])
		fmt.Printf("  Objective: %s\n", config["objective"])
		if job["bestLoss"] != nil && job["evaluations"] != nil && job["evaluations"].(float64) > 0 {
			fmt.Printf("  Loss: %.6g -> %.6g\n", job["initialLoss"], job["bestLoss"])
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Display status
	fmt.Printf("Job: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	config := status["config"].(map[string]interface{})
	fmt.Println("Configuration:")
	fmt.Printf("  Strategy: %s\n", config["strategy"])
	fmt.Printf("  Objective: %s\n", config["objective"])
	fmt.Printf("  Dimension: %v\n", config["dimension"])
	fmt.Printf("  Budget: %v\n", config["budget"])
	fmt.Printf("  Workers: %v\n", config["workers"])
	fmt.Println()

	fmt.Println("Progress:")
	if status["evaluations"] != nil {
		fmt.Printf("  Evaluations: %v\n", status["evaluations"])
	}
	if status["initialLoss"] != nil && status["initialLoss"].(float64) != 0 {
		fmt.Printf("  Initial Loss: %.6g\n", status["initialLoss"])
	}
	if status["bestLoss"] != nil {
		fmt.Printf("  Best Loss: %.6g\n", status["bestLoss"])
		if initial, ok := status["initialLoss"].(float64); ok && initial != 0 {
			improvement := initial - status["bestLoss"].(float64)
			improvementPct := (improvement / initial) * 100
			fmt.Printf("  Improvement: %.6g (%.1f%%)\n", improvement, improvementPct)
		}
	}
	if status["converged"] == true {
		fmt.Println("  Converged: yes")
	}

	if status["elapsed"] != nil {
		elapsed := time.Duration(status["elapsed"].(float64) * float64(time.Second))
		fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}

	if status["evalsPerSec"] != nil && status["evalsPerSec"].(float64) > 0 {
		fmt.Printf("  Throughput: %.0f evals/sec\n", status["evalsPerSec"])
	}

	if status["error"] != nil && status["error"].(string) != "" {
		fmt.Printf("\nError: %s\n", status["error"])
	}

	return nil
}
