package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwbudde/dicesim/internal/server"
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
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), client, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), client, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// getJSON decodes the response of a GET request into v.
func getJSON(client *http.Client, url string, v any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, client *http.Client, url string) error {
	var jobs []server.Job
	if _, err := getJSON(client, url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Job ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		if job.Config != nil {
			fmt.Fprintf(w, "  Mode: %s\n", job.Config.Mode)
			fmt.Fprintf(w, "  Preset: %s\n", job.Config.Preset)
		}
		if job.Iterations > 0 {
			fmt.Fprintf(w, "  Welfare: %.6f -> %.6f (%d iterations)\n", job.InitialWelfare, job.Welfare, job.Iterations)
		} else if job.Welfare != 0 {
			fmt.Fprintf(w, "  Welfare: %.6f\n", job.Welfare)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func getJobStatus(w io.Writer, client *http.Client, url, jobID string) error {
	var status server.JobStatus
	code, err := getJSON(client, url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}
	if status.Job == nil {
		return fmt.Errorf("empty status for job %s", jobID)
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintln(w)

	if cfg := status.Config; cfg != nil {
		fmt.Fprintln(w, "Configuration:")
		fmt.Fprintf(w, "  Mode: %s\n", cfg.Mode)
		fmt.Fprintf(w, "  Preset: %s\n", cfg.Preset)
		if cfg.Horizon > 0 {
			fmt.Fprintf(w, "  Horizon: %d\n", cfg.Horizon)
		}
		fmt.Fprintf(w, "  Method: %s\n", cfg.Optimizer.Method)
		fmt.Fprintf(w, "  Max Iterations: %d\n", cfg.Optimizer.MaxIterations)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Progress:")
	if status.InitialWelfare != 0 {
		fmt.Fprintf(w, "  Baseline Welfare: %.6f\n", status.InitialWelfare)
	}
	if status.Welfare != 0 {
		fmt.Fprintf(w, "  Welfare: %.6f\n", status.Welfare)
		if status.InitialWelfare != 0 {
			fmt.Fprintf(w, "  Gain: %.6f\n", status.Welfare-status.InitialWelfare)
		}
	}
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	fmt.Fprintf(w, "  Elapsed: %s\n", time.Duration(status.Elapsed*float64(time.Second)).Round(time.Millisecond))
	if status.EvalsPerSecond > 0 {
		fmt.Fprintf(w, "  Throughput: %.0f evaluations/sec\n", status.EvalsPerSecond)
	}
	if status.Finished() && status.State == server.StateCompleted && !status.Converged {
		fmt.Fprintf(w, "  Not converged: %s\n", status.Reason)
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}
