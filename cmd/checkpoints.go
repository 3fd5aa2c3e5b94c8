package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/store"
	"github.com/spf13/cobra"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage optimization checkpoints",
	Long: `Manage optimization checkpoints including listing and cleaning old checkpoints.
Checkpoints allow resuming long-running optimizations with "dicesim resume".`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with job ID, timestamp, iteration, welfare, preset and size on disk.`,
	Args:  cobra.NoArgs,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
Keep the N most recent checkpoints or delete checkpoints older than N days.`,
	Args: cobra.NoArgs,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for checkpoint storage")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tTIMESTAMP\tITERATION\tWELFARE\tPRESET\tSIZE")
	fmt.Fprintln(w, "------\t---------\t---------\t-------\t------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(filepath.Join(checkpointDataDir, "jobs", info.JobID)); err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%s\t%s\n",
			shortID(info.JobID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Iteration,
			info.Welfare,
			info.Preset,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return &dice.ConfigurationError{Field: "retention", Reason: "must specify either --keep-last or --older-than"}
	}

	checkpointStore, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (iteration %d, %s)\n",
			shortID(info.JobID),
			info.Iteration,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(cmd.InOrStdin(), out, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(info.JobID); err != nil {
			slog.Error("Failed to delete checkpoint", "job_id", info.JobID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted checkpoint", "job_id", info.JobID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// selectCheckpointsForDeletion applies the retention policy: checkpoints
// older than olderThanDays, plus everything beyond the keepLast most recent.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast, olderThanDays int, now time.Time) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.JobID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := append([]store.CheckpointInfo(nil), infos...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.JobID] {
				toDelete = append(toDelete, info)
				selected[info.JobID] = true
			}
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
