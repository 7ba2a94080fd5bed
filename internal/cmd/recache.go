package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tilecache/internal/worker"
)

// recacheCmd is a thin CLI front-end over §4.6.4's runRecacheForProject,
// for cron-outside-the-process invocation of a project-wide batch recache
// against an already-running server.
var recacheCmd = &cobra.Command{
	Use:   "recache",
	Short: "Trigger a project-wide batch recache on a running server",
	RunE:  runRecache,
}

func init() {
	rootCmd.AddCommand(recacheCmd)

	recacheCmd.Flags().String("server", "http://127.0.0.1:8080", "Base URL of the running tilecache server")
	recacheCmd.Flags().String("project", "", "Project id to recache (required)")
	recacheCmd.Flags().StringSlice("layer", nil, "Layer name to recache (repeatable; defaults to every auto-recache-eligible layer)")
	_ = recacheCmd.MarkFlagRequired("project")
}

func runRecache(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	server, _ := cmd.Flags().GetString("server")
	project, _ := cmd.Flags().GetString("project")
	layers, _ := cmd.Flags().GetStringSlice("layer")

	body, err := json.Marshal(map[string]any{"layers": layers})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, server+"/projects/"+project+"/cache/project", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("recache: request batch run: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("recache: decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("recache: server returned %d: %v", resp.StatusCode, out)
	}

	logger.Info("batch recache started", "project", project, "response", out)
	return pollBatchProgress(client, server, project)
}

// batchStatus mirrors the fields of schedule.BatchRun that GET
// /projects/:id/cache/project reports while a batch is active.
type batchStatus struct {
	Status         string `json:"Status"`
	TotalCount     int    `json:"TotalCount"`
	CompletedCount int    `json:"CompletedCount"`
	CurrentLayer   string `json:"CurrentLayer"`
	Error          string `json:"Error"`
}

// pollBatchProgress polls the project's batch-run status until it reaches a
// terminal state, driving a worker.Progress bar on stderr (§4.6.4).
func pollBatchProgress(client *http.Client, server, project string) error {
	url := server + "/projects/" + project + "/cache/project"

	var bar *worker.Progress
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("recache: poll batch status: %w", err)
		}

		var status *batchStatus
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("recache: decode batch status: %w", decodeErr)
		}
		if status == nil {
			// The batch already finished and was evicted before our first poll.
			return nil
		}

		if bar == nil {
			bar = worker.NewProgress(status.TotalCount, true)
		}
		failed := 0
		if status.Error != "" {
			failed = 1
		}
		bar.Update(status.CompletedCount, status.TotalCount, failed)

		switch status.Status {
		case "completed", "error", "aborted":
			bar.Done()
			if status.Status == "error" {
				return fmt.Errorf("recache: batch run failed: %s", status.Error)
			}
			logger.Info("batch recache finished", "project", project, "status", status.Status, "summary", bar.Summary())
			return nil
		}
	}
	return nil
}
