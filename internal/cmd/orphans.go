package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// orphansCmd is the CLI front-end over §4.5.4's orphan scan/kill admin
// endpoints, for operators who want to inspect or clear dangling renderer
// child processes without scripting curl against the server directly.
var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Inspect or kill orphaned renderer processes on a running server",
}

var orphansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List renderer processes with no matching active job",
	RunE:  runOrphansList,
}

var orphansKillCmd = &cobra.Command{
	Use:   "kill <pid>",
	Short: "Kill an orphaned renderer process by pid",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrphansKill,
}

func init() {
	rootCmd.AddCommand(orphansCmd)
	orphansCmd.AddCommand(orphansListCmd, orphansKillCmd)

	orphansCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Base URL of the running tilecache server")
}

func orphansClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func runOrphansList(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	server, _ := cmd.Flags().GetString("server")

	resp, err := orphansClient().Get(server + "/generate-cache/admin/orphans")
	if err != nil {
		return fmt.Errorf("orphans list: %w", err)
	}
	defer resp.Body.Close()

	var orphans []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&orphans); err != nil {
		return fmt.Errorf("orphans list: decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("orphans list: server returned %d", resp.StatusCode)
	}

	if len(orphans) == 0 {
		fmt.Println("no orphaned renderer processes")
		return nil
	}
	for _, o := range orphans {
		fmt.Printf("pid=%v job_id=%v synthetic=%v\n", o["pid"], o["jobId"], o["synthetic"])
	}
	return nil
}

func runOrphansKill(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	server, _ := cmd.Flags().GetString("server")

	if _, err := strconv.Atoi(args[0]); err != nil {
		return fmt.Errorf("orphans kill: pid must be an integer: %w", err)
	}

	resp, err := orphansClient().Post(server+"/generate-cache/admin/orphans/"+args[0]+"/kill", "application/json", nil)
	if err != nil {
		return fmt.Errorf("orphans kill: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("orphans kill: decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("orphans kill: server returned %d: %v", resp.StatusCode, out)
	}

	logger.Info("orphan killed", "pid", args[0], "response", out)
	return nil
}
