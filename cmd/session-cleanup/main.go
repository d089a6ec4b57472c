// session-cleanup fails orphaned RUNNING reconciliation sessions left behind
// by a crashed worker. The server runs the same sweep on a schedule; this
// command exists for manual repair and for environments without the server.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/session-cleanup
//
// RECON_ORPHAN_TIMEOUT_SECONDS overrides the staleness cutoff.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	timeout := config.ReconcileSettings().OrphanTimeout
	cleaned, err := workflow.CleanupOrphanedSessions(ctx, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Marked %d orphaned session(s) FAILED (cutoff %s)\n", cleaned, timeout)
}
