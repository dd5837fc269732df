// Command dbinspect prints the persisted watch-set for this installation.
// It accepts the same flags and environment variables as the server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/listenupapp/livereload/internal/config"
	"github.com/listenupapp/livereload/internal/di/providers"
	"github.com/listenupapp/livereload/internal/id"
	"github.com/listenupapp/livereload/internal/logger"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/store"
)

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	backend, err := providers.OpenBackend(cfg.Snapshot, logger.Discard())
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}

	installationID := id.Installation(cfg.Snapshot.InstallationRoot)
	p := store.NewPersister(backend, registry.New(), installationID, logger.Discard().Logger)
	defer p.Close()

	fmt.Println("=== Snapshot Inspection ===")
	fmt.Printf("Backend:         %s\n", backend.Name())
	fmt.Printf("Directory:       %s\n", cfg.Snapshot.Dir)
	fmt.Printf("Installation ID: %s\n", installationID)
	fmt.Println()

	snap, err := p.Read(context.Background())
	if err != nil {
		fmt.Printf("No usable snapshot: %v\n", err)
		return
	}

	fmt.Printf("Watched files: %d\n\n", snap.Len())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tRELATIVE PATH\tMTIME\tFULL RELOAD")
	for _, c := range snap.Categories {
		for _, e := range c.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", c.Name, e.RelativePath, e.MTime.UTC().Format(time.RFC3339Nano), e.RequiresFullReload)
		}
	}
	_ = w.Flush()
}
