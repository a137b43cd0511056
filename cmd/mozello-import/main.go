// mozello-import pulls paid orders from the store platform for a date range
// and records them locally, through the same upsert path the webhook uses.
// Re-running a range is safe.
//
// Usage (from backend directory):
//   MOZELLO_API_KEY=... DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/mozello-import -from 2026-01-01 -to 2026-01-31
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mmdatafocus/ebooks_backend/catalog"
	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
	"github.com/mmdatafocus/ebooks_backend/mozellosync"
)

func main() {
	_ = godotenv.Load()

	var fromArg, toArg string
	flag.StringVar(&fromArg, "from", "", "start date YYYY-MM-DD (inclusive)")
	flag.StringVar(&toArg, "to", "", "end date YYYY-MM-DD (inclusive)")
	flag.Parse()

	from, err := parseDateArg(fromArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(2)
	}
	to, err := parseDateArg(toArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		os.Exit(2)
	}

	key := config.MozelloAPIKey()
	if key == "" {
		fmt.Fprintln(os.Stderr, "MOZELLO_API_KEY is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisBestEffort()
	db := config.GetDB()
	models.MigrateTable()

	library, err := catalog.OpenLibrary(config.CalibreLibraryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open library metadata: %v\n", err)
		os.Exit(1)
	}
	userDir, err := catalog.OpenUserDirectory(config.CalibreAppDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open user directory: %v\n", err)
		os.Exit(1)
	}
	client, err := mozello.NewClient(key, config.MozelloAPIBase(),
		mozello.WithMinInterval(config.MozelloMinCallInterval()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build api client: %v\n", err)
		os.Exit(1)
	}

	svc := mozellosync.NewService(db,
		mozellosync.CalibreBooks{Library: library},
		mozellosync.CalibreUsers{Directory: userDir},
		client,
		key,
	)

	summary, err := svc.ImportPaidOrders(context.Background(), from, to)
	if summary != nil {
		fmt.Printf("fetched=%d imported=%d skipped=%d errors=%d\n",
			summary.Fetched, summary.Imported, summary.Skipped, len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Printf("  error email_hash=%s handle=%s: %s\n", e.EmailHash, e.Handle, e.Message)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func parseDateArg(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
