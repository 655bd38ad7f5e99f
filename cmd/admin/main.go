// Operator CLI over the same storage layer as the server: inspect reports
// and survey rows, or run a garbage sweep by hand.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"emberchat/backend/internal/config"
	"emberchat/backend/internal/reaper"
	"emberchat/backend/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	db, err := storage.OpenDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	store := storage.NewService(db, storage.NewMemoryBus())

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <reports|feedback|sweep>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reports":
		reports, err := store.RecentReports(50)
		if err != nil {
			log.Fatalf("failed to list reports: %v", err)
		}
		for _, r := range reports {
			fmt.Printf("%s  session=%s  reason=%s  at=%s\n",
				r.ID, r.SessionID, r.Reason, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d report(s)\n", len(reports))

	case "feedback":
		rows, err := store.RecentFeedback(50)
		if err != nil {
			log.Fatalf("failed to list feedback: %v", err)
		}
		for _, f := range rows {
			fmt.Printf("%s  session=%s  role=%s  gender=%q  at=%s\n",
				f.ID, f.SessionID, f.Role, f.Gender, f.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d feedback row(s)\n", len(rows))

	case "sweep":
		sweep := reaper.New(store, cfg.QueueStaleAfter, cfg.OrphanSessionAfter, cfg.ReapInterval)
		entries, sessions, err := sweep.Sweep()
		if err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		fmt.Printf("Removed %d stale queue entries and %d orphan sessions.\n", entries, sessions)

	default:
		fmt.Println("Unknown command. Usage: admin <reports|feedback|sweep>")
		os.Exit(1)
	}
}
