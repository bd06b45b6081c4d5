package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/repository"
	"github.com/noah-isme/filevault-api/internal/service"
	"github.com/noah-isme/filevault-api/pkg/config"
	"github.com/noah-isme/filevault-api/pkg/database"
	"github.com/noah-isme/filevault-api/pkg/logger"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// storage_audit runs one consistency scan against the configured database and backends and exits
// non-zero when any record's stored bytes are missing or mismatched.
func main() {
	var (
		asJSON      bool
		timeout     time.Duration
		concurrency int
		failOrphans bool
	)

	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Overall scan timeout")
	flag.IntVar(&concurrency, "concurrency", 0, "Parallel stat calls (defaults to STORAGE_SCAN_CONCURRENCY)")
	flag.BoolVar(&failOrphans, "fail-on-orphans", false, "Also exit non-zero when unreferenced local objects exist")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := scan(ctx, cfg, logr, concurrency)
	if err != nil {
		logr.Fatal("storage audit failed", zap.Error(err))
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("failed to encode report: %v", err)
		}
	} else {
		printReport(report)
	}

	if len(report.Inconsistencies) > 0 || (failOrphans && len(report.Orphans) > 0) {
		os.Exit(1)
	}
}

func scan(ctx context.Context, cfg *config.Config, logr *zap.Logger, concurrency int) (*service.ScanReport, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	local, err := storage.NewLocalStore(cfg.Storage.Root, storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL), cfg.APIPrefix+"/files/serve/")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	mirror, err := storage.NewMirror(ctx, cfg.Mirror, logr)
	if err != nil {
		return nil, fmt.Errorf("open cloud mirror: %w", err)
	}
	if concurrency <= 0 {
		concurrency = cfg.Scan.Concurrency
	}

	scanner := service.NewStorageScanner(repository.NewFileRepository(db), local, mirror, concurrency, nil, logr)
	return scanner.Run(ctx)
}

func printReport(report *service.ScanReport) {
	fmt.Println("Storage Audit Report")
	fmt.Println("====================")
	fmt.Printf("Started: %s  Duration: %s  Records checked: %d\n", report.StartedAt.Format(time.RFC3339), report.Duration, report.Checked)
	for _, issue := range report.Inconsistencies {
		fmt.Printf("[%s] file %d on %s: %s", issue.Kind, issue.FileID, issue.Backend, issue.Locator)
		if issue.Detail != "" {
			fmt.Printf(" (%s)", issue.Detail)
		}
		fmt.Println()
	}
	for _, orphan := range report.Orphans {
		fmt.Printf("[orphan] %s\n", orphan)
	}
	fmt.Printf("Inconsistent: %d, Orphans: %d\n", len(report.Inconsistencies), len(report.Orphans))
}
