// Command verify-draw audits a single draw against the chain, drand and the
// epoch's snapshot, prints the report and exits non-zero unless it verifies.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/cli"
	"github.com/R3E-Network/draw_auditor/internal/config"
	"github.com/R3E-Network/draw_auditor/internal/drand"
	"github.com/R3E-Network/draw_auditor/internal/errors"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/storage/memory"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("DRAW_AUDITOR_CONFIG"), "Path to YAML config")
	drawID := flag.Uint64("draw", 0, "Draw ID to audit")
	snapshotURI := flag.String("snapshot", "", "Snapshot document location (file path, file:// or https://); may contain {epoch}")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	timeout := flag.Duration("timeout", time.Minute, "Overall timeout")
	flag.Parse()

	if *drawID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	if *snapshotURI != "" {
		cfg.Snapshot.URLTemplate = *snapshotURI
	}
	log := logger.New("verify-draw", logger.Config{Level: "warn", Format: "text"})

	client, err := chain.NewClient(chain.Config{Endpoints: cfg.Chain.LCD.URLs(), Timeout: cfg.Chain.RequestTimeout}, log)
	if err != nil {
		fatalf("chain client: %v", err)
	}
	relays, err := drand.NewClient(drand.Config{
		Endpoints: cfg.Drand.Endpoints.URLs(),
		ChainHash: cfg.Drand.ChainHash,
		RateLimit: cfg.Drand.RateLimit,
		Timeout:   cfg.Drand.RequestTimeout,
	}, log)
	if err != nil {
		fatalf("drand client: %v", err)
	}
	svc, err := auditor.New(auditor.Options{
		Chain: chain.NewReader(client, chain.Contracts{
			Distributor: cfg.Chain.Distributor,
			Oracle:      cfg.Chain.Oracle,
			StakingHub:  cfg.Chain.StakingHub,
		}),
		Drand:     relays,
		Snapshots: snapshot.NewLoader(cfg.Snapshot.URLTemplate, cfg.Chain.RequestTimeout, log),
		Store:     memory.New(),
		Logger:    log,
	})
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	spin := cli.NewSpinner(os.Stderr, fmt.Sprintf("auditing draw %d", *drawID))
	spin.Start()
	res, err := svc.AuditDraw(ctx, *drawID)
	spin.Stop()
	if err != nil {
		se := errors.Classify(err)
		if se.Code == errors.CodeCommitMismatch {
			fatalf("DRAW %d: OPERATOR SECRET DOES NOT MATCH COMMITMENT: %v", *drawID, err)
		}
		fatalf("draw %d: %s: %v", *drawID, se.Code, err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Report); err != nil {
			fatalf("encode report: %v", err)
		}
	} else {
		cli.NewPrinter(os.Stdout).Report(res.Report)
	}
	if !res.Report.Verified {
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
