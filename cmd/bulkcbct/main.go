// Command bulkcbct is the headless entry point: scan a root directory
// for CBCT studies and, when a phantom is selected, run the analyzer
// over every study and write the XML report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appbatches "github.com/medphys/bulkcbct/internal/application/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
	"github.com/medphys/bulkcbct/internal/infra/analyzer/pylinac"
	"github.com/medphys/bulkcbct/internal/infra/inventory"
	"github.com/medphys/bulkcbct/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		phantom        = flag.String("phantom", "", "phantom model to analyze with (e.g. CatPhan504); empty scans only")
		extensions     = flag.String("extensions", strings.Join(studies.DefaultExtensions, ","), "comma-separated image slice extensions")
		followSymlinks = flag.Bool("follow-symlinks", false, "follow symlinks while scanning for studies")
		nestedSeries   = flag.Bool("nested-series", false, "also count image files one level below a study directory")
		output         = flag.String("output", "", "path to write the inventory JSON or batch XML report; stdout if omitted")
		analyzerCmd    = flag.String("analyzer", "pylinac-catphan", "analyzer command invoked per study")
		timeout        = flag.Duration("timeout", 10*time.Minute, "per-study analysis timeout")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <root>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	root := flag.Arg(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := inventory.NewScanner()
	inv, err := scanner.Scan(root, studies.ScanOptions{
		Extensions:     splitExtensions(*extensions),
		FollowSymlinks: *followSymlinks,
		NestedSeries:   *nestedSeries,
	})
	if err != nil {
		log.Printf("scan failed: %v", err)
		return 1
	}

	// Scan-only mode: emit the inventory document.
	if *phantom == "" {
		doc, err := inv.ToJSON()
		if err != nil {
			log.Printf("inventory render failed: %v", err)
			return 1
		}
		return write(*output, append(doc, '\n'))
	}

	model, err := studies.ParsePhantom(*phantom)
	if err != nil {
		log.Printf("%v: %s", err, *phantom)
		return 2
	}

	runner := pylinac.NewRunner(*analyzerCmd, nil, *timeout)
	batch := appbatches.RunBatch(ctx, inv, model, runner, nil)
	log.Printf("batch %s finished: %d studies, %d succeeded, %d failed",
		batch.ID, len(batch.Outcomes), batch.SuccessCount, batch.FailureCount)

	doc, err := report.Render(batch)
	if err != nil {
		log.Printf("report render failed: %v", err)
		return 1
	}
	return write(*output, doc)
}

func write(path string, doc []byte) int {
	if path == "" {
		os.Stdout.Write(doc)
		return 0
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		log.Printf("write %s: %v", path, err)
		return 1
	}
	log.Printf("output written to %s", path)
	return 0
}

func splitExtensions(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
