package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	config "github.com/drummonds/pagextract/config"
	engine "github.com/drummonds/pagextract/engine"
	"github.com/drummonds/pagextract/engine/extractor"
	"github.com/drummonds/pagextract/engine/pdfrenderer"
	"github.com/drummonds/pagextract/internal/build"
	"github.com/drummonds/pagextract/internal/telemetry"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	extractor.Logger = Logger
	pdfrenderer.Logger = Logger
	telemetry.Logger = Logger
}

// pageIndex is the shared state of a CLI run: the files written so far
type pageIndex map[int]string

func main() {
	serverConfig, logger := config.SetupCLI()
	injectGlobals(logger)

	backendName := flag.String("backend", serverConfig.RenderBackend, "Render backend: pdfium, fitz or memory")
	dpi := flag.Float64("dpi", serverConfig.RenderDPI, "Render resolution in dots per inch")
	out := flag.String("out", serverConfig.OutputPath, "Folder the page images are written under")
	concurrency := flag.Int("concurrency", serverConfig.MaxConcurrency, "Pages rendered at once (0 sizes from the host)")
	width := flag.Int("width", serverConfig.OutputWidth, "Scale pages to this width (0 keeps the rendered width)")
	version := flag.Bool("version", false, "Print the version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] file.pdf [file.pdf ...]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintln(flag.CommandLine.Output(), "Renders every page to a bilevel PNG. SIGINT stops, SIGUSR1 pauses, SIGUSR2 resumes.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println(build.Version)
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// traces go to stderr so the tally on stdout stays readable
	shutdownTracing, err := telemetry.Setup(serverConfig.TraceExporter, "pagextract-cli", os.Stderr)
	if err != nil {
		Logger.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	var capacity extractor.CapacityFunc = extractor.HostCapacity
	if *concurrency > 0 {
		capacity = extractor.FixedCapacity(*concurrency)
	}

	// files are extracted one after another so one run's worth of instances is enough
	backend, err := pdfrenderer.NewBackend(*backendName, pdfrenderer.Config{
		DPI:          *dpi,
		MaxInstances: pdfrenderer.InstanceBudget(1, capacity()),
	})
	if err != nil {
		Logger.Error("Failed to create render backend", "backend", *backendName, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	control := make(chan extractor.ControlMessage)
	ctx, stopSignals := notifyControl(context.Background(), control)
	defer stopSignals()

	failed := false
	for _, path := range flag.Args() {
		outDir := filepath.Join(*out, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		res, tally, err := extract(ctx, backend, path, outDir, engine.PageWriter{Width: *width}, capacity, control, serverConfig.ResultBuffer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: %d pages, %d written, %d failed, state %s\n", path, res.Pages, tally.Succeeded, tally.Failed, res.State)
		for kind, n := range tally.ByKind {
			fmt.Printf("    %s: %d\n", kind, n)
		}
		if tally.Failed > 0 {
			failed = true
		}
		if res.State == extractor.Aborted {
			failed = true
			break
		}
	}
	if failed {
		os.Exit(1)
	}
}

// extract renders one document into outDir and waits for every page task
func extract(ctx context.Context, backend pdfrenderer.Backend, path, outDir string, writer engine.PageWriter, capacity extractor.CapacityFunc, control <-chan extractor.ControlMessage, buffer int) (extractor.Result, extractor.Tally, error) {
	session, err := extractor.Open(backend, path)
	if err != nil {
		return extractor.Result{}, extractor.Tally{}, err
	}
	defer session.Close()

	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		return extractor.Result{}, extractor.Tally{}, fmt.Errorf("unable to create output folder: %w", err)
	}

	sink := extractor.NewSink(buffer)
	state := extractor.NewSharedState(pageIndex{})
	var writeErrs sync.Map
	callback := func(page int, img []byte, width, height, channels int, state *extractor.SharedState[pageIndex]) {
		written, err := writer.Write(outDir, page, img, width, height)
		if err != nil {
			writeErrs.Store(page, err)
			return
		}
		state.Update(func(idx *pageIndex) { (*idx)[page] = written.Path })
	}

	tallies := make(chan extractor.Tally, 1)
	go func() {
		// the callback has stored any write error before its outcome is sent
		unwritten := 0
		tally := sink.Collect(context.Background(), func(o extractor.PageOutcome) {
			if o.Err != nil {
				Logger.Warn("Page failed", "path", path, "page", o.Page, "error", o.Err)
				return
			}
			if err, ok := writeErrs.Load(o.Page); ok {
				Logger.Error("Unable to write page", "path", path, "page", o.Page, "error", err)
				unwritten++
			}
		})
		tally.Succeeded -= unwritten
		tally.Failed += unwritten
		tallies <- tally
	}()

	var workers sync.WaitGroup
	res, runErr := extractor.Run(ctx, session, callback, sink, state, control,
		extractor.WithCapacityFunc(capacity),
		extractor.WithWorkerGroup(&workers))
	workers.Wait()
	sink.Close()
	tally := <-tallies

	Logger.Info("Document extracted", "path", path, "written", len(state.Snapshot()), "outDir", outDir)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return res, tally, runErr
	}
	return res, tally, nil
}
