package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"psffit/pkg/psffit"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	verbose := false
	if len(args) > 0 && args[0] == "-v" {
		verbose = true
		args = args[1:]
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: psffit [-v] <config.yaml>")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	config, err := psffit.LoadConfig(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Loading: %s\n", config.Exposure.Path)
	exposure, err := psffit.NewExposureFromFits(
		config.Exposure.Path, config.Exposure.Gain, config.Exposure.ReadNoise,
		config.Determiner.Lam)
	if err != nil {
		return fmt.Errorf("loading exposure: %w", err)
	}
	fmt.Printf("Exposure loaded: %dx%d", exposure.Bounds.Dx(), exposure.Bounds.Dy())
	if exposure.Detector != "" {
		fmt.Printf(" (%s)", exposure.Detector)
	}
	fmt.Println()

	candidates, err := loadCatalog(config.Catalog, exposure)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	fmt.Printf("Candidates loaded: %d\n", len(candidates))

	determiner := psffit.NewPsfDeterminer(config.Determiner)
	determiner.Log = log

	startTime := time.Now()
	basis, diag, err := determiner.DeterminePsf(context.Background(), exposure, candidates)
	if err != nil {
		return fmt.Errorf("determining PSF: %w", err)
	}
	elapsed := time.Since(startTime)

	fmt.Println()
	fmt.Printf("=== PSF Determination Results (%.1fs) ===\n", elapsed.Seconds())
	fmt.Printf("  Kernel size:     %d x %d\n", diag.KernelSize, diag.KernelSize)
	fmt.Printf("  Stars available: %d\n", diag.NumAvailStars)
	fmt.Printf("  Stars used:      %d\n", diag.NumGoodStars)
	if diag.NumOutOfBounds > 0 {
		fmt.Printf("  Out of bounds:   %d\n", diag.NumOutOfBounds)
	}
	fmt.Printf("  Spatial chi^2:   %.3f\n", diag.SpatialFitChi2)
	for i, ev := range diag.EigenValues {
		fmt.Printf("  Eigenvalue %d:    %.6g\n", i, ev)
	}
	fmt.Println("==============================")

	if config.Output.CellOverlay != "" {
		if err := psffit.RenderCellOverlay(diag.Grid, diag.Statuses, config.Output.CellOverlay); err != nil {
			return fmt.Errorf("rendering cell overlay: %w", err)
		}
		fmt.Printf("Cell overlay written: %s\n", config.Output.CellOverlay)
	}
	if config.Output.PsfMosaic != "" {
		err := psffit.RenderPsfMosaic(basis,
			config.Output.MosaicNx, config.Output.MosaicNy,
			config.Output.Magnification, config.Output.PsfMosaic)
		if err != nil {
			return fmt.Errorf("rendering PSF mosaic: %w", err)
		}
		fmt.Printf("PSF mosaic written: %s\n", config.Output.PsfMosaic)
	}

	return nil
}

// loadCatalog reads a candidate catalog CSV with columns
// id,x,y,ixx,iyy,ixy. A header row is skipped if the first field is not
// numeric.
func loadCatalog(path string, exposure *psffit.Exposure) ([]*psffit.PsfCandidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}

	candidates := make([]*psffit.PsfCandidate, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: expected 6 columns (id,x,y,ixx,iyy,ixy), got %d", i+1, len(row))
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				// header row
				continue
			}
			return nil, fmt.Errorf("row %d: bad id %q", i+1, row[0])
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			vals[j], err = strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad value %q", i+1, row[j+1])
			}
		}
		x, y := vals[0], vals[1]
		size := psffit.QuadrupoleAxisLength(vals[2], vals[3], vals[4])
		candidates = append(candidates, psffit.NewPsfCandidate(id, x, y, size, exposure))
	}
	return candidates, nil
}
