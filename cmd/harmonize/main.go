package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"borderhist/internal/export"
	"borderhist/internal/history/models"
	"borderhist/internal/history/service"
	"borderhist/internal/history/store"
	"borderhist/internal/ingest"
)

// harmonize builds an administrative history from an initial snapshot and a
// change list, without a server or database.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type buildFlags struct {
	initialPath   string
	changesPath   string
	regionsPath   string
	districtsPath string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.initialPath, "initial", "", "path to the initial state JSON (required)")
	cmd.Flags().StringVar(&f.changesPath, "changes", "", "path to the change list JSON")
	cmd.Flags().StringVar(&f.regionsPath, "regions", "", "path to the region registry JSON")
	cmd.Flags().StringVar(&f.districtsPath, "districts", "", "path to the district registry JSON")
	_ = cmd.MarkFlagRequired("initial")
}

// build loads the inputs and applies the change list against an in-memory
// store.
func (f *buildFlags) build(ctx context.Context) (*service.History, int, error) {
	initial, err := ingest.LoadInitialState(f.initialPath)
	if err != nil {
		return nil, 0, err
	}

	var regs *models.Registries
	switch {
	case f.regionsPath != "" && f.districtsPath != "":
		regions, err := ingest.LoadRegistry(f.regionsPath, models.UnitKindRegion)
		if err != nil {
			return nil, 0, err
		}
		districts, err := ingest.LoadRegistry(f.districtsPath, models.UnitKindDistrict)
		if err != nil {
			return nil, 0, err
		}
		regs = &models.Registries{Regions: regions, Districts: districts}
	case f.regionsPath != "" || f.districtsPath != "":
		return nil, 0, fmt.Errorf("--regions and --districts must be given together")
	default:
		if regs, err = ingest.BuildRegistries(initial); err != nil {
			return nil, 0, err
		}
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	hist, err := service.New(ctx, initial, regs, store.NewInMemory(), service.WithLogger(quiet))
	if err != nil {
		return nil, 0, err
	}

	applied := 0
	if f.changesPath != "" {
		changes, err := ingest.LoadChanges(f.changesPath)
		if err != nil {
			return nil, 0, err
		}
		if applied, err = hist.ApplyAll(ctx, changes); err != nil {
			return nil, 0, err
		}
	}
	return hist, applied, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "harmonize",
		Short:         "Build, export, and query administrative boundary histories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd(), newExportCmd(), newIdentifyCmd(), newVerifyCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags
	var describe bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Apply a change list and print the resulting timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, applied, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			states, err := hist.States(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d change batches, %d states\n", applied, len(states))
			for _, st := range states {
				to := "open"
				if st.ValidTo != nil {
					to = st.ValidTo.Format(time.DateOnly)
				}
				districts := 0
				for _, region := range st.Regions {
					districts += len(region.Districts)
				}
				fmt.Fprintf(out, "  %s .. %s: %d regions, %d districts\n",
					st.ValidFrom.Format(time.DateOnly), to, len(st.Regions), districts)
			}
			if describe {
				if err := printNarration(cmd.Context(), out, flags.changesPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&describe, "describe", false, "print one narrated line per change")
	return cmd
}

func printNarration(ctx context.Context, out io.Writer, changesPath string) error {
	if changesPath == "" {
		return nil
	}
	changes, err := ingest.LoadChanges(changesPath)
	if err != nil {
		return err
	}
	models.SortChanges(changes)
	for _, c := range changes {
		fmt.Fprintln(out, c.Describe())
	}
	return nil
}

func newExportCmd() *cobra.Command {
	var flags buildFlags
	var (
		dir          string
		homelandOnly bool
		altNames     bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one CSV file per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, _, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			exporter := export.New(hist, dir,
				export.WithHomelandOnly(homelandOnly),
				export.WithAlternativeNames(altNames))
			paths, err := exporter.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&dir, "out", "exports", "output directory")
	cmd.Flags().BoolVar(&homelandOnly, "homeland-only", false, "export homeland regions only")
	cmd.Flags().BoolVar(&altNames, "alt-names", false, "expand alternative district names into extra rows")
	return cmd
}

func newIdentifyCmd() *cobra.Command {
	var flags buildFlags
	var (
		targetPath   string
		homelandOnly bool
	)
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Find the states closest to a target region-district list",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, _, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			target, err := readPairsCSV(targetPath)
			if err != nil {
				return err
			}
			matches, err := hist.IdentifyState(cmd.Context(), target, homelandOnly)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "no states to match against")
				return nil
			}
			for _, m := range matches {
				to := "open"
				if m.ValidTo != nil {
					to = m.ValidTo.Format(time.DateOnly)
				}
				fmt.Fprintf(out, "%s .. %s: distance %d\n",
					m.ValidFrom.Format(time.DateOnly), to, m.Distance)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&targetPath, "target", "", "path to a region,district CSV (required)")
	cmd.Flags().BoolVar(&homelandOnly, "homeland-only", false, "compare homeland regions only")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Cross-check every state against the unit registries",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, _, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			issues, err := hist.VerifyConsistency(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "history is consistent")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(out, issue)
			}
			return fmt.Errorf("%d consistency issues", len(issues))
		},
	}
	flags.register(cmd)
	return cmd
}

// readPairsCSV reads the same region,district format the exporter writes.
func readPairsCSV(path string) ([]models.RDPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target list: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read target list: %w", err)
	}
	var pairs []models.RDPair
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("target list row %d: expected region,district", i+1)
		}
		if i == 0 && row[0] == "region" && row[1] == "district" {
			continue
		}
		pairs = append(pairs, models.RDPair{Region: row[0], District: row[1]})
	}
	return pairs, nil
}
