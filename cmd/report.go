package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/app"
	"github.com/JakeFAU/cromap-crawler/internal/dedup"
	"github.com/JakeFAU/cromap-crawler/internal/report"
	"github.com/JakeFAU/cromap-crawler/internal/storage"
)

func newReportCmd() *cobra.Command {
	var (
		csvPath  string
		regions  []string
		keywords []string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the export by region and write a filtered CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if !cmd.Flags().Changed("csv") {
				csvPath = cfg.Report.CSVPath
			}
			if !cmd.Flags().Changed("regions") {
				regions = cfg.Report.Regions
			}
			if !cmd.Flags().Changed("keywords") {
				keywords = cfg.Report.Keywords
			}

			ctx := cmd.Context()
			store, closeStore, err := app.NewBlobStore(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			export, err := dedup.ReadExport(ctx, store, cfg.Dedup.Path)
			if err != nil {
				return err
			}
			entries := report.FilterKeywords(report.FilterRegions(report.Entries(export), regions...), keywords...)
			report.RenderStats(cmd.OutOrStdout(), len(entries), report.RegionStats(entries))

			if csvPath == "" {
				return nil
			}
			var buf bytes.Buffer
			if err := report.WriteCSV(&buf, entries); err != nil {
				return err
			}
			if csvPath == "-" {
				_, err := buf.WriteTo(cmd.OutOrStdout())
				return err
			}
			uri, err := store.PutObject(ctx, csvPath, storage.ContentTypeCSV, &buf)
			if err != nil {
				return fmt.Errorf("write report csv: %w", err)
			}
			rt.logger.Info("report written",
				zap.Int("exported", len(export)),
				zap.Int("matched", len(entries)),
				zap.String("csv", uri))
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "object path of the CSV output (\"-\" for stdout, empty to skip)")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "regions to keep (default from report.regions)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "keywords to match (default from report.keywords)")
	return cmd
}
