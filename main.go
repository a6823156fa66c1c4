package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fipe-harvester/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fipe-harvester:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "fipe-harvester",
		Short: "Harvest the FIPE vehicle price catalog into a SQL store",
		Long: `fipe-harvester walks the FIPE catalog (reference period, brands, models,
model-years, prices) under a shared rate limit and upserts everything into
PostgreSQL or SQLite. A rerun resumes from the first incomplete stage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(newCrawlCmd(&envFile))
	cmd.AddCommand(newStageCmd(&envFile))
	cmd.AddCommand(newMigrateCmd(&envFile))
	cmd.AddCommand(newExportCmd(&envFile))
	return cmd
}

func newCrawlCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Resume the crawl from the first incomplete stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			return a.crawl(cmd.Context(), nil)
		},
	}
}

func newStageCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <reference|models|years|prices>",
		Short: "Run the crawl from an explicit stage, ignoring store completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := models.ParseStage(args[0])
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			return a.crawl(cmd.Context(), &stage)
		},
	}
}

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			a.close()
			return nil
		},
	}
}

func newExportCmd(envFile *string) *cobra.Command {
	var (
		reference int
		out       string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the priced instances of one reference period to CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			if out == "" {
				out = a.cfg.CSVOutputPath
			}
			return a.export(cmd.Context(), reference, out)
		},
	}
	cmd.Flags().IntVarP(&reference, "reference", "r", 0, "reference period code (default: newest stored period)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: CSV_OUTPUT_PATH)")
	return cmd
}
