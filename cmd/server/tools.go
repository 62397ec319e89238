package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zynqcloud/go-attachments/internal/compress"
	"github.com/zynqcloud/go-attachments/internal/store"
)

func newCompressCmd(configFile *string) *cobra.Command {
	var noPDF bool
	cmd := &cobra.Command{
		Use:   "compress FILE...",
		Short: "Run the compression pipeline on files in place",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			opts := []compress.Option{compress.WithLogger(log)}
			if noPDF {
				opts = append(opts, compress.WithPDFOptimizer(nil))
			}
			p := compress.New(opts...)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tKIND\tOUTCOME\tBEFORE\tAFTER")
			var failed int
			for _, path := range args {
				res := p.Process(path)
				if res.Outcome == compress.OutcomeFailed {
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", res.FinalPath, res.Kind, res.Outcome, res.OriginalSize, res.NewSize)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPDF, "no-pdf", false, "skip PDF optimization")
	return cmd
}

func newResolveCmd(configFile *string) *cobra.Command {
	var entity, year, month string
	cmd := &cobra.Command{
		Use:   "resolve FILENAME",
		Short: "Print the stored file a download would serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			backend, err := store.NewLocal(cfg.StoragePath, store.WithLogger(log))
			if err != nil {
				return err
			}
			att, err := backend.Resolve(entity, year, month, args[0])
			if err != nil {
				return err
			}
			defer att.Close() //nolint:errcheck

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%d bytes\n", att.File.Name(), att.Size)
			if att.Normalized {
				fmt.Fprintf(out, "normalized: %s -> %s\n", att.Requested, att.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity name (required)")
	cmd.Flags().StringVar(&year, "year", "", "four-digit year (required)")
	cmd.Flags().StringVar(&month, "month", "", "two-digit month (required)")
	cmd.MarkFlagRequired("entity") //nolint:errcheck
	cmd.MarkFlagRequired("year")   //nolint:errcheck
	cmd.MarkFlagRequired("month")  //nolint:errcheck
	return cmd
}
