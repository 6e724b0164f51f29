package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/geftools/internal/genemap"
)

func newGenesCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "genes",
		Short: "Maintain the gene symbol to gene id table",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Gene map database (default from config)")

	openDB := func() (*genemap.Store, error) {
		p := dbPath
		if p == "" {
			p = cfg.GeneMap.SQLitePath
		}
		return genemap.Open(p, cfg.GeneMap.CacheSize)
	}

	var gtf, prefix string
	update := &cobra.Command{
		Use:   "update --gtf FILE",
		Short: "Replace the table with the genes of a GTF annotation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prefix == "" {
				prefix = cfg.GeneMap.Prefix
			}
			gm, err := openDB()
			if err != nil {
				return err
			}
			defer gm.Close()

			n, err := gm.ImportGTF(cmd.Context(), gtf, prefix)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"gtf": gtf, "genes": n}).Info("Gene map updated")
			return nil
		},
	}
	update.Flags().StringVar(&gtf, "gtf", "", "GTF annotation (optionally gzip compressed)")
	update.Flags().StringVar(&prefix, "prefix", "", "Only keep gene ids with this prefix")
	update.MarkFlagRequired("gtf")

	query := &cobra.Command{
		Use:   "query SYMBOL...",
		Short: "Print the gene id of each symbol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gm, err := openDB()
			if err != nil {
				return err
			}
			defer gm.Close()

			out := cmd.OutOrStdout()
			for _, symbol := range args {
				id, ok, err := gm.Query(cmd.Context(), symbol)
				if err != nil {
					return err
				}
				if !ok {
					id = "-"
				}
				fmt.Fprintf(out, "%s\t%s\n", symbol, id)
			}
			return nil
		},
	}

	cmd.AddCommand(update, query)
	return cmd
}
