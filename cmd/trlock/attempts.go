package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/config"
)

func newAttemptsCmd(f *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recent locks, unlocks and failed unlock attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if cfg.AuditDB == "" {
				return errors.New("the journal is disabled, set audit_db in the configuration")
			}

			journal, err := audit.Open(cfg.AuditDB)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := journal.Recent(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Time.Local().Format(time.DateTime), e.Kind, e.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")

	return cmd
}
