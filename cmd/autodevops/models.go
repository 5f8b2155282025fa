package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autodevops/internal/config"
)

func newModelsCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the Gemini models available to GOOGLE_API_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.RequireCredentials(true, false); err != nil {
				return configError(err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			inv, err := a.invoker(ctx)
			if err != nil {
				return configError(err)
			}
			models, err := inv.ListModels(ctx)
			if err != nil {
				return &exitError{code: exitFatal, err: err}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tDISPLAY NAME\tACTIONS")
			for _, m := range models {
				marker := ""
				if strings.TrimPrefix(m.Name, "models/") == inv.Model() {
					marker = " *"
				}
				fmt.Fprintf(w, "%s%s\t%s\t%s\n", m.Name, marker, m.DisplayName, strings.Join(m.Actions, ", "))
			}
			return w.Flush()
		},
	}
}
