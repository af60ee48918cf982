package main

import (
	"context"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"projects"},
		Short:   "List projects stored in the database",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, _, store, cleanup, err := openStore(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			projects, err := store.ListProjects(ctx)
			if err != nil {
				return err
			}
			renderProjects(cmd.OutOrStdout(), projects, time.Now())
			return nil
		},
	}
}

func renderProjects(out io.Writer, projects []docstore.ProjectSummary, now time.Time) {
	writer := table.NewWriter()
	writer.SetOutputMirror(out)
	writer.SetStyle(table.StyleLight)
	writer.AppendHeader(table.Row{"Project", "Rows", "Settings", "Updated"})
	for _, project := range projects {
		seeded := "no"
		if project.Seeded {
			seeded = "yes"
		}
		updated := "never"
		if !project.UpdatedAt.IsZero() {
			updated = humanize.RelTime(project.UpdatedAt, now, "ago", "from now")
		}
		writer.AppendRow(table.Row{project.ProjectID, humanize.Comma(int64(project.RowCount)), seeded, updated})
	}
	writer.AppendFooter(table.Row{"", humanize.Comma(int64(len(projects))) + " projects", "", ""})
	writer.Render()
}
