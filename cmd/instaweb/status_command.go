package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"instaweb/internal/config"
	"instaweb/internal/deps"
	"instaweb/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("read queue stats: %w", err)
				}
				if len(stats) == 0 {
					fmt.Fprintln(out, "Queue is empty")
				} else {
					rows := make([][]string, 0, len(stats))
					for _, status := range queue.AllStatuses() {
						if count, ok := stats[status]; ok {
							rows = append(rows, []string{colorizeStatus(status), fmt.Sprintf("%d", count)})
						}
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Status", "Count"},
						rows,
						[]columnAlignment{alignLeft, alignRight},
					))
				}

				statuses := deps.CheckBinaries(deps.Required(cfg))
				sort.SliceStable(statuses, func(i, j int) bool {
					return !statuses[i].Optional && statuses[j].Optional
				})
				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					state := "ok"
					if !status.Available {
						state = status.Detail
					}
					rows = append(rows, []string{status.Name, status.Command, yesNo(!status.Optional), state})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Dependency", "Command", "Required", "State"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))

				fmt.Fprintf(out, "Job database: %s\n", store.Path())
				fmt.Fprintf(out, "Download dir: %s\n", cfg.Paths.DownloadDir)
				return nil
			})
		},
	}
}
