package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"instaweb/internal/deploy"
	"instaweb/internal/deps"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var descriptorPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and deployment consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			healthy := true

			for _, status := range deps.CheckBinaries(deps.Required(cfg)) {
				switch {
				case status.Available:
					fmt.Fprintf(out, "ok    %s (%s)\n", status.Name, status.Command)
				case status.Optional:
					fmt.Fprintf(out, "warn  %s: %s\n", status.Name, status.Detail)
				default:
					fmt.Fprintf(out, "FAIL  %s: %s\n", status.Name, status.Detail)
					healthy = false
				}
			}

			if _, err := os.Stat(descriptorPath); err == nil {
				desc, err := deploy.ParseFile(descriptorPath)
				if err != nil {
					fmt.Fprintf(out, "FAIL  container descriptor: %v\n", err)
					healthy = false
				} else if problems := desc.Problems(); len(problems) > 0 {
					for _, problem := range problems {
						fmt.Fprintf(out, "FAIL  container descriptor: %s\n", problem)
					}
					healthy = false
				} else {
					fmt.Fprintf(out, "ok    container descriptor (%s, port %d)\n", desc.BaseImage, desc.EnvPort)
				}
			} else {
				fmt.Fprintf(out, "skip  container descriptor: %s not found\n", descriptorPath)
			}

			if !healthy {
				return fmt.Errorf("doctor found problems")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&descriptorPath, "dockerfile", "Dockerfile", "Path to the container descriptor to verify")
	return cmd
}
