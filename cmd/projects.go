package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zuevav/pik-tracker/internal/notify"
)

var projectsTrackedOnly bool

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the project catalog",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		projects, err := env.Store.ListProjects(cmd.Context(), projectsTrackedOnly)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTRACKED\tFLATS\tFROM\tNAME")
		for _, p := range projects {
			tracked := ""
			if p.Tracked {
				tracked = "✓"
			}
			priceMin := ""
			if p.PriceMin > 0 {
				priceMin = notify.FormatPrice(p.PriceMin)
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", p.ExternalID, tracked, p.FlatsCount, priceMin, p.Name)
		}
		return tw.Flush()
	},
}

var projectsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the project catalog from the source",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Runner.SyncProjects(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("synced %d projects\n", n)
		return nil
	},
}

var projectsTrackCmd = &cobra.Command{
	Use:   "track <id>...",
	Short: "Start polling the given projects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setTracked(cmd, args, true) },
}

var projectsUntrackCmd = &cobra.Command{
	Use:   "untrack <id>...",
	Short: "Stop polling the given projects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setTracked(cmd, args, false) },
}

func setTracked(cmd *cobra.Command, args []string, tracked bool) error {
	env, err := initEnv(cmd.Context(), "", true)
	if err != nil {
		return err
	}
	defer env.Close()

	for _, raw := range args {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("bad project id %q", raw)
		}
		if err := env.Store.SetProjectTracked(cmd.Context(), id, tracked); err != nil {
			return err
		}
		fmt.Printf("project %d tracked=%v\n", id, tracked)
	}
	return nil
}

func init() {
	projectsListCmd.Flags().BoolVar(&projectsTrackedOnly, "tracked", false, "only tracked projects")
	projectsCmd.AddCommand(projectsListCmd, projectsSyncCmd, projectsTrackCmd, projectsUntrackCmd)
	rootCmd.AddCommand(projectsCmd)
}
