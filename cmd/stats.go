package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zuevav/pik-tracker/internal/ingest"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tracker statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		lastCheck, err := env.Store.GetSetting(cmd.Context(), ingest.LastCheckKey)
		if err != nil {
			return err
		}

		fmt.Printf("projects:             %d (%d tracked)\n", stats.Projects, stats.TrackedProjects)
		fmt.Printf("active listings:      %d\n", stats.ActiveListings)
		fmt.Printf("active filters:       %d\n", stats.ActiveSubscriptions)
		fmt.Printf("price changes today:  %d\n", stats.PriceChangesToday)
		fmt.Printf("new listings today:   %d\n", stats.NewListingsToday)
		if lastCheck != "" {
			fmt.Printf("last check:           %s\n", lastCheck)
		}
		return nil
	},
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Show recent ingestion cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		cycles, err := env.Store.ListCycles(cmd.Context(), 20)
		if err != nil {
			return err
		}
		for _, c := range cycles {
			fmt.Printf("%s  fetched=%d new=%d updated=%d errors=%d (%s)\n",
				c.StartedAt.Format("2006-01-02 15:04:05"),
				c.Fetched, c.New, c.Updated, len(c.Errors),
				c.CompletedAt.Sub(c.StartedAt).Round(time.Millisecond))
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Println("schema up to date")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		shown.Email.SMTP.Password = "***"
		out, err := yaml.Marshal(shown)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, cyclesCmd, migrateCmd, configCmd)
}
