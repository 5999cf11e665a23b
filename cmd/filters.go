package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zuevav/pik-tracker/internal/model"
	"github.com/zuevav/pik-tracker/internal/notify"
)

var filterFlags struct {
	projects []int64
	roomsMin int
	roomsMax int
	priceMin int64
	priceMax int64
	areaMin  float64
	areaMax  float64
	floorMin int
	floorMax int
	email    string
}

var filtersCmd = &cobra.Command{
	Use:     "filters",
	Aliases: []string{"subscriptions"},
	Short:   "Manage saved search filters",
}

var filtersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		subs, err := env.Store.ListSubscriptions(cmd.Context(), false)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tACTIVE\tNAME\tCRITERIA\tEMAIL")
		for _, s := range subs {
			active := ""
			if s.Active {
				active = "✓"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, active, s.Name, describeCriteria(s), s.NotifyEmail)
		}
		return tw.Flush()
	},
}

func describeCriteria(s model.Subscription) string {
	var parts []string
	if len(s.ProjectIDs) > 0 {
		ids := make([]string, len(s.ProjectIDs))
		for i, id := range s.ProjectIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		parts = append(parts, "projects "+strings.Join(ids, ","))
	}
	if s.RoomsMin != nil || s.RoomsMax != nil {
		parts = append(parts, "rooms "+boundInt(s.RoomsMin)+".."+boundInt(s.RoomsMax))
	}
	if s.PriceMin != nil || s.PriceMax != nil {
		lo, hi := "", ""
		if s.PriceMin != nil {
			lo = notify.FormatPrice(*s.PriceMin)
		}
		if s.PriceMax != nil {
			hi = notify.FormatPrice(*s.PriceMax)
		}
		parts = append(parts, "price "+lo+".."+hi)
	}
	if s.AreaMin != nil || s.AreaMax != nil {
		lo, hi := "", ""
		if s.AreaMin != nil {
			lo = strconv.FormatFloat(*s.AreaMin, 'f', -1, 64)
		}
		if s.AreaMax != nil {
			hi = strconv.FormatFloat(*s.AreaMax, 'f', -1, 64)
		}
		parts = append(parts, "area "+lo+".."+hi)
	}
	if s.FloorMin != nil || s.FloorMax != nil {
		parts = append(parts, "floor "+boundInt(s.FloorMin)+".."+boundInt(s.FloorMax))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, "; ")
}

func boundInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

var filtersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a saved filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		sub := model.Subscription{
			Name:        args[0],
			ProjectIDs:  filterFlags.projects,
			Active:      true,
			NotifyEmail: filterFlags.email,
		}
		flags := cmd.Flags()
		if flags.Changed("rooms-min") {
			sub.RoomsMin = &filterFlags.roomsMin
		}
		if flags.Changed("rooms-max") {
			sub.RoomsMax = &filterFlags.roomsMax
		}
		if flags.Changed("price-min") {
			sub.PriceMin = &filterFlags.priceMin
		}
		if flags.Changed("price-max") {
			sub.PriceMax = &filterFlags.priceMax
		}
		if flags.Changed("area-min") {
			sub.AreaMin = &filterFlags.areaMin
		}
		if flags.Changed("area-max") {
			sub.AreaMax = &filterFlags.areaMax
		}
		if flags.Changed("floor-min") {
			sub.FloorMin = &filterFlags.floorMin
		}
		if flags.Changed("floor-max") {
			sub.FloorMax = &filterFlags.floorMax
		}

		saved, err := env.Store.SaveSubscription(cmd.Context(), sub)
		if err != nil {
			return err
		}
		fmt.Printf("filter %d created: %s\n", saved.ID, describeCriteria(*saved))
		return nil
	},
}

var filtersRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a saved filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad filter id %q", args[0])
		}

		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.DeleteSubscription(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("filter %d removed\n", id)
		return nil
	},
}

var filtersToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a filter's active flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad filter id %q", args[0])
		}

		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Store.GetSubscription(cmd.Context(), id)
		if err != nil {
			return err
		}
		sub.Active = !sub.Active
		if _, err := env.Store.SaveSubscription(cmd.Context(), *sub); err != nil {
			return err
		}
		fmt.Printf("filter %d active=%v\n", id, sub.Active)
		return nil
	},
}

func init() {
	f := filtersAddCmd.Flags()
	f.Int64SliceVar(&filterFlags.projects, "project", nil, "restrict to project ids (repeatable)")
	f.IntVar(&filterFlags.roomsMin, "rooms-min", 0, "minimum rooms (0 = studio)")
	f.IntVar(&filterFlags.roomsMax, "rooms-max", 0, "maximum rooms (3 = 3 or more)")
	f.Int64Var(&filterFlags.priceMin, "price-min", 0, "minimum price, ₽")
	f.Int64Var(&filterFlags.priceMax, "price-max", 0, "maximum price, ₽")
	f.Float64Var(&filterFlags.areaMin, "area-min", 0, "minimum area, m²")
	f.Float64Var(&filterFlags.areaMax, "area-max", 0, "maximum area, m²")
	f.IntVar(&filterFlags.floorMin, "floor-min", 0, "minimum floor")
	f.IntVar(&filterFlags.floorMax, "floor-max", 0, "maximum floor")
	f.StringVar(&filterFlags.email, "email", "", "notification recipient")

	filtersCmd.AddCommand(filtersListCmd, filtersAddCmd, filtersRemoveCmd, filtersToggleCmd)
	rootCmd.AddCommand(filtersCmd)
}
