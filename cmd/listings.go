package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zuevav/pik-tracker/internal/notify"
	"github.com/zuevav/pik-tracker/internal/store"
)

var listingsFlags struct {
	projects    []int64
	roomsMin    int
	roomsMax    int
	priceMin    int64
	priceMax    int64
	areaMin     float64
	areaMax     float64
	floorMin    int
	floorMax    int
	includeSold bool
	limit       int
	offset      int
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Query stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		f := store.ListingFilter{
			ProjectIDs:  listingsFlags.projects,
			IncludeSold: listingsFlags.includeSold,
			Limit:       listingsFlags.limit,
			Offset:      listingsFlags.offset,
		}
		flags := cmd.Flags()
		if flags.Changed("rooms-min") {
			f.RoomsMin = &listingsFlags.roomsMin
		}
		if flags.Changed("rooms-max") {
			f.RoomsMax = &listingsFlags.roomsMax
		}
		if flags.Changed("price-min") {
			f.PriceMin = &listingsFlags.priceMin
		}
		if flags.Changed("price-max") {
			f.PriceMax = &listingsFlags.priceMax
		}
		if flags.Changed("area-min") {
			f.AreaMin = &listingsFlags.areaMin
		}
		if flags.Changed("area-max") {
			f.AreaMax = &listingsFlags.areaMax
		}
		if flags.Changed("floor-min") {
			f.FloorMin = &listingsFlags.floorMin
		}
		if flags.Changed("floor-max") {
			f.FloorMax = &listingsFlags.floorMax
		}

		page, err := env.Store.QueryListings(cmd.Context(), f)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROOMS\tAREA\tFLOOR\tPRICE\tSTATUS\tCOMPLETION")
		for _, l := range page.Items {
			floor := "?"
			if l.Floor != nil {
				floor = strconv.Itoa(*l.Floor)
				if l.FloorsTotal != nil {
					floor += "/" + strconv.Itoa(*l.FloorsTotal)
				}
			}
			fmt.Fprintf(tw, "%d\t%s\t%.1f\t%s\t%s\t%s\t%s\n",
				l.ExternalID, l.RoomsLabel(), l.Area, floor,
				notify.FormatPrice(l.Price), l.Status, l.CompletionDate)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("showing %d of %d\n", len(page.Items), page.Total)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <listing-id>",
	Short: "Show a listing's price history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		externalID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad listing id %q", args[0])
		}

		env, err := initEnv(cmd.Context(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		l, err := env.Store.GetListing(cmd.Context(), externalID)
		if err != nil {
			return err
		}
		history, err := env.Store.PriceHistory(cmd.Context(), l.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s %.1f м², сейчас %s (%s)\n", l.RoomsLabel(), l.Area, notify.FormatPrice(l.Price), l.Status)
		for _, e := range history {
			fmt.Printf("  %s  %s\n", e.RecordedAt.Format("2006-01-02 15:04"), notify.FormatPrice(e.Price))
		}
		return nil
	},
}

func init() {
	f := listingsCmd.Flags()
	f.Int64SliceVar(&listingsFlags.projects, "project", nil, "restrict to project ids (repeatable)")
	f.IntVar(&listingsFlags.roomsMin, "rooms-min", 0, "minimum rooms (0 = studio)")
	f.IntVar(&listingsFlags.roomsMax, "rooms-max", 0, "maximum rooms (3 = 3 or more)")
	f.Int64Var(&listingsFlags.priceMin, "price-min", 0, "minimum price, ₽")
	f.Int64Var(&listingsFlags.priceMax, "price-max", 0, "maximum price, ₽")
	f.Float64Var(&listingsFlags.areaMin, "area-min", 0, "minimum area, m²")
	f.Float64Var(&listingsFlags.areaMax, "area-max", 0, "maximum area, m²")
	f.IntVar(&listingsFlags.floorMin, "floor-min", 0, "minimum floor")
	f.IntVar(&listingsFlags.floorMax, "floor-max", 0, "maximum floor")
	f.BoolVar(&listingsFlags.includeSold, "include-sold", false, "include sold listings")
	f.IntVar(&listingsFlags.limit, "limit", 50, "page size")
	f.IntVar(&listingsFlags.offset, "offset", 0, "page offset")

	rootCmd.AddCommand(listingsCmd)
	rootCmd.AddCommand(historyCmd)
}
