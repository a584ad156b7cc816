package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/client"
)

var (
	kostsLocation string
	kostsMaxPrice int64
	kostsLimit    int
)

var kostsCmd = &cobra.Command{
	Use:   "kosts",
	Short: "Browse the kost catalog",
	Example: `  cozykost kosts
  cozykost kosts --location Bandung --max-price 1500000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		kosts, err := a.client.Kosts(cmd.Context(), client.KostQuery{
			Location: kostsLocation,
			MaxPrice: kostsMaxPrice,
			Limit:    kostsLimit,
		})
		if err != nil {
			return err
		}
		if len(kosts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No kosts found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLOCATION\tPRICE")
		for _, k := range kosts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Location, formatPrice(k.Price))
		}
		return w.Flush()
	},
}

var viewCmd = &cobra.Command{
	Use:   "view <kost-id>",
	Short: "Show a listing and record it in your viewing history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.user(); err != nil {
			return err
		}

		kost, err := a.client.Kost(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := a.client.MarkViewed(cmd.Context(), kost.ID); err != nil {
			return fmt.Errorf("failed to record view: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n%s\n%s / month\n", kost.Name, kost.Location, formatPrice(kost.Price))
		if kost.Description != "" {
			fmt.Fprintf(out, "\n%s\n", kost.Description)
		}
		return nil
	},
}

func formatPrice(price int64) string {
	s := fmt.Sprintf("%d", price)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	return "Rp " + string(out)
}

func printItems(w io.Writer, items cozykost.Items) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCATION\tPRICE\tADDED")
	for _, item := range items.Ordered() {
		added := "-"
		if item.Timestamp > 0 {
			added = time.UnixMilli(item.Timestamp).Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Name, item.Location, formatPrice(item.Price), added)
	}
	return tw.Flush()
}

func init() {
	kostsCmd.Flags().StringVar(&kostsLocation, "location", "", "filter by location")
	kostsCmd.Flags().Int64Var(&kostsMaxPrice, "max-price", 0, "maximum monthly price")
	kostsCmd.Flags().IntVar(&kostsLimit, "limit", 20, "number of listings")
}
