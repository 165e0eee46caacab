package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/credo-app/credo/internal/app/achievement"
	"github.com/credo-app/credo/internal/daemon"
	"github.com/credo-app/credo/internal/domain"
)

func init() {
	badgesCmd.Flags().StringVar(&badgesCategory, "category", "", "Only show one category")
	rootCmd.AddCommand(badgesCmd)
}

var badgesCategory string

var badgesCmd = &cobra.Command{
	Use:   "badges [USER]",
	Short: "List the badge catalog, or a user's earned badges",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBadges,
}

func runBadges(cmd *cobra.Command, args []string) error {
	// The catalog alone needs no database.
	if len(args) == 0 {
		catalog, err := achievement.Load(catalogPath())
		if err != nil {
			return err
		}
		return printCatalog(catalog, nil)
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	awards, err := d.Ledger.Awards(context.Background(), args[0])
	if err != nil {
		return err
	}
	earned := make(map[string]domain.BadgeAward, len(awards))
	for _, a := range awards {
		earned[a.BadgeID] = a
	}
	if err := printCatalog(d.Catalog, earned); err != nil {
		return err
	}
	fmt.Printf("\n%d/%d earned\n", len(awards), d.Catalog.Len())
	return nil
}

func printCatalog(c *achievement.Catalog, earned map[string]domain.BadgeAward) error {
	defs := c.All()
	if badgesCategory != "" {
		cat := domain.BadgeCategory(badgesCategory)
		if !cat.Known() {
			return fmt.Errorf("unknown category %q", badgesCategory)
		}
		defs = c.ByCategory(cat)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if earned == nil {
		fmt.Fprintln(w, "ID\tCATEGORY\tNAME\tDESCRIPTION")
		for _, b := range defs {
			fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", b.ID, b.Category, b.Icon, b.Name, b.Description)
		}
		return w.Flush()
	}

	fmt.Fprintln(w, "ID\tCATEGORY\tNAME\tEARNED")
	for _, b := range defs {
		at := "-"
		if a, ok := earned[b.ID]; ok {
			at = a.EarnedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", b.ID, b.Category, b.Icon, b.Name, at)
	}
	return w.Flush()
}

func catalogPath() string {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return ""
	}
	return cfg.Catalog.Path
}
