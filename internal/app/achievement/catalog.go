// Package achievement implements the badge engine: the catalog of awardable
// badges, the evaluator that checks them against statistics snapshots and
// single events, and the ledger that grants each (user, badge) at most once.
package achievement

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/credo-app/credo/internal/domain"
)

//go:embed catalog.toml
var defaultCatalogTOML []byte

// Special badge ids and the event values their metrics refer to.
const (
	BadgeHighRoller = "high_roller"
	BadgeUnderdog   = "underdog"

	EventMojoWon = "mojo_won"
	EventOdds    = "odds"
)

// Catalog is the immutable set of badge definitions. Safe for concurrent use.
type Catalog struct {
	version    int
	all        []domain.BadgeDef
	byID       map[string]domain.BadgeDef
	byCategory map[domain.BadgeCategory][]domain.BadgeDef
}

type catalogFile struct {
	Version int               `toml:"version"`
	Badges  []domain.BadgeDef `toml:"badge"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog, parsed once per process.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalogTOML)
		if err != nil {
			panic(fmt.Sprintf("embedded badge catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load returns the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %v", domain.ErrValidation, err)
	}
	return New(f.Version, f.Badges)
}

// New validates defs and builds a catalog.
func New(version int, defs []domain.BadgeDef) (*Catalog, error) {
	c := &Catalog{
		version:    version,
		byID:       make(map[string]domain.BadgeDef, len(defs)),
		byCategory: make(map[domain.BadgeCategory][]domain.BadgeDef),
	}
	orders := make(map[domain.BadgeCategory]map[int]string)

	for _, def := range defs {
		if err := validateDef(def); err != nil {
			return nil, err
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate badge id %q", domain.ErrValidation, def.ID)
		}
		if orders[def.Category] == nil {
			orders[def.Category] = make(map[int]string)
		}
		if other, dup := orders[def.Category][def.SortOrder]; dup {
			return nil, fmt.Errorf("%w: badges %q and %q share sort order %d in %s",
				domain.ErrValidation, other, def.ID, def.SortOrder, def.Category)
		}
		orders[def.Category][def.SortOrder] = def.ID

		c.byID[def.ID] = def
		c.byCategory[def.Category] = append(c.byCategory[def.Category], def)
		c.all = append(c.all, def)
	}

	for cat := range c.byCategory {
		list := c.byCategory[cat]
		sort.Slice(list, func(i, j int) bool { return list[i].SortOrder < list[j].SortOrder })
	}
	sort.SliceStable(c.all, func(i, j int) bool {
		if c.all[i].Category != c.all[j].Category {
			return c.all[i].Category < c.all[j].Category
		}
		return c.all[i].SortOrder < c.all[j].SortOrder
	})
	return c, nil
}

func validateDef(def domain.BadgeDef) error {
	if def.ID == "" {
		return fmt.Errorf("%w: badge without id", domain.ErrValidation)
	}
	if !def.Category.Known() {
		return fmt.Errorf("%w: badge %q has unknown category %q", domain.ErrValidation, def.ID, def.Category)
	}

	switch {
	case def.Category.SnapshotDriven():
		if _, ok := (domain.UserStats{}).Counters()[def.Metric]; !ok {
			return fmt.Errorf("%w: badge %q has unknown stat metric %q", domain.ErrValidation, def.ID, def.Metric)
		}
	case def.Category == domain.CatSpecial:
		if def.Metric != EventMojoWon && def.Metric != EventOdds {
			return fmt.Errorf("%w: badge %q has unknown event metric %q", domain.ErrValidation, def.ID, def.Metric)
		}
	default:
		// streak and time badges are decided by the caller
		if def.Metric != "" {
			return fmt.Errorf("%w: %s badge %q cannot declare a metric", domain.ErrValidation, def.Category, def.ID)
		}
		return nil
	}

	if def.Threshold <= 0 {
		return fmt.Errorf("%w: badge %q needs a positive threshold", domain.ErrValidation, def.ID)
	}
	return nil
}

// Version returns the catalog file version.
func (c *Catalog) Version() int { return c.version }

// Lookup returns the badge with the given id.
func (c *Catalog) Lookup(id string) (domain.BadgeDef, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// ByCategory returns a category's badges in sort order.
func (c *Catalog) ByCategory(cat domain.BadgeCategory) []domain.BadgeDef {
	return append([]domain.BadgeDef(nil), c.byCategory[cat]...)
}

// All returns every badge, grouped by category then sort order.
func (c *Catalog) All() []domain.BadgeDef {
	return append([]domain.BadgeDef(nil), c.all...)
}

// Len returns the number of badges.
func (c *Catalog) Len() int { return len(c.all) }
