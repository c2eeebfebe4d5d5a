// Package catalog loads the mitigation catalogue and threat actor table.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mughalz/investordefend/internal/services/shared/effect"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Item is a purchasable mitigation.
type Item struct {
	ID                string
	Name              string
	Description       string
	Cost              decimal.Decimal
	RequiresPlacement bool
	// Target is the only placement target accepted when RequiresPlacement.
	Target  string
	Effects []effect.Effect
}

// ThreatActor drives incident generation in the outcome simulator.
type ThreatActor struct {
	ID          string
	Name        string
	Description string
	// Likelihood is the per-round chance, 0..1, of an attempt.
	Likelihood decimal.Decimal
	MinLoss    decimal.Decimal
	MaxLoss    decimal.Decimal
	// BlockedBy lists mitigations that stop this actor once implemented.
	BlockedBy []string
}

// Catalog is an immutable, validated catalogue.
type Catalog struct {
	items        map[string]Item
	itemOrder    []string
	targets      map[string]string
	targetOrder  []string
	threatActors []ThreatActor
}

type fileEffect struct {
	Kind        string `yaml:"kind"`
	Amount      string `yaml:"amount"`
	ThreatActor string `yaml:"threat_actor"`
	Percent     string `yaml:"percent"`
}

type fileItem struct {
	ID                string       `yaml:"id"`
	Name              string       `yaml:"name"`
	Description       string       `yaml:"description"`
	Cost              string       `yaml:"cost"`
	RequiresPlacement bool         `yaml:"requires_placement"`
	Target            string       `yaml:"target"`
	Effects           []fileEffect `yaml:"effects"`
}

type fileTarget struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type fileThreatActor struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Likelihood  string   `yaml:"likelihood"`
	MinLoss     string   `yaml:"min_loss"`
	MaxLoss     string   `yaml:"max_loss"`
	BlockedBy   []string `yaml:"blocked_by"`
}

type file struct {
	Targets      []fileTarget      `yaml:"targets"`
	Items        []fileItem        `yaml:"items"`
	ThreatActors []fileThreatActor `yaml:"threat_actors"`
}

// Default returns the catalogue compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalogue from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalogue.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw file
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		items:   make(map[string]Item, len(raw.Items)),
		targets: make(map[string]string, len(raw.Targets)),
	}
	for _, t := range raw.Targets {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("target id is required")
		}
		if _, dup := c.targets[id]; dup {
			return nil, fmt.Errorf("duplicate target %q", id)
		}
		c.targets[id] = t.Name
		c.targetOrder = append(c.targetOrder, id)
	}
	for _, fi := range raw.Items {
		item, err := c.parseItem(fi)
		if err != nil {
			return nil, err
		}
		if _, dup := c.items[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item %q", item.ID)
		}
		c.items[item.ID] = item
		c.itemOrder = append(c.itemOrder, item.ID)
	}
	for _, fa := range raw.ThreatActors {
		actor, err := c.parseThreatActor(fa)
		if err != nil {
			return nil, err
		}
		c.threatActors = append(c.threatActors, actor)
	}
	if len(c.items) == 0 {
		return nil, fmt.Errorf("catalog has no items")
	}
	return c, nil
}

func (c *Catalog) parseItem(fi fileItem) (Item, error) {
	item := Item{
		ID:                strings.TrimSpace(fi.ID),
		Name:              fi.Name,
		Description:       fi.Description,
		RequiresPlacement: fi.RequiresPlacement,
		Target:            strings.TrimSpace(fi.Target),
	}
	if item.ID == "" {
		return Item{}, fmt.Errorf("item id is required")
	}
	cost, err := decimal.NewFromString(fi.Cost)
	if err != nil {
		return Item{}, fmt.Errorf("item %s: cost: %w", item.ID, err)
	}
	if cost.IsNegative() {
		return Item{}, fmt.Errorf("item %s: cost must not be negative", item.ID)
	}
	item.Cost = cost
	if item.RequiresPlacement {
		if _, ok := c.targets[item.Target]; !ok {
			return Item{}, fmt.Errorf("item %s: unknown placement target %q", item.ID, item.Target)
		}
	}
	for _, fe := range fi.Effects {
		e, err := parseEffect(fe)
		if err != nil {
			return Item{}, fmt.Errorf("item %s: %w", item.ID, err)
		}
		item.Effects = append(item.Effects, e)
	}
	return item, nil
}

func parseEffect(fe fileEffect) (effect.Effect, error) {
	e := effect.Effect{Kind: effect.Kind(strings.TrimSpace(fe.Kind)), ThreatActor: strings.TrimSpace(fe.ThreatActor)}
	var err error
	if fe.Amount != "" {
		if e.Amount, err = decimal.NewFromString(fe.Amount); err != nil {
			return effect.Effect{}, fmt.Errorf("effect amount: %w", err)
		}
	}
	if fe.Percent != "" {
		if e.Percent, err = decimal.NewFromString(fe.Percent); err != nil {
			return effect.Effect{}, fmt.Errorf("effect percent: %w", err)
		}
	}
	if err := e.Validate(); err != nil {
		return effect.Effect{}, err
	}
	return e, nil
}

func (c *Catalog) parseThreatActor(fa fileThreatActor) (ThreatActor, error) {
	actor := ThreatActor{
		ID:          strings.TrimSpace(fa.ID),
		Name:        fa.Name,
		Description: fa.Description,
		BlockedBy:   fa.BlockedBy,
	}
	if actor.ID == "" {
		return ThreatActor{}, fmt.Errorf("threat actor id is required")
	}
	var err error
	if actor.Likelihood, err = decimal.NewFromString(fa.Likelihood); err != nil {
		return ThreatActor{}, fmt.Errorf("threat actor %s: likelihood: %w", actor.ID, err)
	}
	if actor.Likelihood.IsNegative() || actor.Likelihood.GreaterThan(decimal.NewFromInt(1)) {
		return ThreatActor{}, fmt.Errorf("threat actor %s: likelihood outside 0..1", actor.ID)
	}
	if actor.MinLoss, err = decimal.NewFromString(fa.MinLoss); err != nil {
		return ThreatActor{}, fmt.Errorf("threat actor %s: min loss: %w", actor.ID, err)
	}
	if actor.MaxLoss, err = decimal.NewFromString(fa.MaxLoss); err != nil {
		return ThreatActor{}, fmt.Errorf("threat actor %s: max loss: %w", actor.ID, err)
	}
	if actor.MaxLoss.LessThan(actor.MinLoss) {
		return ThreatActor{}, fmt.Errorf("threat actor %s: max loss below min loss", actor.ID)
	}
	for _, itemID := range actor.BlockedBy {
		if _, ok := c.items[itemID]; !ok {
			return ThreatActor{}, fmt.Errorf("threat actor %s: unknown blocking item %q", actor.ID, itemID)
		}
	}
	return actor, nil
}

// Item returns the catalogue entry for id.
func (c *Catalog) Item(id string) (Item, bool) {
	item, ok := c.items[id]
	return item, ok
}

// Items returns every item in catalogue order.
func (c *Catalog) Items() []Item {
	out := make([]Item, 0, len(c.itemOrder))
	for _, id := range c.itemOrder {
		out = append(out, c.items[id])
	}
	return out
}

// HasTarget reports whether id is a known placement target.
func (c *Catalog) HasTarget(id string) bool {
	_, ok := c.targets[id]
	return ok
}

// Targets returns placement target IDs in catalogue order.
func (c *Catalog) Targets() []string {
	return append([]string(nil), c.targetOrder...)
}

// ThreatActors returns the threat actor table in catalogue order.
func (c *Catalog) ThreatActors() []ThreatActor {
	return append([]ThreatActor(nil), c.threatActors...)
}

// PlacementRequired returns the staged items that must be bound to a
// target, sorted by ID.
func (c *Catalog) PlacementRequired(staged []string) []Item {
	var out []Item
	for _, id := range staged {
		if item, ok := c.items[id]; ok && item.RequiresPlacement {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
