// Package catalog loads the pattern catalog the controller plays.
//
// A catalog document is a JSON or YAML mapping keyed by pattern name. Key
// order is significant: it defines the pattern index used on activation.
//
//	{
//	  "Chase": {
//	    "duration": 4,
//	    "phases": [
//	      {"phase": 0, "nodes": [{"node": 1, "color": "Red", "secs": 1}, {"node": 2, "color": "Blue", "secs": 2}]},
//	      {"phase": 1, "nodes": [{"node": 1, "color": "Blue", "secs": 1}, {"node": 2, "color": "Red", "secs": 2}]}
//	    ]
//	  }
//	}
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/directory"
)

// Catalog limits.
const (
	MaxPatterns = 32
	MaxPhases   = 32
	MaxActions  = 32
	// MaxNodes is the runner capacity of the engine.
	MaxNodes = directory.MaxNodes
)

var (
	ErrTooManyPatterns = errors.New("too many patterns")
	ErrInvalidPattern  = errors.New("invalid pattern")
)

// Action binds one node to a colour for a whole number of seconds.
type Action struct {
	Node       int // 1-based
	ColourName string
	Colour     codec.Colour
	Secs       int
}

// Phase is one step of a pattern.
type Phase struct {
	Index   int
	Actions []Action // sorted by Node, Node == position+1
}

// Action returns the action for the 1-based node index.
func (p Phase) Action(node int) (Action, bool) {
	if node < 1 || node > len(p.Actions) {
		return Action{}, false
	}
	return p.Actions[node-1], true
}

// Pattern is a named sequence of phases.
type Pattern struct {
	Name     string
	Duration int // informational only
	Phases   []Phase
}

// NodeCount is the number of nodes the pattern drives. It is taken from
// phase 0 and holds for every phase of a loaded pattern.
func (p *Pattern) NodeCount() int {
	if len(p.Phases) == 0 {
		return 0
	}
	return len(p.Phases[0].Actions)
}

// Rejection records a pattern dropped during loading.
type Rejection struct {
	Name string
	Err  error
}

// Catalog is the ordered, read-only list of loaded patterns.
type Catalog struct {
	Patterns []Pattern
	Rejected []Rejection
}

// Empty returns a catalog with no patterns.
func Empty() *Catalog {
	return &Catalog{}
}

// Len returns the number of playable patterns.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Patterns)
}

// Get returns the pattern at index.
func (c *Catalog) Get(index int) (*Pattern, bool) {
	if c == nil || index < 0 || index >= len(c.Patterns) {
		return nil, false
	}
	return &c.Patterns[index], true
}

// Names returns pattern names in index order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		names = append(names, c.Patterns[i].Name)
	}
	return names
}

type actionDoc struct {
	Node  int    `yaml:"node"`
	Color string `yaml:"color"`
	Secs  int    `yaml:"secs"`
}

type phaseDoc struct {
	Phase int         `yaml:"phase"`
	Nodes []actionDoc `yaml:"nodes"`
}

type patternDoc struct {
	Duration int        `yaml:"duration"`
	Phases   []phaseDoc `yaml:"phases"`
}

// Load reads a catalog file. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("pattern catalog not found, starting empty", "path", path)
			return Empty(), nil
		}
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	for _, r := range cat.Rejected {
		slog.Warn("pattern rejected", "pattern", r.Name, "error", r.Err)
	}
	slog.Info("pattern catalog loaded", "path", path, "patterns", cat.Len(), "rejected", len(cat.Rejected))
	return cat, nil
}

// Parse decodes a catalog document. Structurally broken documents are an
// error; individual patterns breaking an invariant are skipped and listed in
// Rejected.
func Parse(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return Empty(), nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("unexpected document structure")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("catalog must be a mapping keyed by pattern name, got %s", kindName(root.Kind))
	}
	if n := len(root.Content) / 2; n > MaxPatterns {
		return nil, fmt.Errorf("%w: %d, maximum %d", ErrTooManyPatterns, n, MaxPatterns)
	}

	cat := &Catalog{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var pd patternDoc
		if err := root.Content[i+1].Decode(&pd); err != nil {
			cat.Rejected = append(cat.Rejected, Rejection{Name: name, Err: err})
			continue
		}
		p, err := buildPattern(name, pd)
		if err != nil {
			cat.Rejected = append(cat.Rejected, Rejection{Name: name, Err: err})
			continue
		}
		cat.Patterns = append(cat.Patterns, p)
	}
	return cat, nil
}

func buildPattern(name string, pd patternDoc) (Pattern, error) {
	if len(pd.Phases) == 0 {
		return Pattern{}, fmt.Errorf("%w: %q has no phases", ErrInvalidPattern, name)
	}
	if len(pd.Phases) > MaxPhases {
		return Pattern{}, fmt.Errorf("%w: %q has %d phases, maximum %d", ErrInvalidPattern, name, len(pd.Phases), MaxPhases)
	}

	phases := make([]Phase, 0, len(pd.Phases))
	seen := make(map[int]bool, len(pd.Phases))
	for _, ph := range pd.Phases {
		if seen[ph.Phase] {
			return Pattern{}, fmt.Errorf("%w: %q repeats phase %d", ErrInvalidPattern, name, ph.Phase)
		}
		seen[ph.Phase] = true
		p, err := buildPhase(name, ph)
		if err != nil {
			return Pattern{}, err
		}
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].Index < phases[j].Index })

	nodes := len(phases[0].Actions)
	if nodes > MaxNodes {
		return Pattern{}, fmt.Errorf("%w: %q drives %d nodes, maximum %d", ErrInvalidPattern, name, nodes, MaxNodes)
	}
	for _, ph := range phases[1:] {
		if len(ph.Actions) != nodes {
			return Pattern{}, fmt.Errorf("%w: %q phase %d drives %d nodes, phase %d drives %d",
				ErrInvalidPattern, name, ph.Index, len(ph.Actions), phases[0].Index, nodes)
		}
	}

	return Pattern{Name: name, Duration: pd.Duration, Phases: phases}, nil
}

// buildPhase checks that the actions cover nodes 1..n exactly once.
func buildPhase(name string, ph phaseDoc) (Phase, error) {
	if len(ph.Nodes) == 0 {
		return Phase{}, fmt.Errorf("%w: %q phase %d has no nodes", ErrInvalidPattern, name, ph.Phase)
	}
	if len(ph.Nodes) > MaxActions {
		return Phase{}, fmt.Errorf("%w: %q phase %d has %d nodes, maximum %d", ErrInvalidPattern, name, ph.Phase, len(ph.Nodes), MaxActions)
	}

	actions := make([]Action, len(ph.Nodes))
	filled := make([]bool, len(ph.Nodes))
	for _, a := range ph.Nodes {
		if a.Node < 1 || a.Node > len(ph.Nodes) {
			return Phase{}, fmt.Errorf("%w: %q phase %d: node %d outside 1..%d", ErrInvalidPattern, name, ph.Phase, a.Node, len(ph.Nodes))
		}
		if filled[a.Node-1] {
			return Phase{}, fmt.Errorf("%w: %q phase %d: node %d listed twice", ErrInvalidPattern, name, ph.Phase, a.Node)
		}
		if a.Secs < 1 {
			return Phase{}, fmt.Errorf("%w: %q phase %d: node %d secs %d must be at least 1", ErrInvalidPattern, name, ph.Phase, a.Node, a.Secs)
		}
		colour, ok := ColourByName(a.Color)
		if !ok {
			slog.Debug("unknown colour, using black", "pattern", name, "phase", ph.Phase, "node", a.Node, "color", a.Color)
		}
		filled[a.Node-1] = true
		actions[a.Node-1] = Action{Node: a.Node, ColourName: a.Color, Colour: colour, Secs: a.Secs}
	}
	return Phase{Index: ph.Phase, Actions: actions}, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
