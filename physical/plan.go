package physical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/schema"
	"columnix/parquet-exchange-engine/window"
)

// Operator is one node of a physical plan. Plans are linear pipelines: each
// operator reads from exactly one input, with Scan at the bottom.
type Operator interface {
	Name() string
	Input() Operator
	// Requirement is the input partitioning this operator demands.
	Requirement() Requirement
	Explain() string
}

// Scan reads the pruned partitions of a table, evaluates the pushdown
// filters against file statistics and bloom filters, and materializes the
// projected columns.
type Scan struct {
	Table *schema.Table
	// KeyFilters prune whole partitions by their directory key values.
	KeyFilters []dataset.KeyFilter
	// PushFilters are evaluated inside the files during the scan. Filters the
	// scanner reports as unbound are re-applied row by row above it.
	PushFilters []dataset.KeyFilter
	Projection  []string
	// Partitions is the pruned set, bound at plan time.
	Partitions      []db.Partition
	TotalPartitions int
}

func (s *Scan) Name() string             { return "Scan" }
func (s *Scan) Input() Operator          { return nil }
func (s *Scan) Requirement() Requirement { return Requirement{} }

func (s *Scan) Explain() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "table=%s partitions=%d/%d", s.Table.Name(), len(s.Partitions), s.TotalPartitions)
	if len(s.KeyFilters) > 0 {
		fmt.Fprintf(&sb, " prune=[%s]", joinFilters(s.KeyFilters))
	}
	if len(s.PushFilters) > 0 {
		fmt.Fprintf(&sb, " filters=[%s]", joinFilters(s.PushFilters))
	}
	fmt.Fprintf(&sb, " columns=[%s]", strings.Join(s.Projection, ", "))
	return sb.String()
}

// Exchange hashes rows by the requirement keys and routes them into buckets.
// It is the only operator that moves rows between streams, and the only
// stage boundary.
type Exchange struct {
	Source Operator
	Output Requirement
}

func (e *Exchange) Name() string             { return "Exchange" }
func (e *Exchange) Input() Operator          { return e.Source }
func (e *Exchange) Requirement() Requirement { return Requirement{} }
func (e *Exchange) Explain() string          { return e.Output.String() }

// Window computes one group of windowed aggregates that share a partitioning
// and ordering. Its requirement is hash distribution by the shared partition
// keys so that every partition is complete within one bucket.
type Window struct {
	Source Operator
	Specs  []window.Spec
	Demand Requirement
}

func (w *Window) Name() string             { return "Window" }
func (w *Window) Input() Operator          { return w.Source }
func (w *Window) Requirement() Requirement { return w.Demand }

func (w *Window) Explain() string {
	specs := make([]string, 0, len(w.Specs))
	for _, spec := range w.Specs {
		specs = append(specs, spec.Name)
	}
	return fmt.Sprintf("specs=[%s] requires=%s", strings.Join(specs, ", "), w.Demand)
}

func joinFilters(filters []dataset.KeyFilter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ", ")
}

// Plan is a fully bound physical plan: every column reference resolved,
// partitions pruned, and exchanges placed.
type Plan struct {
	Root       Operator
	Table      *schema.Table
	Partitions []db.Partition
	Config     Config
}

// Operators returns the pipeline bottom-up, Scan first.
func (p *Plan) Operators() []Operator {
	var chain []Operator
	for op := p.Root; op != nil; op = op.Input() {
		chain = append(chain, op)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Builder assembles a query over one table. All validation happens in Build,
// before any file is opened.
type Builder struct {
	table      *schema.Table
	filters    []dataset.KeyFilter
	projection []string
	windows    []window.Spec
}

func NewQuery(table *schema.Table) *Builder {
	return &Builder{table: table}
}

func (b *Builder) Where(column string, op dataset.CompareOp, value string) *Builder {
	b.filters = append(b.filters, dataset.KeyFilter{Column: column, Op: op, Value: value})
	return b
}

func (b *Builder) Select(columns ...string) *Builder {
	b.projection = append(b.projection, columns...)
	return b
}

func (b *Builder) Window(spec window.Spec) *Builder {
	b.windows = append(b.windows, spec)
	return b
}

// Build resolves the query against the manifest and returns a bound plan.
// Unknown columns, unparseable filter values and contradictory filter ranges
// are rejected here.
func (b *Builder) Build(manifest *db.Manifest, cfg Config) (*Plan, error) {
	if cfg.Buckets <= 0 {
		return nil, errors.New("config needs at least one bucket")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	keyFilters, pushFilters, err := b.splitFilters()
	if err != nil {
		return nil, err
	}
	partitions, err := dataset.PrunePartitions(manifest, keyFilters)
	if err != nil {
		return nil, err
	}

	projection, err := b.resolveProjection()
	if err != nil {
		return nil, err
	}

	groups, err := b.groupWindows(cfg.Buckets)
	if err != nil {
		return nil, err
	}

	var root Operator = &Scan{
		Table:           b.table,
		KeyFilters:      keyFilters,
		PushFilters:     pushFilters,
		Projection:      projection,
		Partitions:      partitions,
		TotalPartitions: len(manifest.Partitions()),
	}
	for _, group := range placeExchanges(groups) {
		if group.needsExchange {
			root = &Exchange{Source: root, Output: group.exchange}
		}
		root = &Window{Source: root, Specs: group.specs, Demand: group.requirement}
	}

	return &Plan{Root: root, Table: b.table, Partitions: partitions, Config: cfg}, nil
}

// splitFilters separates partition-key filters, which prune directories,
// from the rest, which are pushed into the scan. Both halves are validated
// the same way so malformed filters never reach execution.
func (b *Builder) splitFilters() (keyFilters, pushFilters []dataset.KeyFilter, err error) {
	for _, filter := range b.filters {
		column, ok := b.table.Column(filter.Column)
		if !ok {
			return nil, nil, errors.Errorf("filter references unknown column %s", filter.Column)
		}
		switch column.Kind {
		case schema.Int64:
			if _, perr := strconv.ParseInt(filter.Value, 10, 64); perr != nil {
				return nil, nil, errors.Wrapf(perr, "filter value %q is not an integer", filter.Value)
			}
		case schema.Float64:
			if _, perr := strconv.ParseFloat(filter.Value, 64); perr != nil {
				return nil, nil, errors.Wrapf(perr, "filter value %q is not a number", filter.Value)
			}
		}
		if b.table.IsPartitionKey(filter.Column) {
			keyFilters = append(keyFilters, filter)
		} else {
			pushFilters = append(pushFilters, filter)
		}
	}
	return keyFilters, pushFilters, nil
}

func (b *Builder) resolveProjection() ([]string, error) {
	if len(b.projection) == 0 {
		columns := make([]string, 0, len(b.table.Columns()))
		for _, column := range b.table.Columns() {
			columns = append(columns, column.Name)
		}
		return columns, nil
	}

	seen := make(map[string]struct{})
	projection := make([]string, 0, len(b.projection))
	appendColumn := func(name string) error {
		if _, ok := b.table.Column(name); !ok {
			return errors.Errorf("projection references unknown column %s", name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			projection = append(projection, name)
		}
		return nil
	}
	for _, name := range b.projection {
		if err := appendColumn(name); err != nil {
			return nil, err
		}
	}
	// Window inputs and filter columns ride along even when not selected:
	// downstream operators need them materialized.
	for _, spec := range b.windows {
		inputs := append([]string{}, spec.PartitionBy...)
		if spec.OrderBy != "" {
			inputs = append(inputs, spec.OrderBy)
		}
		inputs = append(inputs, spec.Arg)
		for _, name := range inputs {
			if err := appendColumn(name); err != nil {
				return nil, err
			}
		}
	}
	for _, filter := range b.filters {
		if err := appendColumn(filter.Column); err != nil {
			return nil, err
		}
	}
	return projection, nil
}

// groupWindows clusters specs by sort signature, in first-appearance order,
// and derives each group's partitioning requirement. Specs without partition
// keys demand a single bucket so the whole input is co-located.
func (b *Builder) groupWindows(buckets int) ([]windowGroup, error) {
	var groups []windowGroup
	index := make(map[string]int)
	for _, spec := range b.windows {
		if spec.Name == "" {
			return nil, errors.Errorf("window over %s needs a name", spec.Arg)
		}
		if err := b.checkWindowColumns(spec); err != nil {
			return nil, err
		}
		signature := spec.SortSignature()
		at, ok := index[signature]
		if !ok {
			at = len(groups)
			index[signature] = at
			groups = append(groups, windowGroup{signature: signature})
		}
		groups[at].specs = append(groups[at].specs, spec)
	}
	for i := range groups {
		first := groups[i].specs[0]
		numBuckets := buckets
		if len(first.PartitionBy) == 0 {
			numBuckets = 1
		}
		groups[i].requirement = Requirement{Keys: first.PartitionBy, Buckets: numBuckets}
	}
	return groups, nil
}

// checkWindowColumns rejects specs referencing columns the table does not
// have, so the error surfaces at build time even when the projection defaults
// to all columns.
func (b *Builder) checkWindowColumns(spec window.Spec) error {
	inputs := append([]string{}, spec.PartitionBy...)
	if spec.OrderBy != "" {
		inputs = append(inputs, spec.OrderBy)
	}
	inputs = append(inputs, spec.Arg)
	for _, name := range inputs {
		if _, ok := b.table.Column(name); !ok {
			return errors.Errorf("window %s references unknown column %s", spec.Name, name)
		}
	}
	return nil
}
