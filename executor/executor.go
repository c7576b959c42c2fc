package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"
	"golang.org/x/sync/errgroup"

	"columnix/parquet-exchange-engine/exchange"
	"columnix/parquet-exchange-engine/physical"
	"columnix/parquet-exchange-engine/schema"
	"columnix/parquet-exchange-engine/storage"
	"columnix/parquet-exchange-engine/window"
)

// Executor runs a bound physical plan against an object store bucket. Scans
// run data-parallel across a worker pool; every exchange is a stage barrier
// behind which all routed rows are complete before any bucket is consumed.
type Executor struct {
	bucket      objstore.Bucket
	spillBucket objstore.Bucket
	spillPrefix string
	logger      log.Logger
	metrics     *exchange.Metrics
}

type Option func(*Executor)

func WithLogger(logger log.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(metrics *exchange.Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithSpillBucket directs over-budget operator state to a separate bucket.
// Without it, spill runs land next to the data under the spill prefix.
func WithSpillBucket(bucket objstore.Bucket) Option {
	return func(e *Executor) {
		e.spillBucket = bucket
	}
}

func New(bucket objstore.Bucket, options ...Option) *Executor {
	e := &Executor{
		bucket:      bucket,
		spillBucket: bucket,
		spillPrefix: storage.SpillDir,
		logger:      log.NewNopLogger(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// spillSet tracks every spill store one query creates. Runs are only needed
// while their stage executes, so the whole set is dropped when the query
// returns, whether it succeeded or not.
type spillSet struct {
	stores []*storage.SpillStore
}

func (s *spillSet) add(store *storage.SpillStore) {
	s.stores = append(s.stores, store)
}

// drop uses a fresh context so cleanup still runs when the query context was
// cancelled.
func (s *spillSet) drop(logger log.Logger) {
	for _, store := range s.stores {
		if err := store.Drop(context.Background()); err != nil {
			level.Warn(logger).Log("msg", "failed dropping spill runs", "err", err)
		}
	}
}

// stage is one exchange barrier plus the window operators that consume its
// buckets. Elided window groups ride in the same stage as the exchange that
// satisfies their requirement.
type stage struct {
	exchange *physical.Exchange
	windows  []*physical.Window
}

func parseStages(ops []physical.Operator) ([]stage, error) {
	var stages []stage
	for _, op := range ops {
		switch op := op.(type) {
		case *physical.Exchange:
			stages = append(stages, stage{exchange: op})
		case *physical.Window:
			if len(stages) == 0 {
				return nil, errors.New("window operator has no upstream exchange")
			}
			last := len(stages) - 1
			stages[last].windows = append(stages[last].windows, op)
		default:
			return nil, errors.Errorf("unexpected operator %s", op.Name())
		}
	}
	return stages, nil
}

// Execute runs the plan to completion and returns all result rows. Output is
// deterministic: scan results follow the pruned partition order, staged
// results follow bucket order with groups emitted in sorted key order, so
// re-execution yields byte-identical rows.
func (e *Executor) Execute(ctx context.Context, plan *physical.Plan) (*Result, error) {
	ops := plan.Operators()
	scan, ok := ops[0].(*physical.Scan)
	if !ok {
		return nil, errors.Errorf("plan must start with a scan, got %s", ops[0].Name())
	}
	stages, err := parseStages(ops[1:])
	if err != nil {
		return nil, err
	}

	columns, err := resolveColumns(scan)
	if err != nil {
		return nil, err
	}

	spills := &spillSet{}
	defer spills.drop(e.logger)

	var router *exchange.Router
	if len(stages) > 0 {
		router, err = e.newRouter(stages[0].exchange.Output, columns, plan.Config, 0, spills)
		if err != nil {
			return nil, err
		}
	}

	partitionRows, err := e.runScanStage(ctx, plan, scan, router)
	if err != nil {
		return nil, err
	}

	if router == nil {
		result := &Result{Columns: columns}
		for _, rows := range partitionRows {
			result.Rows = append(result.Rows, rows...)
		}
		return result, nil
	}

	return e.runStages(ctx, plan, stages, router, columns, spills)
}

// runScanStage scans every pruned partition on the worker pool. Each task
// buffers its rows and hands them over only on success, so a retried task
// never double-routes.
func (e *Executor) runScanStage(
	ctx context.Context,
	plan *physical.Plan,
	scan *physical.Scan,
	router *exchange.Router,
) ([][]parquet.Row, error) {
	partitionRows := make([][]parquet.Row, len(scan.Partitions))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.Config.Workers)
	for i, partition := range scan.Partitions {
		i, partition := i, partition
		g.Go(func() error {
			rows, err := e.runTask(ctx, "partition "+partition.Dir, plan.Config.MaxRetries, func(ctx context.Context) ([]parquet.Row, error) {
				return e.scanPartition(ctx, plan, scan, partition)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if router != nil {
				return router.RouteRows(ctx, rows)
			}
			partitionRows[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partitionRows, nil
}

// runStages drains each exchange bucket by bucket, applies the stage's
// window operators, and feeds the next exchange. Bucket row counts observed
// at the barrier revise the bucket count of the next, not yet started,
// exchange when the distribution is skewed.
func (e *Executor) runStages(
	ctx context.Context,
	plan *physical.Plan,
	stages []stage,
	router *exchange.Router,
	columns []schema.Column,
	spills *spillSet,
) (*Result, error) {
	var final []parquet.Row
	for s := range stages {
		router.Flush()

		operators, outputColumns, err := e.stageOperators(plan, stages[s], columns, s, spills)
		if err != nil {
			return nil, err
		}

		var next *exchange.Router
		if s+1 < len(stages) {
			requirement := stages[s+1].exchange.Output
			revised, changed := physical.ReviseBuckets(requirement, router.BucketRows(), plan.Config.SkewThreshold)
			if changed {
				level.Info(e.logger).Log(
					"msg", "revised exchange bucket count after skewed stage",
					"stage", s+1, "buckets", revised.Buckets,
				)
				requirement = revised
			}
			next, err = e.newRouter(requirement, outputColumns, plan.Config, s+1, spills)
			if err != nil {
				return nil, err
			}
		}

		outputs := make([][]parquet.Row, router.NumBuckets())
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(plan.Config.Workers)
		for bucket := 0; bucket < router.NumBuckets(); bucket++ {
			bucket := bucket
			g.Go(func() error {
				// Replaying a bucket is read-only on the router, so bucket
				// tasks retry the same way scan tasks do.
				rows, err := e.runTask(gctx, fmt.Sprintf("stage %d bucket %d", s, bucket), plan.Config.MaxRetries, func(ctx context.Context) ([]parquet.Row, error) {
					rows, err := router.Bucket(ctx, bucket)
					if err != nil {
						return nil, err
					}
					for _, operator := range operators {
						rows, err = operator.Process(ctx, rows)
						if err != nil {
							return nil, err
						}
					}
					return rows, nil
				})
				if err != nil {
					return err
				}
				outputs[bucket] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, rows := range outputs {
			if next != nil {
				if err := next.RouteRows(ctx, rows); err != nil {
					return nil, err
				}
			} else {
				final = append(final, rows...)
			}
		}
		columns = outputColumns
		router = next
	}

	return &Result{Columns: columns, Rows: final}, nil
}

// stageOperators builds the window operators of one stage. Operators chain:
// each one's output columns are the next one's input.
func (e *Executor) stageOperators(
	plan *physical.Plan,
	st stage,
	columns []schema.Column,
	stageIndex int,
	spills *spillSet,
) ([]*window.Operator, []schema.Column, error) {
	operators := make([]*window.Operator, 0, len(st.windows))
	for i, w := range st.windows {
		options := []window.Option{window.WithLogger(e.logger)}
		spill, err := e.newSpillStore(columns, fmt.Sprintf("%s/stage-%d/sort-%d", e.spillPrefix, stageIndex, i), spills)
		if err != nil {
			return nil, nil, err
		}
		options = append(options, window.WithSpill(spill, maxRowsInMemory(plan.Config)))

		operator, err := window.NewOperator(columns, w.Specs, options...)
		if err != nil {
			return nil, nil, err
		}
		operators = append(operators, operator)
		columns = operator.OutputColumns()
	}
	return operators, columns, nil
}

func (e *Executor) newRouter(
	requirement physical.Requirement,
	columns []schema.Column,
	cfg physical.Config,
	stageIndex int,
	spills *spillSet,
) (*exchange.Router, error) {
	keyColumns := make([]int, 0, len(requirement.Keys))
	for _, key := range requirement.Keys {
		index, ok := columnIndex(columns, key)
		if !ok {
			return nil, errors.Errorf("exchange key column %s not present in stage output", key)
		}
		keyColumns = append(keyColumns, index)
	}

	options := []exchange.RouterOption{exchange.WithMetrics(e.metrics)}
	spill, err := e.newSpillStore(columns, fmt.Sprintf("%s/stage-%d/exchange", e.spillPrefix, stageIndex), spills)
	if err != nil {
		return nil, err
	}
	options = append(options, exchange.WithSpill(spill, cfg.MemoryBudgetBytes))

	return exchange.NewRouter(keyColumns, requirement.Buckets, options...)
}

func (e *Executor) newSpillStore(columns []schema.Column, prefix string, spills *spillSet) (*storage.SpillStore, error) {
	table, err := schema.New("spill", columns)
	if err != nil {
		return nil, err
	}
	store := storage.NewSpillStore(e.spillBucket, table.ParquetSchema(), prefix, e.logger)
	spills.add(store)
	return store, nil
}

func resolveColumns(scan *physical.Scan) ([]schema.Column, error) {
	columns := make([]schema.Column, 0, len(scan.Projection))
	for _, name := range scan.Projection {
		column, ok := scan.Table.Column(name)
		if !ok {
			return nil, errors.Errorf("projected column %s not in table %s", name, scan.Table.Name())
		}
		columns = append(columns, column)
	}
	return columns, nil
}

func columnIndex(columns []schema.Column, name string) (int, bool) {
	for i, column := range columns {
		if column.Name == name {
			return i, true
		}
	}
	return 0, false
}

func maxRowsInMemory(cfg physical.Config) int {
	// Rough row cost used to turn the byte budget into a row budget for
	// sorts; routing tracks real byte sizes instead.
	const assumedRowBytes = 64
	rows := int(cfg.MemoryBudgetBytes / assumedRowBytes)
	if rows < 1 {
		rows = 1
	}
	return rows
}
