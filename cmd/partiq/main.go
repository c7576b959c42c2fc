package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"

	_ "net/http/pprof"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/thanos-io/objstore/providers/filesystem"
	"gopkg.in/alecthomas/kingpin.v2"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/exchange"
	"columnix/parquet-exchange-engine/executor"
	"columnix/parquet-exchange-engine/physical"
	"columnix/parquet-exchange-engine/schema"
	"columnix/parquet-exchange-engine/window"
)

type Options struct {
	// The path to the directory holding the partitioned dataset.
	DataPath string
	// Number of demo rows to generate when the dataset does not exist yet.
	GenerateRows int64
	// Region filter applied to the demo query.
	Region string
	// Bucket count for hash exchanges.
	Buckets int
	// Worker pool size for partition scans.
	Workers int
	// Print the plan without executing it.
	ExplainOnly bool
	// Address to expose metrics on.
	MetricsAddr string
	Debug       bool
}

func main() {
	app := kingpin.New("partiq", "Run a windowed aggregation over a partitioned parquet dataset.")
	opts := Options{}
	if err := (&opts).BindFlags(app); err != nil {
		log.Fatal(err)
	}

	registry := prometheus.NewRegistry()
	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		log.Println(http.ListenAndServe(opts.MetricsAddr, nil))
	}()

	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	if !opts.Debug {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	table, err := salesTable()
	if err != nil {
		log.Fatal(err)
	}

	if _, statErr := os.Stat(opts.DataPath); os.IsNotExist(statErr) {
		if err := generateDataset(opts, table); err != nil {
			log.Fatal(err)
		}
	}

	bucket, err := filesystem.NewBucket(opts.DataPath)
	if err != nil {
		log.Fatal(err)
	}
	defer bucket.Close()

	ctx := context.Background()
	manifest, err := db.ReadManifest(ctx, bucket, table)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("read manifest", "partitions", len(manifest.Partitions()), "rows", manifest.NumRows())

	cfg := physical.DefaultConfig()
	cfg.Buckets = opts.Buckets
	cfg.Workers = opts.Workers

	query := physical.NewQuery(table).
		Window(window.Spec{
			Name:        "amount_total",
			PartitionBy: []string{"product"},
			Frame:       window.WholePartition(),
			Agg:         window.AggSum,
			Arg:         "amount",
		}).
		Window(window.Spec{
			Name:        "amount_running",
			PartitionBy: []string{"product"},
			OrderBy:     "price",
			Frame:       window.Rows(window.Unbounded, 0),
			Agg:         window.AggSum,
			Arg:         "amount",
		})
	if opts.Region != "" {
		query = query.Where("region", dataset.OpEquals, opts.Region)
	}

	plan, err := query.Build(manifest, cfg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(physical.Explain(plan))
	if opts.ExplainOnly {
		return
	}

	exec := executor.New(bucket,
		executor.WithLogger(logger),
		executor.WithMetrics(exchange.NewMetrics(registry)),
	)
	result, err := exec.Execute(ctx, plan)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("query finished", "rows", result.NumRows())
	fmt.Print(result.String())
}

func salesTable() (*schema.Table, error) {
	return schema.New("sales",
		[]schema.Column{
			{Name: "region", Kind: schema.String},
			{Name: "product", Kind: schema.Int64},
			{Name: "amount", Kind: schema.Int64},
			{Name: "price", Kind: schema.Float64},
		},
		"region",
	)
}

func generateDataset(opts Options, table *schema.Table) error {
	log.Println("generating demo dataset", "rows", opts.GenerateRows)
	regions := []string{"emea", "amer", "apac"}

	writer := db.NewWriter(opts.DataPath, table)
	rng := rand.New(rand.NewSource(42))
	bar := progressbar.Default(opts.GenerateRows)
	for i := int64(0); i < opts.GenerateRows; i++ {
		err := writer.Write(
			regions[rng.Intn(len(regions))],
			int64(rng.Intn(100)),
			int64(rng.Intn(1000)),
			rng.Float64()*100,
		)
		if err != nil {
			return err
		}
		if err := bar.Add(1); err != nil {
			return err
		}
	}
	return writer.Close()
}

func (o *Options) BindFlags(app *kingpin.Application) error {
	app.Flag("data-path", "The path to the directory holding the partitioned dataset.").
		Default("./data").StringVar(&o.DataPath)
	app.Flag("generate-rows", "Number of demo rows to generate when the dataset does not exist.").
		Default("100000").Int64Var(&o.GenerateRows)
	app.Flag("region", "Region filter applied to the demo query.").
		Default("").StringVar(&o.Region)
	app.Flag("buckets", "Bucket count for hash exchanges.").
		Default("4").IntVar(&o.Buckets)
	app.Flag("workers", "Worker pool size for partition scans.").
		Default("4").IntVar(&o.Workers)
	app.Flag("explain", "Print the plan without executing it.").BoolVar(&o.ExplainOnly)
	app.Flag("metrics-addr", "Address to expose metrics on.").
		Default("localhost:8080").StringVar(&o.MetricsAddr)
	app.Flag("debug", "Enable debug logging.").BoolVar(&o.Debug)

	_, err := app.Parse(os.Args[1:])
	return err
}
