package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/core/series"
	"github.com/tidemark-io/tidemark/internal/core/storage"
	"github.com/tidemark-io/tidemark/internal/ingest"
	"github.com/tidemark-io/tidemark/internal/schema"
)

// Config declares one data set.
type Config struct {
	// Name identifies the data set and its backing collection.
	Name string `yaml:"name" koanf:"name"`

	// DataGroup and DataType classify the set for discovery; together they
	// must be unique across the catalog.
	DataGroup string `yaml:"data_group" koanf:"data_group"`
	DataType  string `yaml:"data_type" koanf:"data_type"`

	// CappedSize caps the collection to the newest N records. Zero means
	// uncapped.
	CappedSize int64 `yaml:"capped_size" koanf:"capped_size"`

	// MaxAgeExpected is how stale the set may grow, in seconds, before it is
	// reported as out of date. Zero disables the check.
	MaxAgeExpected int64 `yaml:"max_age_expected" koanf:"max_age_expected"`

	// AutoIDKeys derive _id for incoming records that do not carry one.
	AutoIDKeys []string `yaml:"auto_id_keys" koanf:"auto_id_keys"`

	// Schema declares the set's fields. Optional.
	Schema *schema.Schema `yaml:"schema" koanf:"-"`

	// Published marks the set as visible on read endpoints.
	Published bool `yaml:"published" koanf:"published"`
}

// Notifier is called after a successful write with the batch's earliest and
// latest timestamps. Zero times mean the batch carried no timestamps.
type Notifier func(ctx context.Context, name string, earliest, latest time.Time)

// DataSet couples a configured data set with its storage engine. Writes run
// the ingest pipeline; reads run the query shaper.
type DataSet struct {
	cfg      Config
	engine   storage.Engine
	pipeline *ingest.Pipeline
	shaper   *series.Shaper
	notify   Notifier
}

// New builds the facade. Engine must not be nil; notify may be.
func New(cfg Config, engine storage.Engine, notify Notifier) *DataSet {
	if engine == nil {
		panic("dataset: engine must not be nil")
	}
	ds := &DataSet{
		cfg:      cfg,
		engine:   engine,
		pipeline: ingest.New(cfg.Schema, cfg.AutoIDKeys),
		notify:   notify,
	}
	ds.shaper = series.NewShaper(func(ctx context.Context, q query.Query) (*storage.Result, error) {
		return engine.ExecuteQuery(ctx, cfg.Name, q)
	})
	return ds
}

// Name returns the data set's identifier.
func (ds *DataSet) Name() string { return ds.cfg.Name }

// Published reports whether the set is visible on read endpoints.
func (ds *DataSet) Published() bool { return ds.cfg.Published }

// CreateIfNotExists provisions the backing collection.
func (ds *DataSet) CreateIfNotExists(ctx context.Context) error {
	exists, err := ds.engine.DataSetExists(ctx, ds.cfg.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return ds.engine.CreateDataSet(ctx, ds.cfg.Name, ds.cfg.CappedSize)
}

// Store validates the batch and persists it record by record. The batch is
// all-or-nothing through validation; persistence is not transactional, so a
// mid-batch storage failure leaves earlier records saved.
func (ds *DataSet) Store(ctx context.Context, batch []record.Record) error {
	prepared, err := ds.pipeline.Prepare(batch)
	if err != nil {
		return err
	}

	for i, rec := range prepared {
		if err := ds.engine.SaveRecord(ctx, ds.cfg.Name, rec); err != nil {
			return fmt.Errorf("record %d of %d: %w", i, len(prepared), err)
		}
	}
	slog.Info("[DataSet] Stored batch", "data_set", ds.cfg.Name, "records", len(prepared))

	if ds.notify != nil {
		earliest, latest := batchBounds(prepared)
		ds.notify(ctx, ds.cfg.Name, earliest, latest)
	}
	return nil
}

// Query executes a read request and shapes the response.
func (ds *DataSet) Query(ctx context.Context, q query.Query) ([]map[string]any, error) {
	return ds.shaper.Respond(ctx, q)
}

// Empty removes all records but keeps the collection.
func (ds *DataSet) Empty(ctx context.Context) error {
	return ds.engine.EmptyDataSet(ctx, ds.cfg.Name)
}

// IsRecentEnough reports whether the set was written to within its expected
// maximum age. Sets without the expectation, and sets never written to, pass.
func (ds *DataSet) IsRecentEnough(ctx context.Context) (bool, error) {
	if ds.cfg.MaxAgeExpected == 0 {
		return true, nil
	}
	last, ok, err := ds.engine.LastUpdated(ctx, ds.cfg.Name)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	age := time.Since(last)
	return age <= time.Duration(ds.cfg.MaxAgeExpected)*time.Second, nil
}

func batchBounds(batch []record.Record) (earliest, latest time.Time) {
	for _, rec := range batch {
		ts, ok := rec.Timestamp()
		if !ok {
			continue
		}
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return earliest, latest
}
