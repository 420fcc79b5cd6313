// Package locator maps logical dataset requests to array files on the store.
package locator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"climatedata-api/internal/arrays"
	"climatedata-api/internal/config"
	"climatedata-api/internal/models"
	"climatedata-api/internal/store"
	"climatedata-api/pkg/logging"
	"climatedata-api/pkg/metrics"
)

// Request identifies one logical dataset.
type Request struct {
	Generation models.Generation
	Kind       models.Kind
	Variable   string
	Freq       models.Frequency
	// Period is the file suffix of the period, e.g. "_01January".
	Period string
	// Partition selects the regional variant when set.
	Partition string
}

func (r Request) String() string {
	parts := []string{r.Generation.String(), string(r.Kind), r.Variable, string(r.Freq)}
	if r.Period != "" {
		parts = append(parts, strings.TrimPrefix(r.Period, "_"))
	}
	if r.Partition != "" {
		parts = append(parts, r.Partition)
	}
	return strings.Join(parts, ", ")
}

// Resolver yields a store key when the candidate it stands for exists.
type Resolver func(ctx context.Context) (key string, ok bool, err error)

// Exists is the existence probe used by key resolvers.
type Exists func(ctx context.Context, key string) (bool, error)

// Key returns a resolver for one fixed candidate key.
func Key(exists Exists, key string) Resolver {
	return func(ctx context.Context) (string, bool, error) {
		ok, err := exists(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("probe %s: %w", key, err)
		}
		return key, ok, nil
	}
}

// FirstOf runs resolvers in order and returns the first key found.
func FirstOf(ctx context.Context, resolvers ...Resolver) (string, bool, error) {
	for _, r := range resolvers {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		key, ok, err := r(ctx)
		if err != nil {
			return "", false, err
		}
		if ok {
			return key, true, nil
		}
	}
	return "", false, nil
}

// Candidates lists the store keys of req in template order.
func Candidates(cfg config.DatasetsConfig, req Request) []string {
	table := cfg.Templates
	dir := path.Join(req.Generation.String(), string(req.Kind), req.Variable, string(req.Freq))
	if req.Partition != "" {
		table = cfg.PartitionTemplates
		dir = path.Join(req.Generation.String(), models.PartitionsPath, req.Partition, req.Variable, string(req.Freq))
	}

	templates := table.Lookup(req.Generation, req.Kind)
	keys := make([]string, 0, len(templates))
	for _, tpl := range templates {
		keys = append(keys, path.Join(dir, Expand(tpl, map[string]string{
			"var":    req.Variable,
			"freq":   string(req.Freq),
			"period": req.Period,
		})))
	}
	return keys
}

// Expand substitutes {name} placeholders in tpl.
func Expand(tpl string, values map[string]string) string {
	pairs := make([]string, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// Locator opens the array files behind dataset requests.
type Locator struct {
	store    store.Store
	datasets config.DatasetsConfig
	logger   logging.Logger
	metrics  *metrics.Collector
}

// New creates a locator over st.
func New(st store.Store, datasets config.DatasetsConfig, logger logging.Logger, m *metrics.Collector) *Locator {
	return &Locator{store: st, datasets: datasets, logger: logger, metrics: m}
}

// Locate returns the key of the first existing candidate of req.
func (l *Locator) Locate(ctx context.Context, req Request) (string, error) {
	candidates := Candidates(l.datasets, req)
	resolvers := make([]Resolver, len(candidates))
	for i, key := range candidates {
		resolvers[i] = Key(l.store.Exists, key)
	}

	key, ok, err := FirstOf(ctx, resolvers...)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &models.DatasetNotFoundError{Dataset: req.String(), Candidates: candidates}
	}
	return key, nil
}

// Open locates and reads req into a detached dataset. Only the data
// variables of req.Variable are read unless the file names none of them,
// in which case the whole file is read.
func (l *Locator) Open(ctx context.Context, req Request) (*arrays.Dataset, error) {
	timer := l.metrics.NewTimer(l.metrics.DatasetOpenDuration.WithLabelValues(string(req.Kind)))
	defer timer.ObserveDuration()

	key, err := l.Locate(ctx, req)
	if err != nil {
		l.record(req.Generation.String(), string(req.Kind), err)
		return nil, err
	}
	ds, err := l.read(ctx, key, arrays.Selection{Vars: arrays.Family(req.Variable)})
	if err == nil && len(ds.Vars) == 0 {
		l.logger.Debug(ctx, "[DATASET_OPEN] No variable matches, reading whole file", logging.Fields{
			"key":      key,
			"variable": req.Variable,
		})
		ds, err = l.read(ctx, key, arrays.Selection{})
	}
	l.record(req.Generation.String(), string(req.Kind), err)
	return ds, err
}

// OpenOptional is Open for datasets whose absence is an expected outcome:
// a missing file yields (nil, false, nil). Any other failure is returned.
func (l *Locator) OpenOptional(ctx context.Context, req Request) (*arrays.Dataset, bool, error) {
	ds, err := l.Open(ctx, req)
	if errors.Is(err, models.ErrDatasetNotFound) {
		l.logger.Debug(ctx, "[DATASET_MISSING] Optional dataset absent", logging.Fields{
			"dataset": req.String(),
		})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ds, true, nil
}

// OpenPath reads sel from the dataset stored at a fixed key. label names the
// dataset family in metrics and errors.
func (l *Locator) OpenPath(ctx context.Context, label, key string, sel arrays.Selection) (*arrays.Dataset, error) {
	timer := l.metrics.NewTimer(l.metrics.DatasetOpenDuration.WithLabelValues(label))
	defer timer.ObserveDuration()

	ok, err := l.store.Exists(ctx, key)
	if err == nil && !ok {
		err = &models.DatasetNotFoundError{Dataset: label, Candidates: []string{key}}
	}
	if err != nil {
		l.record("", label, err)
		return nil, err
	}
	ds, err := l.read(ctx, key, sel)
	l.record("", label, err)
	return ds, err
}

func (l *Locator) read(ctx context.Context, key string, sel arrays.Selection) (*arrays.Dataset, error) {
	local, release, err := l.store.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &models.DatasetNotFoundError{Dataset: key, Candidates: []string{key}}
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer release()

	ds, err := arrays.ReadSelection(local, sel)
	if err != nil {
		l.logger.Error(ctx, "[DATASET_OPEN_ERROR] Failed to read array file", logging.Fields{
			"key": key,
		}, err)
		return nil, err
	}
	l.logger.Debug(ctx, "[DATASET_OPEN] Array file loaded", logging.Fields{
		"key":       key,
		"variables": len(ds.Vars),
	})
	return ds, nil
}

func (l *Locator) record(generation, kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, models.ErrDatasetNotFound):
		result = "missing"
	case err != nil:
		result = "error"
	}
	l.metrics.RecordDatasetOpen(generation, kind, result)
}
