package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/datamodel"
	"github.com/basekick-labs/monitorframe/internal/monitor"
	"github.com/basekick-labs/monitorframe/internal/notify"
	"github.com/basekick-labs/monitorframe/internal/results"
	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownMonitor is returned for monitor names that are not registered
	ErrUnknownMonitor = errors.New("unknown monitor")

	// ErrUnknownModel is returned for data model names that are not registered
	ErrUnknownModel = errors.New("unknown data model")
)

// PrimaryKey identifies acquisitions in every acq table
const PrimaryKey = colRootname

// Env carries the services the monitoring application runs with
type Env struct {
	Data    *database.Store
	Results *results.Store
	Reports storage.Backend
	Mailer  *notify.Mailer

	// Notifications returns the settings for a monitor, or nil to disable them
	Notifications func(monitor string) (*monitor.NotificationSettings, error)

	Source      Source
	SkipNewData bool
	Output      string

	Logger zerolog.Logger
	Now    func() time.Time
}

type modelEntry struct {
	name string
	new  func(Source) datamodel.Retriever
}

var dataModels = []modelEntry{
	{"AcqImageModel", func(s Source) datamodel.Retriever { return AcqImageModel{s} }},
	{"AcqPeakdModel", func(s Source) datamodel.Retriever { return AcqPeakdModel{s} }},
	{"AcqPeakxdModel", func(s Source) datamodel.Retriever { return AcqPeakxdModel{s} }},
}

type monitorEntry struct {
	key   string
	model string
	def   func() monitor.Definition
	opts  monitor.Options
}

var monitors = []monitorEntry{
	{
		key:   "AcqImageMonitor",
		model: "AcqImageModel",
		def:   func() monitor.Definition { return AcqImageMonitor{} },
		opts:  monitor.Options{Name: "AcqImage Monitor", PlotType: monitor.PlotScatter, Labels: acqLabels},
	},
	{
		key:   "AcqImageSlewMonitor",
		model: "AcqImageModel",
		def:   func() monitor.Definition { return AcqImageSlewMonitor{} },
		opts: monitor.Options{
			Name:          "AcqImage Slew Monitor",
			PlotType:      monitor.PlotScatter,
			Subplots:      true,
			SubplotLayout: [2]int{2, 1},
			Labels:        acqLabels,
		},
	},
	{
		key:   "AcqPeakdMonitor",
		model: "AcqPeakdModel",
		def:   func() monitor.Definition { return NewAcqPeakdMonitor() },
		opts:  monitor.Options{Name: "AcqPeakd Monitor", PlotType: monitor.PlotLine, Labels: acqLabels},
	},
	{
		key:   "AcqPeakxdMonitor",
		model: "AcqPeakxdModel",
		def:   func() monitor.Definition { return NewAcqPeakxdMonitor() },
		opts:  monitor.Options{Name: "AcqPeakxd Monitor", PlotType: monitor.PlotLine, Labels: acqLabels},
	},
}

// Monitors lists the registered monitors
func Monitors() []string {
	out := make([]string, len(monitors))
	for i, e := range monitors {
		out[i] = e.key
	}
	return out
}

// Models lists the registered data models
func Models() []string {
	out := make([]string, len(dataModels))
	for i, e := range dataModels {
		out[i] = e.name
	}
	return out
}

func findMonitor(name string) (monitorEntry, error) {
	for _, e := range monitors {
		if e.key == name {
			return e, nil
		}
	}
	return monitorEntry{}, fmt.Errorf("%w: %s", ErrUnknownMonitor, name)
}

func findModel(name string) (modelEntry, error) {
	for _, e := range dataModels {
		if e.name == name {
			return e, nil
		}
	}
	return modelEntry{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// ModelFactory returns a factory for the named data model keyed on ROOTNAME
func ModelFactory(name string, env Env) (monitor.DataModelFactory, error) {
	entry, err := findModel(name)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, fetch bool) (*datamodel.Model, error) {
		return datamodel.New(ctx, entry.new(env.Source), env.Data, datamodel.Options{
			Name:       entry.name,
			PrimaryKey: PrimaryKey,
			SkipFetch:  !fetch,
		}, env.Logger)
	}, nil
}

// Build creates the named monitor
func Build(ctx context.Context, name string, env Env) (*monitor.Monitor, error) {
	entry, err := findMonitor(name)
	if err != nil {
		return nil, err
	}
	factory, err := ModelFactory(entry.model, env)
	if err != nil {
		return nil, err
	}

	def := entry.def()
	opts := entry.opts
	opts.DataModel = factory
	opts.SkipNewData = env.SkipNewData
	opts.Output = env.Output

	if _, ok := def.(monitor.NotificationBuilder); ok && env.Notifications != nil {
		settings, err := env.Notifications(entry.key)
		if err != nil {
			return nil, err
		}
		opts.Notifications = settings
	}

	return monitor.New(ctx, def, opts, monitor.Deps{
		Results: env.Results,
		Reports: env.Reports,
		Mailer:  env.Mailer,
		Logger:  env.Logger,
		Now:     env.Now,
	})
}

// Run builds and runs the named monitor
func Run(ctx context.Context, name string, env Env) error {
	m, err := Build(ctx, name, env)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// Ingest scans the files of the named data model and stores acquisitions not yet in its table.
// Returns the number of rows ingested.
func Ingest(ctx context.Context, name string, env Env) (int, error) {
	factory, err := ModelFactory(name, env)
	if err != nil {
		return 0, err
	}
	model, err := factory(ctx, true)
	if err != nil {
		return 0, err
	}

	if err := filterStored(ctx, model); err != nil {
		return 0, err
	}

	// the store counts ingested batches and rows
	n := model.NewData().Len()
	if err := model.Ingest(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// filterStored drops rows whose primary key is already in the model's table
func filterStored(ctx context.Context, model *datamodel.Model) error {
	data := model.NewData()
	if model.Handle() == nil || data.Empty() {
		return nil
	}

	stored, err := model.QueryToTable(ctx, database.Query{Columns: []string{PrimaryKey}}, []string{}, nil)
	if err != nil {
		return fmt.Errorf("failed to read stored keys for %s: %w", model.Name(), err)
	}
	keys, _ := stored.Column(PrimaryKey)
	seen := make(map[interface{}]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}

	candidates, ok := data.Column(PrimaryKey)
	if !ok {
		return fmt.Errorf("%w: %s has no %s column", database.ErrPrimaryKeyNotFound, model.Name(), PrimaryKey)
	}
	mask := make([]bool, len(candidates))
	for i, k := range candidates {
		_, dup := seen[k]
		mask[i] = !dup
	}

	fresh, err := data.Filter(mask)
	if err != nil {
		return err
	}
	model.SetNewData(fresh)
	return nil
}
