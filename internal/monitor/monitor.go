package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/internal/datamodel"
	"github.com/basekick-labs/monitorframe/internal/notify"
	"github.com/basekick-labs/monitorframe/internal/plot"
	"github.com/basekick-labs/monitorframe/internal/results"
	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/basekick-labs/monitorframe/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotDefined is returned when a required monitor step is missing
	ErrNotDefined = errors.New("monitor step not defined")

	// ErrInvalidPlotType is returned for plot types other than scatter, line and image
	ErrInvalidPlotType = errors.New("invalid plot type")
)

// Definition is implemented by every monitor. Track computes the monitored quantity.
type Definition interface {
	Track(ctx context.Context, m *Monitor) (interface{}, error)
}

// DataGetter supplies the monitor's data. Without it the data model's new data is used.
type DataGetter interface {
	GetData(ctx context.Context, m *Monitor) (*models.Table, error)
}

// OutlierFinder returns a mask over the data rows marking outliers
type OutlierFinder interface {
	FindOutliers(ctx context.Context, m *Monitor) ([]bool, error)
}

// NotificationBuilder composes the notification text. Required when notifications are active.
type NotificationBuilder interface {
	SetNotification(ctx context.Context, m *Monitor) (string, error)
}

// PlotDefiner sets plot columns and type once the data is loaded
type PlotDefiner interface {
	DefinePlot(m *Monitor) error
}

// Plotter replaces the basic plots
type Plotter interface {
	Plot(ctx context.Context, m *Monitor) error
}

// ResultFormatter converts tracked results into a JSON-friendly form before storage
type ResultFormatter interface {
	FormatResults(ctx context.Context, m *Monitor) (interface{}, error)
}

// ResultStorer replaces the built-in results storage
type ResultStorer interface {
	StoreResults(ctx context.Context, m *Monitor) error
}

// PlotType selects the basic plot
type PlotType string

const (
	PlotNone    PlotType = ""
	PlotScatter PlotType = "scatter"
	PlotLine    PlotType = "line"
	PlotImage   PlotType = "image"
)

func (p PlotType) valid() bool {
	switch p {
	case PlotNone, PlotScatter, PlotLine, PlotImage:
		return true
	}
	return false
}

// NotificationSettings control email notifications
type NotificationSettings struct {
	Active     bool
	Username   string
	Recipients []string
}

// DataModelFactory builds the monitor's data model; fetch reports whether new data is retrieved immediately
type DataModelFactory func(ctx context.Context, fetch bool) (*datamodel.Model, error)

// Options configure a monitor
type Options struct {
	// Name defaults to the definition's type name. The run date is appended.
	Name string

	DataModel   DataModelFactory
	SkipNewData bool

	Notifications *NotificationSettings

	PlotType      PlotType
	Subplots      bool
	SubplotLayout [2]int // rows, columns
	Labels        []string
	X, Y, Z       string

	// Output is the report path or a directory to place it in.
	// When empty the report goes to Deps.Reports if set, otherwise to the working directory.
	Output string
}

// Deps are the services a monitor uses
type Deps struct {
	Results *results.Store
	Reports storage.Backend
	Mailer  *notify.Mailer
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Monitor runs a Definition through the fixed pipeline:
// data, tracking, outliers, notification, plot, report, results, email.
type Monitor struct {
	def  Definition
	opts Options
	deps Deps

	runID        uuid.UUID
	baseName     string
	resultsTable string
	name         string
	filename     string
	date         time.Time

	model *datamodel.Model

	// report destination
	sink      storage.Backend
	sinkDir   string
	reportKey string
	output    string

	data         *models.Table
	results      interface{}
	outliers     []bool
	notification string
	email        *notify.Email
	figure       *plot.Figure

	plotType PlotType
	x, y, z  string

	warnings []string
	logger   zerolog.Logger
}

// New validates the definition and options and builds the data model
func New(ctx context.Context, def Definition, opts Options, deps Deps) (*Monitor, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: Track must be defined in a monitor", ErrNotDefined)
	}
	if opts.DataModel == nil {
		return nil, fmt.Errorf("%w: a data model must be defined in a monitor", ErrNotDefined)
	}
	if opts.Notifications != nil && opts.Notifications.Active {
		if _, ok := def.(NotificationBuilder); !ok {
			return nil, fmt.Errorf("%w: with notifications active, SetNotification must be defined", ErrNotDefined)
		}
	}
	if !opts.PlotType.valid() {
		return nil, fmt.Errorf("%w: %q (valid: scatter, line, image)", ErrInvalidPlotType, opts.PlotType)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Monitor{
		def:          def,
		opts:         opts,
		deps:         deps,
		runID:        uuid.New(),
		baseName:     opts.Name,
		resultsTable: datamodel.TypeName(def),
		date:         deps.Now(),
		plotType:     opts.PlotType,
		x:            opts.X,
		y:            opts.Y,
		z:            opts.Z,
	}
	if m.baseName == "" {
		m.baseName = m.resultsTable
	}

	m.name = m.baseName + ": " + m.date.Format("2006-01-02")
	m.filename = strings.ReplaceAll(strings.Join(strings.Split(m.name, ": "), "_"), " ", "")
	m.logger = deps.Logger.With().
		Str("component", "monitor").
		Str("monitor", m.baseName).
		Str("run_id", m.runID.String()).
		Logger()

	if err := m.resolveOutput(); err != nil {
		return nil, err
	}

	if opts.Subplots {
		fig, err := plot.NewSubplots(opts.SubplotLayout[0], opts.SubplotLayout[1])
		if err != nil {
			return nil, err
		}
		m.figure = fig
	} else {
		m.figure = plot.NewFigure()
	}

	model, err := opts.DataModel(ctx, !opts.SkipNewData)
	if err != nil {
		return nil, fmt.Errorf("failed to build data model for %s: %w", m.baseName, err)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: data model factory for %s returned nil", ErrNotDefined, m.baseName)
	}
	m.model = model

	m.logger.Debug().
		Str("output", m.output).
		Str("model", model.Name()).
		Msg("Monitor initialized")
	return m, nil
}

func (m *Monitor) resolveOutput() error {
	file := m.filename + ".html"

	if m.opts.Output == "" && m.deps.Reports != nil {
		m.sink = m.deps.Reports
		m.reportKey = file
		m.output = m.sink.Location(file)
		return nil
	}

	out := m.opts.Output
	switch {
	case out == "":
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		out = filepath.Join(cwd, file)
	case isDir(out):
		out = filepath.Join(out, file)
	}

	m.output = out
	m.sinkDir = filepath.Dir(out)
	m.reportKey = filepath.Base(out)
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (m *Monitor) String() string { return m.name }

// Name returns the dated monitor name, e.g. "AcqImageMonitor: 2026-10-17"
func (m *Monitor) Name() string { return m.name }

// BaseName returns the undated name, which is also the results table name
func (m *Monitor) BaseName() string { return m.baseName }

// Filename returns the report file name without extension
func (m *Monitor) Filename() string { return m.filename }

// Output returns where the report is written
func (m *Monitor) Output() string { return m.output }

// Date returns the run time
func (m *Monitor) Date() time.Time { return m.date }

// RunID identifies this monitor instance in logs
func (m *Monitor) RunID() uuid.UUID { return m.runID }

// Model returns the data model
func (m *Monitor) Model() *datamodel.Model { return m.model }

// Data returns the monitor data, or nil before InitializeData
func (m *Monitor) Data() *models.Table { return m.data }

// SetData replaces the monitor data
func (m *Monitor) SetData(t *models.Table) { m.data = t }

// Results returns the tracked results
func (m *Monitor) Results() interface{} { return m.results }

// Outliers returns the outlier mask, or nil
func (m *Monitor) Outliers() []bool { return m.outliers }

// Notification returns the notification text
func (m *Monitor) Notification() string { return m.notification }

// Email returns the composed notification email, or nil
func (m *Monitor) Email() *notify.Email { return m.email }

// Figure returns the figure under construction
func (m *Monitor) Figure() *plot.Figure { return m.figure }

// Labels returns the hover label columns
func (m *Monitor) Labels() []string { return m.opts.Labels }

// PlotType returns the basic plot type
func (m *Monitor) PlotType() PlotType { return m.plotType }

// Axes returns the x, y and z plot columns
func (m *Monitor) Axes() (x, y, z string) { return m.x, m.y, m.z }

// SetAxes sets the plot columns; z may be empty
func (m *Monitor) SetAxes(x, y, z string) {
	m.x, m.y, m.z = x, y, z
}

// SetPlotType sets the basic plot type
func (m *Monitor) SetPlotType(p PlotType) error {
	if !p.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlotType, p)
	}
	m.plotType = p
	return nil
}

// Logger returns the monitor's logger
func (m *Monitor) Logger() zerolog.Logger { return m.logger }

// Warnings returns non-fatal problems recorded during the run
func (m *Monitor) Warnings() []string {
	return append([]string(nil), m.warnings...)
}

func (m *Monitor) warn(msg string, err error) {
	m.warnings = append(m.warnings, msg)
	m.logger.Warn().Err(err).Msg(msg)
}

func (m *Monitor) notificationsActive() bool {
	return m.opts.Notifications != nil && m.opts.Notifications.Active
}

// ResultsTable returns the stored results, or nil when none have been stored
func (m *Monitor) ResultsTable(ctx context.Context) ([]results.Record, error) {
	if m.deps.Results == nil {
		return nil, nil
	}
	return m.deps.Results.List(ctx, m.resultsTable)
}

// ResultsTableName is the results table, named after the definition type.
// The display name only titles the report.
func (m *Monitor) ResultsTableName() string { return m.resultsTable }
