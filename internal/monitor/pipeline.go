package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/internal/notify"
	"github.com/basekick-labs/monitorframe/internal/results"
	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/basekick-labs/monitorframe/pkg/models"
)

// HoverTextColumn holds the hover labels added to the data when Labels are set
const HoverTextColumn = "hover_text"

// Run executes the full pipeline. Data is initialized only if it has not been already.
func (m *Monitor) Run(ctx context.Context) error {
	start := time.Now()
	metrics.Get().IncMonitorRuns()

	if err := m.run(ctx); err != nil {
		metrics.Get().IncMonitorFailures()
		m.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Monitor run failed")
		return err
	}

	m.logger.Info().
		Str("output", m.output).
		Int("warnings", len(m.warnings)).
		Dur("duration", time.Since(start)).
		Msg("Monitor run completed")
	return nil
}

func (m *Monitor) run(ctx context.Context) error {
	if m.data == nil {
		if err := m.InitializeData(ctx); err != nil {
			return err
		}
	}
	if err := m.RunAnalysis(ctx); err != nil {
		return err
	}
	if err := m.Plot(ctx); err != nil {
		return err
	}
	if err := m.WriteFigure(ctx); err != nil {
		return err
	}
	if err := m.StoreResults(ctx); err != nil {
		return err
	}
	if m.notificationsActive() {
		return m.Notify(ctx)
	}
	return nil
}

// InitializeData loads the data, builds hover labels and defines the plot
func (m *Monitor) InitializeData(ctx context.Context) error {
	data, err := m.getData(ctx)
	if err != nil {
		return fmt.Errorf("failed to get data for %s: %w", m.baseName, err)
	}
	m.data = data

	if err := m.defineHoverLabels(); err != nil {
		return err
	}

	if d, ok := m.def.(PlotDefiner); ok {
		if err := d.DefinePlot(m); err != nil {
			return fmt.Errorf("failed to define plot: %w", err)
		}
	}

	m.logger.Debug().Int("rows", m.data.Len()).Msg("Monitor data initialized")
	return nil
}

func (m *Monitor) getData(ctx context.Context) (*models.Table, error) {
	if g, ok := m.def.(DataGetter); ok {
		return g.GetData(ctx, m)
	}
	if nd := m.model.NewData(); nd != nil {
		return nd, nil
	}
	return nil, fmt.Errorf("%w: no GetData and the data model has no new data", ErrNotDefined)
}

func (m *Monitor) defineHoverLabels() error {
	if len(m.opts.Labels) == 0 || m.data == nil {
		return nil
	}
	text, err := HoverText(m.data, m.opts.Labels)
	if err != nil {
		return err
	}

	values := make([]interface{}, len(text))
	for i, s := range text {
		values[i] = s
	}
	data, err := m.data.WithColumn(HoverTextColumn, values)
	if err != nil {
		return fmt.Errorf("failed to add hover text: %w", err)
	}
	m.data = data
	return nil
}

// HoverText renders one hover label per row: each label left-aligned to the
// widest label, four spaces, then the value right-aligned, joined by <br>.
func HoverText(t *models.Table, labels []string) ([]string, error) {
	labelWidth := 0
	for _, l := range labels {
		if !t.HasColumn(l) {
			return nil, fmt.Errorf("hover label column %q not found", l)
		}
		if len(l) > labelWidth {
			labelWidth = len(l)
		}
	}

	out := make([]string, t.Len())
	values := make([]string, len(labels))
	for row := 0; row < t.Len(); row++ {
		valueWidth := 0
		for i, l := range labels {
			values[i] = fmt.Sprint(t.Value(row, l))
			if len(values[i]) > valueWidth {
				valueWidth = len(values[i])
			}
		}

		lines := make([]string, len(labels))
		for i, l := range labels {
			lines[i] = fmt.Sprintf("%-*s    %*s", labelWidth, l, valueWidth, values[i])
		}
		out[row] = strings.Join(lines, "<br>")
	}
	return out, nil
}

// RunAnalysis tracks results, finds outliers and composes the notification
func (m *Monitor) RunAnalysis(ctx context.Context) error {
	res, err := m.def.Track(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to track %s: %w", m.baseName, err)
	}
	m.results = res

	if f, ok := m.def.(OutlierFinder); ok {
		mask, err := f.FindOutliers(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to find outliers: %w", err)
		}
		if mask != nil && m.data != nil && len(mask) != m.data.Len() {
			return fmt.Errorf("outlier mask has %d entries for %d rows", len(mask), m.data.Len())
		}
		m.outliers = mask
	}

	if b, ok := m.def.(NotificationBuilder); ok {
		text, err := b.SetNotification(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to set notification: %w", err)
		}
		m.notification = text
	} else if m.notificationsActive() {
		return fmt.Errorf("%w: with notifications active, SetNotification must be defined", ErrNotDefined)
	}

	if m.notificationsActive() {
		return m.setMailer()
	}
	return nil
}

func (m *Monitor) setMailer() error {
	settings := m.opts.Notifications
	if settings == nil {
		return fmt.Errorf("%w: no notification settings", ErrNotDefined)
	}
	domain := ""
	if m.deps.Mailer != nil {
		domain = m.deps.Mailer.Domain()
	}

	e, err := notify.NewEmail(settings.Username, domain, m.name, m.notification, settings.Recipients)
	if err != nil {
		return fmt.Errorf("failed to compose notification: %w", err)
	}
	m.email = e
	return nil
}

// Plot builds the figure with the definition's Plotter or the basic plot for the plot type
func (m *Monitor) Plot(ctx context.Context) error {
	if p, ok := m.def.(Plotter); ok {
		return p.Plot(ctx, m)
	}

	var err error
	switch m.plotType {
	case PlotScatter:
		err = m.BasicScatter()
	case PlotLine:
		err = m.BasicLine()
	case PlotImage:
		err = m.BasicImage()
	}
	if err != nil {
		return err
	}

	m.figure.UpdateLayout(m.BasicLayout())
	return nil
}

// WriteFigure renders the figure to an HTML report
func (m *Monitor) WriteFigure(ctx context.Context) error {
	page, err := m.figure.HTML(m.name)
	if err != nil {
		return err
	}

	sink := m.sink
	if sink == nil {
		local, err := storage.NewLocalBackend(m.sinkDir, m.logger)
		if err != nil {
			return fmt.Errorf("failed to open report directory: %w", err)
		}
		defer local.Close()
		sink = local
	}

	if err := sink.Write(ctx, m.reportKey, page); err != nil {
		return fmt.Errorf("failed to write report %s: %w", m.output, err)
	}
	m.logger.Info().Str("output", m.output).Int("bytes", len(page)).Msg("Wrote monitor report")
	return nil
}

// StoreResults persists the results under the monitor's table.
// Results that cannot be serialized are skipped with a warning.
func (m *Monitor) StoreResults(ctx context.Context) error {
	if s, ok := m.def.(ResultStorer); ok {
		return s.StoreResults(ctx, m)
	}

	toStore := m.results
	if f, ok := m.def.(ResultFormatter); ok {
		formatted, err := f.FormatResults(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to format results: %w", err)
		}
		toStore = formatted
	}

	var err error
	if m.deps.Results != nil {
		err = m.deps.Results.Save(ctx, m.resultsTable, m.date, toStore)
	} else {
		_, err = results.Encode(toStore)
	}
	if errors.Is(err, results.ErrUnserializable) {
		metrics.Get().IncResultsSkipped()
		m.warn(fmt.Sprintf("Results could not be serialized for %s and were not stored", m.baseName), err)
		return nil
	}
	return err
}

// Notify sends the composed notification email
func (m *Monitor) Notify(ctx context.Context) error {
	if m.email == nil {
		if err := m.setMailer(); err != nil {
			return err
		}
	}
	if m.deps.Mailer == nil {
		return fmt.Errorf("%w: notifications are active but no mailer is configured", ErrNotDefined)
	}
	return m.deps.Mailer.Send(ctx, m.email)
}
