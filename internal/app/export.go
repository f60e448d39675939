package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"trend-oracle/internal/domain"
)

// defaultExportStep spaces the default export window when the relay is off.
const defaultExportStep = time.Hour

// Export renders datapoints as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	step := a.Config.Relay.Interval
	if step <= 0 {
		step = defaultExportStep
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * step)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}

	points, err := a.collect(ctx, from.Unix(), to.Unix())
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no datapoints found for export window")
		return nil
	}

	downsampled := downsample(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting datapoints")

	if opts.CSVPath != "" {
		if err := writeDatapointsCSV(opts.CSVPath, downsampled, rt.decimals); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDatapointsPNG(opts.PNGPath, downsampled, rt.decimals); err != nil {
			return err
		}
	}

	return nil
}

func downsample(points []domain.Datapoint, max int) []domain.Datapoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]domain.Datapoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeDatapointsCSV(path string, points []domain.Datapoint, decimals int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"id", "observed_at", "derived_value", "reference_price", "sample_count", "premium_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, dp := range points {
		record := []string{
			dp.ID.String(),
			time.Unix(dp.ObservedAt, 0).UTC().Format(time.RFC3339),
			formatScaled(dp.DerivedValue, decimals),
			formatScaled(dp.ReferencePrice, decimals),
			strconv.FormatUint(dp.SampleCount, 10),
			premiumPct(dp).StringFixed(3),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeDatapointsPNG(path string, points []domain.Datapoint, decimals int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	derived := make([]float64, len(points))
	reference := make([]float64, len(points))
	premium := make([]float64, len(points))

	for i, dp := range points {
		x[i] = time.Unix(dp.ObservedAt, 0).UTC()
		derived[i] = scaled(dp.DerivedValue, decimals).InexactFloat64()
		reference[i] = scaled(dp.ReferencePrice, decimals).InexactFloat64()
		premium[i] = premiumPct(dp).InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Value",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Premium (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Derived",
				XValues: x,
				YValues: derived,
			},
			chart.TimeSeries{
				Name:    "Reference",
				XValues: x,
				YValues: reference,
			},
			chart.TimeSeries{
				Name:    "Premium %",
				XValues: x,
				YValues: premium,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// premiumPct is the derived value's deviation from the reference price in
// percent, zero when there is no reference.
func premiumPct(dp domain.Datapoint) decimal.Decimal {
	if dp.ReferencePrice == 0 {
		return decimal.Zero
	}
	derived := scaled(dp.DerivedValue, 0)
	reference := scaled(dp.ReferencePrice, 0)
	return derived.Sub(reference).Div(reference).Mul(decimal.NewFromInt(100))
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
