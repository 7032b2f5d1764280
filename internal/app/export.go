package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"lava-reports/internal/report"
	"lava-reports/internal/storage"
)

const dateLayout = "2006-01-02"

var ulava = decimal.New(1, 6)

// Export renders supply history as CSV and/or PNG, read from a supply report
// file or from the archive.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := a.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := a.loadSupplyPoints(ctx, opts.ReportPath, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no supply points found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting supply points")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) loadSupplyPoints(ctx context.Context, reportPath string, from, to time.Time) ([]storage.SupplyPoint, error) {
	if reportPath != "" {
		rep, err := report.ReadSupply(reportPath)
		if err != nil {
			return nil, err
		}
		_, points, err := storage.FromSupplyReport(rep)
		if err != nil {
			return nil, err
		}
		return windowPoints(points, from, to), nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database not configured; pass --report to export a supply report file")
	}
	defer closeStore()
	return store.ListSupplyBetween(ctx, from, to)
}

// windowPoints keeps points with from <= target date < to, oldest first.
func windowPoints(points []storage.SupplyPoint, from, to time.Time) []storage.SupplyPoint {
	out := make([]storage.SupplyPoint, 0, len(points))
	for _, p := range points {
		if p.TargetDate.Before(from) || !p.TargetDate.Before(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetDate.Before(out[j].TargetDate) })
	return out
}

func downsamplePoints(points []storage.SupplyPoint, max int) []storage.SupplyPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]storage.SupplyPoint, 0, max)
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

func writePointsCSV(path string, points []storage.SupplyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"target_date", "block", "supply_ulava", "supply_diff_ulava", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, p := range points {
		errMsg := ""
		if p.Error != nil {
			errMsg = sanitizeInline(*p.Error)
		}
		record := []string{
			p.TargetDate.Format(dateLayout),
			formatHeight(p.Height),
			formatOptional(p.Supply),
			formatOptional(p.SupplyDiff),
			p.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// writePointsPNG charts supply in LAVA with the daily burn on a secondary
// axis. Points without a supply are left out of the series.
func writePointsPNG(path string, points []storage.SupplyPoint) error {
	x := make([]time.Time, 0, len(points))
	supply := make([]float64, 0, len(points))
	burnX := make([]time.Time, 0, len(points))
	burn := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Supply == nil {
			continue
		}
		x = append(x, p.TargetDate)
		supply = append(supply, p.Supply.Div(ulava).InexactFloat64())
		if p.SupplyDiff != nil {
			burnX = append(burnX, p.TargetDate)
			burn = append(burn, p.SupplyDiff.Div(ulava).InexactFloat64())
		}
	}
	if len(x) < 2 {
		return errors.New("at least two points with a supply are needed to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	series := []chart.Series{
		chart.TimeSeries{Name: "Supply (LAVA)", XValues: x, YValues: supply},
	}
	if len(burnX) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Daily burn (LAVA)",
			XValues: burnX,
			YValues: burn,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Supply (LAVA)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Burn (LAVA)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatHeight(h int64) string {
	if h == 0 {
		return ""
	}
	return strconv.FormatInt(h, 10)
}
