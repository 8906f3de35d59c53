package calibration

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Format is an export encoding of the calibration log.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatPNG  Format = "png"
)

// CSVHeader is the first row of a CSV export.
var CSVHeader = []string{"timestamp", "target_x", "target_y", "gaze_x", "gaze_y", "distance"}

// ParseFormat maps a name such as "csv" to a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatCSV, FormatHTML, FormatPNG:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPNG:
		return "image/png"
	default:
		return "application/json"
	}
}

// Export writes entries to w in format f.
func Export(w io.Writer, f Format, entries []Entry) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, entries)
	case FormatCSV:
		return WriteCSV(w, entries)
	case FormatHTML:
		return WriteReport(w, entries)
	case FormatPNG:
		return WritePlot(w, entries)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// WriteJSON writes entries as an indented JSON array. Missing values are null.
func WriteJSON(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// WriteCSV writes entries with CSVHeader. Missing values are empty cells.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			formatFloat(&e.TargetX),
			formatFloat(&e.TargetY),
			formatFloat(e.GazeX),
			formatFloat(e.GazeY),
			formatFloat(e.Distance),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteReport renders an HTML accuracy report: targets against gaze on a
// scatter, and per-point distance as bars.
func WriteReport(w io.Writer, entries []Entry) error {
	targets := make([]opts.ScatterData, 0, len(entries))
	gazes := make([]opts.ScatterData, 0, len(entries))
	labels := make([]string, 0, len(entries))
	distances := make([]opts.BarData, 0, len(entries))

	maxX, maxY := 1.0, 1.0
	for _, e := range entries {
		targets = append(targets, opts.ScatterData{Value: []interface{}{e.TargetX, e.TargetY}})
		maxX, maxY = max(maxX, e.TargetX), max(maxY, e.TargetY)
		labels = append(labels, strconv.Itoa(e.Seq))
		if e.Missing() {
			distances = append(distances, opts.BarData{Value: nil})
			continue
		}
		gazes = append(gazes, opts.ScatterData{Value: []interface{}{*e.GazeX, *e.GazeY}})
		maxX, maxY = max(maxX, *e.GazeX), max(maxY, *e.GazeY)
		distances = append(distances, opts.BarData{Value: *e.Distance})
	}

	summary := Summarize(entries)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Calibration", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Calibration targets vs gaze",
			Subtitle: fmt.Sprintf("points=%d missing=%d mean=%.1fpx", summary.Count, summary.Missing, summary.Mean),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxX, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: maxY, Name: "Y (px)", NameLocation: "middle", NameGap: 30, Inverse: opts.Bool(true)}),
	)
	scatter.AddSeries("target", targets, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	scatter.AddSeries("gaze", gazes, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Distance per point", Subtitle: "missing predictions are left blank"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("distance (px)", distances)

	page := components.NewPage()
	page.PageTitle = "Gaze Calibration"
	page.AddCharts(scatter, bar)
	return page.Render(w)
}

// errorSegments returns one target-to-gaze line per measured entry, in
// plot coordinates.
func errorSegments(entries []Entry) []plotter.XYs {
	var segs []plotter.XYs
	for _, e := range entries {
		if e.Missing() {
			continue
		}
		// Screen y grows downward.
		segs = append(segs, plotter.XYs{
			{X: e.TargetX, Y: -e.TargetY},
			{X: *e.GazeX, Y: -*e.GazeY},
		})
	}
	return segs
}

// WritePlot renders targets, gaze estimates and the error segment between
// each pair as a PNG image.
func WritePlot(w io.Writer, entries []Entry) error {
	p := plot.New()
	p.Title.Text = "Calibration targets vs gaze"
	p.X.Label.Text = "X (px)"
	p.Y.Label.Text = "Y (px)"

	targets := make(plotter.XYs, 0, len(entries))
	gazes := make(plotter.XYs, 0, len(entries))
	for _, e := range entries {
		// Screen y grows downward.
		targets = append(targets, plotter.XY{X: e.TargetX, Y: -e.TargetY})
		if !e.Missing() {
			gazes = append(gazes, plotter.XY{X: *e.GazeX, Y: -*e.GazeY})
		}
	}

	for i, seg := range errorSegments(entries) {
		line, err := plotter.NewLine(seg)
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(1)
		line.LineStyle.Color = color.Gray{Y: 150}
		p.Add(line)
		if i == 0 {
			p.Legend.Add("error", line)
		}
	}
	if len(targets) > 0 {
		ts, err := plotter.NewScatter(targets)
		if err != nil {
			return err
		}
		ts.GlyphStyle.Shape = draw.CrossGlyph{}
		ts.GlyphStyle.Radius = vg.Points(5)
		ts.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		p.Add(ts)
		p.Legend.Add("target", ts)
	}
	if len(gazes) > 0 {
		gs, err := plotter.NewScatter(gazes)
		if err != nil {
			return err
		}
		gs.GlyphStyle.Shape = draw.CircleGlyph{}
		gs.GlyphStyle.Radius = vg.Points(3)
		gs.GlyphStyle.Color = color.RGBA{B: 200, A: 255}
		p.Add(gs)
		p.Legend.Add("gaze", gs)
	}

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
