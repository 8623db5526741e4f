package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	chartBar       = "bar"
	chartLine      = "line"
	chartScatter   = "scatter"
	chartHistogram = "histogram"
	chartPie       = "pie"
	chartHeatmap   = "heatmap"

	formatHTML = "html"
	formatJSON = "json"

	defaultBins = 10
)

// Visualize renders rows as an ECharts chart, either a standalone HTML page
// or the chart option object.
type Visualize struct{}

func NewVisualize() *Visualize {
	return &Visualize{}
}

func (v *Visualize) Name() string {
	return "visualize"
}

func (v *Visualize) Description() string {
	return "Chart rows as bar, line, scatter, histogram, pie or correlation heatmap; returns an HTML page or the ECharts option JSON."
}

func (v *Visualize) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rows":          map[string]any{"type": "array", "description": "list of objects, usually a reference such as $(.step_1.rows)"},
			"chart_type":    map[string]any{"type": "string", "enum": []string{chartBar, chartLine, chartScatter, chartHistogram, chartPie, chartHeatmap}},
			"x":             map[string]any{"type": "string", "description": "category or x column; names for pie, values for histogram"},
			"y":             map[string]any{"type": "string", "description": "value column; values for pie"},
			"title":         map[string]any{"type": "string"},
			"bins":          map[string]any{"type": "integer", "description": "histogram bins, default 10"},
			"output_format": map[string]any{"type": "string", "enum": []string{formatHTML, formatJSON}},
			"width":         map[string]any{"type": "integer", "description": "pixels, default 800"},
			"height":        map[string]any{"type": "integer", "description": "pixels, default 600"},
		},
		"required": []string{"rows"},
	}
}

type chartOutput struct {
	ChartType string          `json:"chart_type"`
	Format    string          `json:"format"`
	Title     string          `json:"title"`
	Points    int             `json:"points"`
	HTML      string          `json:"html,omitempty"`
	Option    json.RawMessage `json:"option,omitempty"`
}

// chart is the part of a go-echarts chart this tool needs.
type chart interface {
	Render(w io.Writer) error
	Validate()
	JSON() map[string]interface{}
}

func (v *Visualize) Execute(_ context.Context, params map[string]any) (any, error) {
	rows, err := rowsParam(params, "rows")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalid("rows must not be empty")
	}
	kind, err := stringParam(params, "chart_type", false)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = chartBar
	}
	format, err := stringParam(params, "output_format", false)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = formatHTML
	}
	if format != formatHTML && format != formatJSON {
		return nil, invalid("output_format must be %q or %q, got %q", formatHTML, formatJSON, format)
	}
	x, err := stringParam(params, "x", false)
	if err != nil {
		return nil, err
	}
	y, err := stringParam(params, "y", false)
	if err != nil {
		return nil, err
	}
	title, err := stringParam(params, "title", false)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = kind + " chart"
	}
	width, err := intParam(params, "width", 800)
	if err != nil {
		return nil, err
	}
	height, err := intParam(params, "height", 600)
	if err != nil {
		return nil, err
	}
	bins, err := intParam(params, "bins", defaultBins)
	if err != nil {
		return nil, err
	}

	global := []charts.GlobalOpts{
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{
			Width:     fmt.Sprintf("%dpx", width),
			Height:    fmt.Sprintf("%dpx", height),
			PageTitle: title,
		}),
	}

	var (
		c      chart
		points int
	)
	switch kind {
	case chartBar, chartLine, chartScatter:
		c, points, err = xyChart(kind, rows, x, y, global)
	case chartHistogram:
		c, points, err = histogram(rows, x, bins, global)
	case chartPie:
		c, points, err = pie(rows, x, y, global)
	case chartHeatmap:
		c, points, err = heatmap(rows, global)
	default:
		return nil, invalid("unknown chart_type %q", kind)
	}
	if err != nil {
		return nil, err
	}

	out := chartOutput{ChartType: kind, Format: format, Title: title, Points: points}
	if format == formatJSON {
		c.Validate()
		raw, err := json.Marshal(c.JSON())
		if err != nil {
			return nil, internal("encode chart: %v", err)
		}
		out.Option = raw
		return out, nil
	}
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return nil, internal("render chart: %v", err)
	}
	out.HTML = buf.String()
	return out, nil
}

// series returns the x categories and y values of rows with a numeric y.
func series(rows []map[string]any, x, y string) ([]string, []float64, error) {
	if x == "" || y == "" {
		return nil, nil, invalid("params \"x\" and \"y\" are required")
	}
	var (
		xs []string
		ys []float64
	)
	for _, r := range rows {
		f, ok := toFloat(r[y])
		if !ok || r[y] == nil {
			continue
		}
		xs = append(xs, cellString(r[x]))
		ys = append(ys, f)
	}
	if len(ys) == 0 {
		return nil, nil, invalid("column %q has no numeric values", y)
	}
	return xs, ys, nil
}

func xyChart(kind string, rows []map[string]any, x, y string, global []charts.GlobalOpts) (chart, int, error) {
	xs, ys, err := series(rows, x, y)
	if err != nil {
		return nil, 0, err
	}
	axes := append(global,
		charts.WithXAxisOpts(opts.XAxis{Name: x}),
		charts.WithYAxisOpts(opts.YAxis{Name: y}),
	)

	switch kind {
	case chartLine:
		data := make([]opts.LineData, len(ys))
		for i, f := range ys {
			data[i] = opts.LineData{Value: f}
		}
		c := charts.NewLine()
		c.SetGlobalOptions(axes...)
		c.SetXAxis(xs).AddSeries(y, data)
		return c, len(ys), nil
	case chartScatter:
		data := make([]opts.ScatterData, len(ys))
		for i, f := range ys {
			data[i] = opts.ScatterData{Value: f}
		}
		c := charts.NewScatter()
		c.SetGlobalOptions(axes...)
		c.SetXAxis(xs).AddSeries(y, data)
		return c, len(ys), nil
	default:
		data := make([]opts.BarData, len(ys))
		for i, f := range ys {
			data[i] = opts.BarData{Value: f}
		}
		c := charts.NewBar()
		c.SetGlobalOptions(axes...)
		c.SetXAxis(xs).AddSeries(y, data)
		return c, len(ys), nil
	}
}

func histogram(rows []map[string]any, x string, bins int, global []charts.GlobalOpts) (chart, int, error) {
	if x == "" {
		return nil, 0, invalid("param \"x\" is required")
	}
	if bins < 1 {
		return nil, 0, invalid("bins must be positive, got %d", bins)
	}
	nums, ok := numericColumn(rows, x)
	if !ok || len(nums) == 0 {
		return nil, 0, invalid("column %q has no numeric values", x)
	}
	lo, hi := nums[0], nums[0]
	for _, f := range nums {
		lo, hi = math.Min(lo, f), math.Max(hi, f)
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		bins, width = 1, 1
	}

	counts := make([]int, bins)
	for _, f := range nums {
		i := int((f - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	labels := make([]string, bins)
	data := make([]opts.BarData, bins)
	for i := range counts {
		labels[i] = fmt.Sprintf("%.4g-%.4g", lo+float64(i)*width, lo+float64(i+1)*width)
		data[i] = opts.BarData{Value: counts[i]}
	}

	c := charts.NewBar()
	c.SetGlobalOptions(append(global,
		charts.WithXAxisOpts(opts.XAxis{Name: x}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)...)
	c.SetXAxis(labels).AddSeries(x, data)
	return c, len(nums), nil
}

func pie(rows []map[string]any, x, y string, global []charts.GlobalOpts) (chart, int, error) {
	names, values, err := series(rows, x, y)
	if err != nil {
		return nil, 0, err
	}
	data := make([]opts.PieData, len(values))
	for i := range values {
		data[i] = opts.PieData{Name: names[i], Value: values[i]}
	}
	c := charts.NewPie()
	c.SetGlobalOptions(global...)
	c.AddSeries(y, data)
	return c, len(values), nil
}

// heatmap charts the pearson correlation of every numeric column pair.
func heatmap(rows []map[string]any, global []charts.GlobalOpts) (chart, int, error) {
	matrix, err := correlate(rows, nil)
	if err != nil {
		return nil, 0, err
	}
	cols := make([]string, 0, len(matrix))
	for c := range matrix {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var data []opts.HeatMapData
	for i, a := range cols {
		for j, b := range cols {
			var value any = "-"
			if r := matrix[a][b]; r != nil {
				value = math.Round(*r*1000) / 1000
			}
			data = append(data, opts.HeatMapData{Value: [3]any{i, j, value}})
		}
	}

	c := charts.NewHeatMap()
	c.SetGlobalOptions(append(global,
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: cols}),
		charts.WithVisualMapOpts(opts.VisualMap{Min: -1, Max: 1}),
	)...)
	c.SetXAxis(cols).AddSeries("correlation", data)
	return c, len(data), nil
}
