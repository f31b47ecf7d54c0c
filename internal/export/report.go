package export

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/roomview/internal/fsutil"
)

// ReportSink renders an HTML bar chart of visible and resolved objects per
// room to <dir>/<name>.html.
type ReportSink struct {
	fs   fsutil.FileSystem
	dir  string
	name string
}

// NewReportSink creates an HTML report sink.
func NewReportSink(fs fsutil.FileSystem, dir, name string) *ReportSink {
	return &ReportSink{fs: fs, dir: dir, name: name}
}

// Name implements Sink.
func (s *ReportSink) Name() string { return "report" }

// Path is the file the sink writes.
func (s *ReportSink) Path() string {
	return filepath.Join(s.dir, fsutil.SanitizeFilename(s.name)+".html")
}

// WriteDataset implements Sink.
func (s *ReportSink) WriteDataset(_ context.Context, ds Dataset) error {
	var buf bytes.Buffer
	if err := renderReport(&buf, ds); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := s.fs.WriteFile(s.Path(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.Path(), err)
	}
	return nil
}

func renderReport(buf *bytes.Buffer, ds Dataset) error {
	rooms := make([]string, len(ds.Results))
	visible := make([]opts.BarData, len(ds.Results))
	resolved := make([]opts.BarData, len(ds.Results))
	failed := 0
	for i, r := range ds.Results {
		rooms[i] = r.Name
		visible[i] = opts.BarData{Value: len(r.DbIDsInView)}
		resolved[i] = opts.BarData{Value: len(r.Properties)}
		if r.Error != "" {
			failed++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "640px", PageTitle: "Room capture " + ds.RunID}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Visible objects per room",
			Subtitle: fmt.Sprintf("run %s: %d rooms, %d with errors", ds.RunID, len(ds.Results), failed),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Room", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(rooms).
		AddSeries("visible", visible,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("resolved", resolved)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(buf)
}
