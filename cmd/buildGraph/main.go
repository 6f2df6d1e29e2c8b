package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

func main() {
	jsonFile := flag.String("jsonfile", "test-results.json", "Path to JSON file containing test sessions")
	outputPrefix := flag.String("out", "benchmark_graph", "Output graph image filename prefix")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	data, err := os.ReadFile(*jsonFile)
	if err != nil {
		logger.Error("reading JSON file", "file", *jsonFile, "error", err)
		os.Exit(1)
	}

	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		logger.Error("unmarshalling JSON", "file", *jsonFile, "error", err)
		os.Exit(1)
	}

	for cpus, group := range groupSessions(sessions) {
		p, err := buildPlot(cpus, group)
		if err != nil {
			logger.Error("building plot", "cpus", cpus, "error", err)
			continue
		}
		filename := fmt.Sprintf("%s_%d.png", *outputPrefix, cpus)
		if err := p.Save(12*vg.Inch, 9*vg.Inch, filename); err != nil {
			logger.Error("saving plot", "cpus", cpus, "file", filename, "error", err)
			continue
		}
		fmt.Printf("Graph for %d CPU(s) saved to %s\n", cpus, filename)
	}
}

// buildPlot draws one grouped bar per implementation for every topology and
// prints the 5% tails next to each median.
func buildPlot(cpus int, group cpuGroup) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Median throughput by topology for %d CPU(s)", cpus)
	p.X.Label.Text = "Topology"
	p.Y.Label.Text = "Messages / second"

	// Dark theme.
	p.BackgroundColor = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	p.Title.TextStyle.Color = white
	p.X.Label.TextStyle.Color = white
	p.Y.Label.TextStyle.Color = white
	p.X.Color = white
	p.Y.Color = white
	p.X.Tick.Label.Color = white
	p.Y.Tick.Label.Color = white
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.TextStyle.Color = white

	p.Y.Tick.Marker = plot.TickerFunc(func(min, max float64) []plot.Tick {
		ticks := plot.DefaultTicks{}.Ticks(min, max)
		for i := range ticks {
			if ticks[i].Label != "" {
				ticks[i].Label = formatRate(ticks[i].Value)
			}
		}
		return ticks
	})
	p.Add(plotter.NewGrid())

	topos := group.topologies()
	names := group.implementations()
	if len(topos) == 0 || len(names) == 0 {
		return nil, fmt.Errorf("no successful runs")
	}
	p.NominalX(topos...)

	colors := plotutil.SoftColors
	barWidth := vg.Points(60 / float64(len(names)))

	for i, name := range names {
		values := make(plotter.Values, len(topos))
		for j, topo := range topos {
			st := buildStats(group[name][topo])
			values[j] = st.median
			if st.median > 0 {
				fmt.Printf("  [%d CPU] %-30s %-14s min=%s median=%s max=%s\n",
					cpus, name, topo, formatRate(st.min), formatRate(st.median), formatRate(st.max))
			}
		}

		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return nil, fmt.Errorf("bar chart for %s: %w", name, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = colors[i%len(colors)]
		bars.Offset = barWidth * vg.Length(float64(i)-float64(len(names)-1)/2)

		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	return p, nil
}
