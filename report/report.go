// Package report renders the end-of-run summary as text, CSV, JSON and a
// latency histogram.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/alanwang67/kvload/client"
	"github.com/alanwang67/kvload/metrics"
	"github.com/charmbracelet/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const histogramBins = 40

var ErrNoSamples = errors.New("report: no latency samples")

// WriteText prints a per-task table followed by the run totals.
func WriteText(w io.Writer, s metrics.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprint(tw, "TASK\tTOTAL")
	for _, o := range client.Outcomes {
		fmt.Fprintf(tw, "\t%s", o)
	}
	fmt.Fprintln(tw, "\tAVG")

	for _, ts := range s.Tasks {
		fmt.Fprintf(tw, "%s\t%d", ts.Name, ts.Total)
		for _, o := range client.Outcomes {
			fmt.Fprintf(tw, "\t%d", ts.Outcomes[o.String()])
		}
		fmt.Fprintf(tw, "\t%v\n", ts.AverageLatency.Round(time.Microsecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w,
		"\n%d iterations in %v (%.1f/s), %d failed, %d conflicts, %d unknown\nlatency avg %v p50 %v p99 %v\n",
		s.Total, s.Elapsed.Round(time.Millisecond), s.RPS, s.Failed,
		s.Outcomes[client.Conflict.String()], s.Outcomes[client.Unknown.String()],
		s.AverageLatency.Round(time.Microsecond), s.P50Latency.Round(time.Microsecond), s.P99Latency.Round(time.Microsecond),
	)
	return err
}

// WriteCSV writes one row per task with a column per outcome.
func WriteCSV(w io.Writer, s metrics.Summary) error {
	cw := csv.NewWriter(w)

	header := []string{"task", "total"}
	for _, o := range client.Outcomes {
		header = append(header, o.String())
	}
	header = append(header, "avg_latency_seconds")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, ts := range s.Tasks {
		row := []string{ts.Name, strconv.FormatUint(ts.Total, 10)}
		for _, o := range client.Outcomes {
			row = append(row, strconv.FormatUint(ts.Outcomes[o.String()], 10))
		}
		row = append(row, strconv.FormatFloat(ts.AverageLatency.Seconds(), 'f', 6, 64))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s metrics.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteHistogram renders a PNG histogram of latencies in milliseconds.
func WriteHistogram(w io.Writer, latencies []time.Duration) error {
	if len(latencies) == 0 {
		return ErrNoSamples
	}

	values := make(plotter.Values, len(latencies))
	for i, l := range latencies {
		values[i] = float64(l) / float64(time.Millisecond)
	}

	p := plot.New()
	p.Title.Text = "Iteration latency"
	p.X.Label.Text = "latency (ms)"
	p.Y.Label.Text = "iterations"

	h, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(h)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render histogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveFile creates path and hands it to write.
func SaveFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Infof("report saved to %s", path)
	return nil
}
