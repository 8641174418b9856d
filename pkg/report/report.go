// Package report renders traffic generator statistics as text, JSON or CSV
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnextgen"
)

// Format of a rendered report
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	CSV  Format = "csv"
)

// Ext returns the file extension used by SaveToDir
func (f Format) Ext() string {
	if f == Text {
		return "txt"
	}
	return string(f)
}

// BaseName is the file name SaveToDir writes, without extension
const BaseName = "statistics"

// Filter keeps the statistics whose key matches the glob pattern.
// An empty pattern keeps everything.
func Filter(stats ixnextgen.Statistics, pattern string) (ixnextgen.Statistics, error) {
	if pattern == "" {
		return stats, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid statistics filter %q", pattern)
	}
	out := make(ixnextgen.Statistics)
	for k, v := range stats {
		if g.Match(k) {
			out[k] = v
		}
	}
	return out, nil
}

// Write renders the statistics matching filter to w
func Write(w io.Writer, stats ixnextgen.Statistics, format Format, filter string) error {
	stats, err := Filter(stats, filter)
	if err != nil {
		return err
	}

	switch format {
	case Text, "":
		return writeText(w, stats)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(stats), "encode statistics")
	case CSV:
		return writeCSV(w, stats)
	}
	return errors.Errorf("unknown report format %q", format)
}

// SaveToDir writes the full report to dir/statistics.<ext> and returns the path
func SaveToDir(dir string, stats ixnextgen.Statistics, format Format) (string, error) {
	if format == "" {
		format = Text
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create result dir %s", dir)
	}
	path := filepath.Join(dir, BaseName+"."+format.Ext())
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create report")
	}
	if err := Write(f, stats, format, ""); err != nil {
		f.Close()
		return "", err
	}
	return path, errors.Wrap(f.Close(), "close report")
}

func writeText(w io.Writer, stats ixnextgen.Statistics) error {
	keys := stats.Keys()
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	for _, k := range keys {
		cells := make([]string, 0, len(stats[k]))
		for _, v := range stats[k] {
			cells = append(cells, Humanize(v))
		}
		if _, err := fmt.Fprintf(w, "%-*s  %s\n", width, k, strings.Join(cells, "  ")); err != nil {
			return err
		}
	}
	return nil
}

// writeCSV emits one row per statistic: key followed by its values
func writeCSV(w io.Writer, stats ixnextgen.Statistics) error {
	cw := csv.NewWriter(w)
	for _, k := range stats.Keys() {
		if err := cw.Write(append([]string{k}, stats[k]...)); err != nil {
			return errors.Wrap(err, "write csv")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "write csv")
}

// Humanize adds thousands separators to numeric values and leaves
// anything else untouched
func Humanize(v string) string {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return humanize.Comma(n)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return humanize.CommafWithDigits(f, 3)
	}
	return v
}
