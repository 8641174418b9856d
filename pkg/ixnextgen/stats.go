package ixnextgen

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
)

// Statistics views read by GetStatistics
const (
	PortStatisticsView = "Port Statistics"
	FlowStatisticsView = "Flow Statistics"
)

// PortStatsNameMap maps report keys to "Port Statistics" columns
var PortStatsNameMap = map[string]string{
	"stat_name":            "Stat Name",
	"Frames_Tx":            "Frames Tx.",
	"Valid_Frames_Rx":      "Valid Frames Rx.",
	"Frames_Tx_Rate":       "Frames Tx. Rate",
	"Valid_Frames_Rx_Rate": "Valid Frames Rx. Rate",
	"Tx_Rate_Kbps":         "Tx. Rate (Kbps)",
	"Rx_Rate_Kbps":         "Rx. Rate (Kbps)",
	"Tx_Rate_Mbps":         "Tx. Rate (Mbps)",
	"Rx_Rate_Mbps":         "Rx. Rate (Mbps)",
}

// LatencyNameMap maps report keys to "Flow Statistics" columns
var LatencyNameMap = map[string]string{
	"Store-Forward_Avg_latency_ns": "Store-Forward Avg Latency (ns)",
	"Store-Forward_Min_latency_ns": "Store-Forward Min Latency (ns)",
	"Store-Forward_Max_latency_ns": "Store-Forward Max Latency (ns)",
}

// Statistics holds one value per port (port keys) or per flow (latency keys)
type Statistics map[string][]string

// Keys returns the statistic names in sorted order
func (s Statistics) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetStatistics reads the port and flow statistics views
func (d *Driver) GetStatistics() (Statistics, error) {
	if _, err := d.session(); err != nil {
		return nil, err
	}

	stats := make(Statistics, len(PortStatsNameMap)+len(LatencyNameMap))
	if err := d.readView(stats, PortStatisticsView, PortStatsNameMap); err != nil {
		return nil, err
	}
	if err := d.readView(stats, FlowStatisticsView, LatencyNameMap); err != nil {
		return nil, err
	}
	return stats, nil
}

func (d *Driver) readView(dst Statistics, view string, names map[string]string) error {
	ref := ixnet.StatisticsView(view)
	for key, column := range names {
		res, err := d.sess.Execute("getColumnValues", ref, column)
		if err != nil {
			return errors.Wrapf(err, "read %q from %q", column, view)
		}
		vals, err := columnStrings(res)
		if err != nil {
			return errors.Wrapf(err, "read %q from %q", column, view)
		}
		dst[key] = vals
	}
	return nil
}

func columnStrings(res any) ([]string, error) {
	switch v := res.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, errors.Errorf("unexpected column value %T", x)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, errors.Errorf("unexpected column result %T", res)
}
