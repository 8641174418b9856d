package memstore

import (
	"strconv"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
)

// line rate assumed for percentLineRate flows
const lineRateBps = 10e9

// preamble + inter-frame gap, in bytes
const wireOverhead = 20

type flowLoad struct {
	src, dst  string // vport ids
	fps       float64
	frames    float64
	frameSize float64
}

// syntheticView computes plausible counters from the configured model so a
// dry run produces non-empty reports.
func (s *Store) syntheticView(name string) map[string][]string {
	flows := s.flowLoads()
	switch name {
	case "Port Statistics":
		return s.syntheticPortStats(flows)
	case "Flow Statistics":
		return syntheticFlowStats(flows)
	}
	return nil
}

func (s *Store) flowLoads() []flowLoad {
	var out []flowLoad
	for _, ti := range s.items {
		for _, ep := range ti.endpointSets {
			epRef := trafficItemRef(ti).Item("endpointSet", ep.id)
			ceRef := trafficItemRef(ti).Item("configElement", ep.id)

			fl := flowLoad{
				src:       endpointVport(s.attrs[epRef.Path()]["-sources"]),
				dst:       endpointVport(s.attrs[epRef.Path()]["-destinations"]),
				frameSize: averageFrameSize(s.attrs[ceRef.Child("frameSize").Path()]["-weightedRangePairs"]),
			}

			rate := s.attrs[ceRef.Child("frameRate").Path()]
			fl.fps = toFloat(rate["-rate"])
			if rate["-type"] == "percentLineRate" {
				fl.fps = fl.fps / 100 * lineRateBps / ((fl.frameSize + wireOverhead) * 8)
			}
			if s.state == StateStopped && !s.applied {
				fl.fps = 0
			}
			fl.frames = fl.fps * toFloat(s.attrs[ceRef.Child("transmissionControl").Path()]["-duration"])
			out = append(out, fl)
		}
	}
	return out
}

func (s *Store) syntheticPortStats(flows []flowLoad) map[string][]string {
	cols := make(map[string][]string)
	add := func(col string, v float64) {
		cols[col] = append(cols[col], strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range s.vports {
		var txFrames, rxFrames, txFps, rxFps, txBits, rxBits float64
		for _, fl := range flows {
			bits := fl.fps * fl.frameSize * 8
			if fl.src == v.id {
				txFrames += fl.frames
				txFps += fl.fps
				txBits += bits
			}
			if fl.dst == v.id {
				rxFrames += fl.frames
				rxFps += fl.fps
				rxBits += bits
			}
		}
		name := "Port " + v.id
		if v.loc.Chassis != "" {
			name = v.loc.Chassis + "/Card" + v.loc.Card + "/Port" + v.loc.Port
		}
		cols["Stat Name"] = append(cols["Stat Name"], name)
		add("Frames Tx.", txFrames)
		add("Valid Frames Rx.", rxFrames)
		add("Frames Tx. Rate", txFps)
		add("Valid Frames Rx. Rate", rxFps)
		add("Tx. Rate (Kbps)", txBits/1e3)
		add("Rx. Rate (Kbps)", rxBits/1e3)
		add("Tx. Rate (Mbps)", txBits/1e6)
		add("Rx. Rate (Mbps)", rxBits/1e6)
	}
	return cols
}

func syntheticFlowStats(flows []flowLoad) map[string][]string {
	cols := make(map[string][]string)
	for _, fl := range flows {
		// store-forward latency grows with serialization time on a 10G link
		base := 600 + fl.frameSize*8/10
		cols["Store-Forward Min Latency (ns)"] = append(cols["Store-Forward Min Latency (ns)"], strconv.FormatFloat(base, 'f', 0, 64))
		cols["Store-Forward Avg Latency (ns)"] = append(cols["Store-Forward Avg Latency (ns)"], strconv.FormatFloat(base*1.2, 'f', 0, 64))
		cols["Store-Forward Max Latency (ns)"] = append(cols["Store-Forward Max Latency (ns)"], strconv.FormatFloat(base*2, 'f', 0, 64))
	}
	return cols
}

func endpointVport(v any) string {
	refs, ok := v.([]ixnet.Ref)
	if !ok || len(refs) == 0 {
		return ""
	}
	seg, ok := refs[0].Find("vport")
	if !ok {
		return ""
	}
	return seg.ID
}

func averageFrameSize(v any) float64 {
	pairs, ok := v.([][]int)
	if !ok || len(pairs) == 0 {
		return 64
	}
	var sum, weights float64
	for _, p := range pairs {
		if len(p) != 3 {
			continue
		}
		sum += float64(p[0]+p[1]) / 2 * float64(p[2])
		weights += float64(p[2])
	}
	if weights == 0 {
		return 64
	}
	return sum / weights
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
