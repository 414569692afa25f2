package capture

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/m-lab/go/logx"
	"golang.org/x/sync/errgroup"

	"github.com/USC-NSL/policing-detection/flow"
	"github.com/USC-NSL/policing-detection/internal/nano"
	"github.com/USC-NSL/policing-detection/metrics"
	"github.com/USC-NSL/policing-detection/policing"
	"github.com/USC-NSL/policing-detection/tcpip"
)

var (
	sparseLogger = log.New(os.Stdout, "sparse: ", log.LstdFlags|log.Lshortfile)
	sparse20     = logx.NewLogEvery(sparseLogger, 50*time.Millisecond)
)

// flowKey identifies a flow by its unordered 4-tuple: both a->b and b->a
// packets map to the same key, since the core does not demultiplex by
// sequence-number discontinuity (spec's flow-key contract).
type flowKey struct {
	ip1, ip2     string
	port1, port2 layers.TCPPort
}

func newFlowKey(srcIP, dstIP net.IP, srcPort, dstPort layers.TCPPort) flowKey {
	a := ipPortString(srcIP, srcPort)
	b := ipPortString(dstIP, dstPort)
	if a < b {
		return flowKey{a, b, srcPort, dstPort}
	}
	return flowKey{b, a, dstPort, srcPort}
}

func ipPortString(ip net.IP, port layers.TCPPort) string {
	return ip.String() + ":" + strconv.Itoa(int(port))
}

// PyBool is a bool that marshals to CSV the way Python's str(bool) does
// ("True"/"False"), matching process_pcap.py's output verbatim.
type PyBool bool

func (b PyBool) MarshalCSV() (string, error) {
	if b {
		return "True", nil
	}
	return "False", nil
}

// OutputRow is one CSV line: a segment-direction's verdicts at cutoff 0 and
// cutoff 2, the pair process_pcap.py emits by default (spec.md §6).
type OutputRow struct {
	InputPath      string `csv:"input_path"`
	FlowIndex      int    `csv:"flow_index"`
	SegmentIndex   int    `csv:"segment_index"`
	Direction      string `csv:"direction"`
	NumDataPackets int    `csv:"num_data_packets"`
	NumLosses      int    `csv:"num_losses"`
	Verdict0       PyBool `csv:"verdict_0"`
	Repr0          string `csv:"repr_0"`
	Verdict2       PyBool `csv:"verdict_2"`
	Repr2          string `csv:"repr_2"`
}

// Analyze reads every frame from r, reconstructs flows and segments, runs
// the policing detector over each segment-direction per cfg, and returns
// one OutputRow per segment-direction. inputPath is carried through to the
// output rows only; it need not be openable (the caller already has r).
func Analyze(cfg Config, inputPath string, r io.Reader) ([]OutputRow, error) {
	start := time.Now()
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}

	flows := make(map[flowKey]*flow.Flow)
	order := make([]flowKey, 0)

	index := 0
	packetCount := 0
	for {
		if cfg.MaxPackets > 0 && packetCount >= cfg.MaxPackets {
			break
		}
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading packet %d: %w", packetCount, err)
		}
		packetCount++

		parsed, err := tcpip.Parse(ci, data)
		if err != nil {
			metrics.FrameCount.WithLabelValues(skipReason(err)).Inc()
			sparse20.Printf("skipping frame %d: %v", packetCount, err)
			continue
		}
		metrics.FrameCount.WithLabelValues("ok").Inc()

		ap := flow.NewAnnotatedPacket(parsed, nano.FromTime(ci.Timestamp), index)
		index++

		key := newFlowKey(ap.SrcIP(), ap.DstIP(), ap.SrcPort(), ap.DstPort())
		f, ok := flows[key]
		if !ok {
			f = flow.NewFlow(ap)
			flows[key] = f
			order = append(order, key)
			metrics.FlowCount.Inc()
		}
		f.AddPacket(ap, true)
	}

	metrics.PacketCount.Observe(float64(packetCount))

	var rows []OutputRow
	var mu sync.Mutex
	var g errgroup.Group
	for flowIdx, key := range order {
		f := flows[key]
		flowIdx := flowIdx
		g.Go(func() (err error) {
			defer func() { err = metrics.PanicToErr(err, recover(), "analyzeFlow") }()
			f.PostProcess()
			segRows := analyzeFlow(cfg, inputPath, flowIdx, f)
			mu.Lock()
			rows = append(rows, segRows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The errgroup fan-out above appends rows as each flow's goroutine
	// finishes, so ordering across flows is nondeterministic. Sort back into
	// flow/segment/direction order for reproducible output.
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.FlowIndex != b.FlowIndex {
			return a.FlowIndex < b.FlowIndex
		}
		if a.SegmentIndex != b.SegmentIndex {
			return a.SegmentIndex < b.SegmentIndex
		}
		return a.Direction < b.Direction
	})

	metrics.CaptureDuration.Observe(time.Since(start).Seconds())
	return rows, nil
}

func analyzeFlow(cfg Config, inputPath string, flowIdx int, f *flow.Flow) []OutputRow {
	segments := flow.SplitIntoSegments(f)
	var rows []OutputRow
	for segIdx, seg := range segments {
		metrics.SegmentCount.WithLabelValues("a2b").Inc()
		metrics.SegmentCount.WithLabelValues("b2a").Inc()
		rows = append(rows, analyzeDirection(cfg, inputPath, flowIdx, segIdx, "a2b", seg.EndpointA))
		rows = append(rows, analyzeDirection(cfg, inputPath, flowIdx, segIdx, "b2a", seg.EndpointB))
	}
	return rows
}

func analyzeDirection(cfg Config, inputPath string, flowIdx, segIdx int, direction string, endpoint *flow.Endpoint) OutputRow {
	row := OutputRow{
		InputPath:      inputPath,
		FlowIndex:      flowIdx,
		SegmentIndex:   segIdx,
		Direction:      direction,
		NumDataPackets: endpoint.NumDataPackets,
		NumLosses:      endpoint.NumLosses(),
	}
	if !cfg.RunDetection {
		return row
	}

	cutoff0, cutoff2 := 0, 2
	if len(cfg.Cutoffs) > 0 {
		cutoff0 = cfg.Cutoffs[0]
	}
	if len(cfg.Cutoffs) > 1 {
		cutoff2 = cfg.Cutoffs[1]
	}

	p0 := policing.GetPolicingParamsForEndpoint(endpoint, cutoff0)
	p2 := policing.GetPolicingParamsForEndpoint(endpoint, cutoff2)
	row.Verdict0 = PyBool(p0.ResultCode == policing.ResultOK)
	row.Repr0 = p0.String()
	row.Verdict2 = PyBool(p2.ResultCode == policing.ResultOK)
	row.Repr2 = p2.String()

	metrics.VerdictCount.WithLabelValues(direction, strconv.Itoa(cutoff0), strconv.Itoa(p0.ResultCode)).Inc()
	metrics.VerdictCount.WithLabelValues(direction, strconv.Itoa(cutoff2), strconv.Itoa(p2.ResultCode)).Inc()
	if p0.ResultCode == policing.ResultOK {
		metrics.GoodputBpsHistogram.Observe(p0.PolicingRateBps)
		metrics.BurstSizeHistogram.Observe(float64(p0.BurstSize))
	}
	return row
}

func skipReason(err error) string {
	switch err {
	case tcpip.ErrTruncatedEthernetHeader:
		return "truncated_ethernet"
	case tcpip.ErrTruncatedIPHeader:
		return "truncated_ip"
	case tcpip.ErrNotIPv4:
		return "not_ipv4"
	case tcpip.ErrNotTCP:
		return "not_tcp"
	default:
		return "other"
	}
}
