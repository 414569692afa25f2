// Command policing-detector analyzes one packet capture and reports,
// per flow, per segment, per direction, whether a traffic policer appears
// to be dropping its packets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/kr/pretty"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/USC-NSL/policing-detection/capture"
	"github.com/USC-NSL/policing-detection/metrics"
)

var (
	cutoffsFlag  = flag.String("cutoffs", "0,2", "comma-separated cutoff values the detector runs at")
	maxPackets   = flag.Int("max_packets", 0, "maximum number of packets to read from the capture (0 = unbounded)")
	noDetect     = flag.Bool("no_detect", false, "reconstruct flows/segments but skip running the policing detector")
	debug        = flag.Bool("debug", false, "pretty-print each segment-direction's verdict before CSV is emitted")
	bqTable      = flag.String("bq_table", "", "optional project.dataset.table to also stream verdict rows into")
	metricsAddr  = flag.String("metrics_addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func parseCutoffs(s string) ([]int, error) {
	var cutoffs []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("bad cutoff %q: %w", field, err)
		}
		cutoffs = append(cutoffs, n)
	}
	return cutoffs, nil
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: policing-detector <capture-path>")
		os.Exit(-1)
	}
	path := flag.Arg(0)

	cutoffs, err := parseCutoffs(*cutoffsFlag)
	rtx.Must(err, "bad -cutoffs value")

	cfg := capture.Config{
		MaxPackets:   *maxPackets,
		Cutoffs:      cutoffs,
		RunDetection: !*noDetect,
	}

	if *metricsAddr != "" {
		go func() {
			defer func() { metrics.CountPanics(recover(), "metricsServer") }()
			http.Handle("/metrics", metrics.DurationHandler("metrics", promhttp.Handler().ServeHTTP))
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	ctx := context.Background()
	r, err := capture.OpenCapture(ctx, path)
	rtx.Must(err, "could not open capture %q", path)
	defer r.Close()

	rows, err := capture.Analyze(cfg, path, r)
	rtx.Must(err, "could not analyze capture %q", path)

	if *debug {
		for _, row := range rows {
			fmt.Fprintf(os.Stderr, "%# v\n", pretty.Formatter(row))
		}
	}

	rtx.Must(capture.WriteCSV(rows, os.Stdout), "could not write CSV output")

	if *bqTable != "" {
		sink, err := capture.NewBigQuerySink(ctx, *bqTable)
		rtx.Must(err, "could not create BigQuery sink for %q", *bqTable)
		rtx.Must(sink.Put(ctx, rows), "could not stream rows to BigQuery")
	}
}
