package capture

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// BigQueryRow is the BigQuery-tagged mirror of OutputRow, following the
// bigquery-tag style schema.PCAPRow uses.
type BigQueryRow struct {
	InputPath      string `bigquery:"input_path"`
	FlowIndex      int    `bigquery:"flow_index"`
	SegmentIndex   int    `bigquery:"segment_index"`
	Direction      string `bigquery:"direction"`
	NumDataPackets int    `bigquery:"num_data_packets"`
	NumLosses      int    `bigquery:"num_losses"`
	Verdict0       bool   `bigquery:"verdict_0"`
	Repr0          string `bigquery:"repr_0"`
	Verdict2       bool   `bigquery:"verdict_2"`
	Repr2          string `bigquery:"repr_2"`
}

func toBigQueryRow(r OutputRow) BigQueryRow {
	return BigQueryRow{
		InputPath:      r.InputPath,
		FlowIndex:      r.FlowIndex,
		SegmentIndex:   r.SegmentIndex,
		Direction:      r.Direction,
		NumDataPackets: r.NumDataPackets,
		NumLosses:      r.NumLosses,
		Verdict0:       bool(r.Verdict0),
		Repr0:          r.Repr0,
		Verdict2:       bool(r.Verdict2),
		Repr2:          r.Repr2,
	}
}

// BigQuerySink streams OutputRows into a BigQuery table, the optional
// -bq_table sink alongside the required CSV output.
type BigQuerySink struct {
	inserter *bigquery.Inserter
}

// NewBigQuerySink parses "project.dataset.table" and returns a sink backed
// by a bigquery.Inserter for that table.
func NewBigQuerySink(ctx context.Context, projectDatasetTable string) (*BigQuerySink, error) {
	project, dataset, table, err := splitTableID(projectDatasetTable)
	if err != nil {
		return nil, err
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, err
	}
	return &BigQuerySink{inserter: client.Dataset(dataset).Table(table).Inserter()}, nil
}

// Put streams rows to the configured table.
func (s *BigQuerySink) Put(ctx context.Context, rows []OutputRow) error {
	bqRows := make([]BigQueryRow, len(rows))
	for i, r := range rows {
		bqRows[i] = toBigQueryRow(r)
	}
	return s.inserter.Put(ctx, bqRows)
}

func splitTableID(id string) (project, dataset, table string, err error) {
	fields := strings.Split(id, ".")
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("bad table id %q, want project.dataset.table", id)
	}
	return fields[0], fields[1], fields[2], nil
}
