package capture

import (
	"io"

	"github.com/gocarina/gocsv"
)

// WriteCSV marshals rows to w in the column order OutputRow declares,
// following cmd/csvtool's gocsv pattern. No header row is written:
// process_pcap.py's output is data lines only.
func WriteCSV(rows []OutputRow, w io.Writer) error {
	return gocsv.MarshalWithoutHeaders(rows, w)
}
