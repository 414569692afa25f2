package capture

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	ackFlag     = 0x10
	synFlag     = 0x02
	synAckFlags = 0x12
)

func buildFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload []byte) []byte {
	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:14], uint16(layers.EthernetTypeIPv4))

	totalLen := 20 + 20 + len(payload)
	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	ip[8] = 64
	ip[9] = byte(layers.IPProtocolTCP)
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])

	tcpHdr := make([]byte, 20)
	binary.BigEndian.PutUint16(tcpHdr[0:2], srcPort)
	binary.BigEndian.PutUint16(tcpHdr[2:4], dstPort)
	binary.BigEndian.PutUint32(tcpHdr[4:8], seq)
	binary.BigEndian.PutUint32(tcpHdr[8:12], ack)
	tcpHdr[12] = byte(5 << 4)
	tcpHdr[13] = flags
	binary.BigEndian.PutUint16(tcpHdr[14:16], 65535)

	frame := append(eth, ip...)
	frame = append(frame, tcpHdr...)
	frame = append(frame, payload...)
	return frame
}

// buildTestCapture writes a minimal clean handshake plus one data/ack
// exchange to a pcap byte stream that Analyze can read back.
func buildTestCapture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}

	clientIP := [4]byte{10, 0, 0, 1}
	serverIP := [4]byte{10, 0, 0, 2}
	base := time.Unix(1700000000, 0)

	write := func(data []byte, offset time.Duration) {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(offset),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}

	write(buildFrame(clientIP, serverIP, 40000, 80, 1000, 0, synFlag, nil), 0)
	write(buildFrame(serverIP, clientIP, 80, 40000, 5000, 1001, synAckFlags, nil), time.Millisecond)

	seq := uint32(5001)
	ts := 2 * time.Millisecond
	for i := 0; i < 20; i++ {
		data := make([]byte, 1460)
		write(buildFrame(serverIP, clientIP, 80, 40000, seq, 1001, ackFlag, data), ts)
		seq += 1460
		ts += time.Millisecond

		write(buildFrame(clientIP, serverIP, 40000, 80, 1001, seq, ackFlag, nil), ts)
		ts += time.Millisecond
	}

	return buf.Bytes()
}

func TestAnalyzeCleanFlow(t *testing.T) {
	data := buildTestCapture(t)
	rows, err := Analyze(DefaultConfig(), "test.pcap", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected at least one output row")
	}

	var foundB2A bool
	for _, r := range rows {
		if r.InputPath != "test.pcap" {
			t.Errorf("InputPath = %q, want test.pcap", r.InputPath)
		}
		if r.Direction == "b2a" {
			foundB2A = true
			if r.NumLosses != 0 {
				t.Errorf("NumLosses = %d, want 0", r.NumLosses)
			}
			if r.Verdict0 {
				t.Errorf("Verdict0 = true, want false (insufficient loss)")
			}
		}
	}
	if !foundB2A {
		t.Fatal("expected a b2a row")
	}
}

func TestAnalyzeEmptyCapture(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	rows, err := Analyze(DefaultConfig(), "empty.pcap", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []OutputRow{{
		InputPath:      "test.pcap",
		FlowIndex:      0,
		SegmentIndex:   0,
		Direction:      "a2b",
		NumDataPackets: 10,
		NumLosses:      0,
		Verdict0:       false,
		Repr0:          "[code 1, null, null]",
		Verdict2:       true,
		Repr2:          "[code 0, 2000000 bps, 100000 bytes burst]",
	}}
	var buf bytes.Buffer
	if err := WriteCSV(rows, &buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	got := buf.String()
	if strings.HasPrefix(got, "input_path") {
		t.Errorf("WriteCSV emitted a header row, want data lines only: %q", got)
	}
	want := `test.pcap,0,0,a2b,10,0,False,"[code 1, null, null]",True,"[code 0, 2000000 bps, 100000 bytes burst]"` + "\n"
	if got != want {
		t.Errorf("WriteCSV =\n%q\nwant\n%q", got, want)
	}
}
