package tcpip_test

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/USC-NSL/policing-detection/tcpip"
)

// buildFrame constructs a minimal Ethernet/IPv4/TCP frame carrying payload,
// with an optional trailing options block, the same synthetic-byte approach
// tcp/tcp_test.go uses for header-level benchmarks.
func buildFrame(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, seq, ack uint32, options []byte, payload []byte) []byte {
	t.Helper()

	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:14], uint16(layers.EthernetTypeIPv4))

	tcpHeaderLen := 20 + len(options)
	totalLen := 20 + tcpHeaderLen + len(payload)

	ip := make([]byte, 20)
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	ip[8] = 64 // TTL
	ip[9] = byte(layers.IPProtocolTCP)
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())

	tcpHdr := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(tcpHdr[0:2], srcPort)
	binary.BigEndian.PutUint16(tcpHdr[2:4], dstPort)
	binary.BigEndian.PutUint32(tcpHdr[4:8], seq)
	binary.BigEndian.PutUint32(tcpHdr[8:12], ack)
	tcpHdr[12] = byte((tcpHeaderLen / 4) << 4)
	tcpHdr[13] = 0x18 // PSH+ACK
	binary.BigEndian.PutUint16(tcpHdr[14:16], 65535)
	copy(tcpHdr[20:], options)

	frame := append(eth, ip...)
	frame = append(frame, tcpHdr...)
	frame = append(frame, payload...)
	return frame
}

func TestParse(t *testing.T) {
	payload := make([]byte, 100)
	opts := []byte{byte(layers.TCPOptionKindNop), byte(layers.TCPOptionKindNop), byte(layers.TCPOptionKindNop), byte(layers.TCPOptionKindEndList)}
	data := buildFrame(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 40337, 443, 1000, 2000, opts, payload)

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(data), Length: len(data)}
	p, err := tcpip.Parse(ci, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.TCP.SrcPort != 40337 || p.TCP.DstPort != 443 {
		t.Errorf("ports = %d/%d, want 40337/443", p.TCP.SrcPort, p.TCP.DstPort)
	}
	if p.TCP.SeqNum != 1000 || p.TCP.AckNum != 2000 {
		t.Errorf("seq/ack = %d/%d, want 1000/2000", p.TCP.SeqNum, p.TCP.AckNum)
	}
	if !p.IP.SrcIP().Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("SrcIP = %v, want 10.0.0.1", p.IP.SrcIP())
	}
	if p.PayloadLength() != len(payload) {
		t.Errorf("PayloadLength() = %d, want %d", p.PayloadLength(), len(payload))
	}
}

// TestParsePaddedACK covers a bare ACK padded to the Ethernet minimum frame
// size: the trailing padding bytes must not be counted as TCP payload.
func TestParsePaddedACK(t *testing.T) {
	data := buildFrame(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 40337, 443, 1000, 2000, nil, nil)
	const ethernetMinFrame = 60
	if len(data) < ethernetMinFrame {
		data = append(data, make([]byte, ethernetMinFrame-len(data))...)
	}

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(data), Length: len(data)}
	p, err := tcpip.Parse(ci, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PayloadLength() != 0 {
		t.Errorf("PayloadLength() = %d, want 0 (padding must not be counted as payload)", p.PayloadLength())
	}
}

func TestParseNotIPv4(t *testing.T) {
	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:14], uint16(layers.EthernetTypeIPv6))
	eth = append(eth, make([]byte, 40)...)

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0)}
	_, err := tcpip.Parse(ci, eth)
	if err != tcpip.ErrNotIPv4 {
		t.Errorf("Parse on IPv6 EtherType = %v, want ErrNotIPv4", err)
	}
}

func TestParseTruncated(t *testing.T) {
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0)}
	_, err := tcpip.Parse(ci, []byte{0, 1, 2})
	if err != tcpip.ErrTruncatedEthernetHeader {
		t.Errorf("Parse on 3 bytes = %v, want ErrTruncatedEthernetHeader", err)
	}
}
