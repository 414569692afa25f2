// Package tcpip parses Ethernet/IPv4/TCP frames out of raw packet-capture
// bytes into the ParsedPacket view the flow package builds its
// AnnotatedPackets from. IPv6 is intentionally not handled (see Non-goals).
package tcpip

import (
	"encoding/binary"
	"fmt"
	"net"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/USC-NSL/policing-detection/tcp"
)

var (
	ErrTruncatedEthernetHeader = fmt.Errorf("truncated Ethernet header")
	ErrTruncatedIPHeader       = fmt.Errorf("truncated IP header")
	ErrNotIPv4                 = fmt.Errorf("not an IPv4 packet")
	ErrNotTCP                  = fmt.Errorf("not a TCP packet")
)

/******************************************************************************
 * Ethernet Header
******************************************************************************/

type EthernetHeader struct {
	SrcMAC, DstMAC [6]byte
	etherType      [2]byte // BigEndian
}

func (e *EthernetHeader) EtherType() layers.EthernetType {
	return layers.EthernetType(binary.BigEndian.Uint16(e.etherType[:]))
}

var EthernetHeaderSize = int(unsafe.Sizeof(EthernetHeader{}))

/******************************************************************************
 * IPv4 Header
******************************************************************************/

// IPv4Header overlays the fixed 20-byte IPv4 header (no IP options support,
// which matches the captures this detector targets).
type IPv4Header struct {
	versionIHL    uint8             // Version (4 bits) + Internet header length (4 bits)
	typeOfService uint8             // Type of service
	length        [2]byte           // Total length
	id            [2]byte           // Identification
	flagsFragOff  [2]byte           // Flags (3 bits) + Fragment offset (13 bits)
	ttl           uint8             // Time to live
	protocol      layers.IPProtocol // Next-layer protocol
	checksum      [2]byte           // Header checksum
	srcIP         [4]byte           // Source address
	dstIP         [4]byte           // Destination address
}

var IPv4HeaderSize = int(unsafe.Sizeof(IPv4Header{}))

func (h *IPv4Header) Version() uint8 {
	return h.versionIHL >> 4
}

func (h *IPv4Header) HeaderLength() int {
	return int(h.versionIHL&0x0f) << 2
}

func (h *IPv4Header) TotalLength() int {
	return int(binary.BigEndian.Uint16(h.length[:]))
}

func (h *IPv4Header) PayloadLength() int {
	return h.TotalLength() - h.HeaderLength()
}

func (h *IPv4Header) SrcIP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, h.srcIP[:])
	return ip
}

func (h *IPv4Header) DstIP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, h.dstIP[:])
	return ip
}

func (h *IPv4Header) TTL() uint8 {
	return h.ttl
}

func (h *IPv4Header) NextProtocol() layers.IPProtocol {
	return h.protocol
}

/******************************************************************************
 * Packet
******************************************************************************/

// ParsedPacket holds the decoded view of one captured frame: capture
// metadata plus the IPv4 and TCP headers, ready for AnnotatedPacket
// construction in the flow package.
type ParsedPacket struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte

	IP  *IPv4Header
	TCP tcp.TCPHeaderGo

	Options tcp.Options

	payloadOffset int
}

// Parse decodes the Ethernet, IPv4, and TCP headers out of data. Any packet
// that isn't IPv4-over-Ethernet carrying TCP returns an error; the caller
// is expected to skip the frame and keep going (see the capture driver).
func Parse(ci gopacket.CaptureInfo, data []byte) (*ParsedPacket, error) {
	if len(data) < EthernetHeaderSize {
		return nil, ErrTruncatedEthernetHeader
	}
	eth := (*EthernetHeader)(unsafe.Pointer(&data[0]))
	if eth.EtherType() != layers.EthernetTypeIPv4 {
		return nil, ErrNotIPv4
	}

	if len(data) < EthernetHeaderSize+IPv4HeaderSize {
		return nil, ErrTruncatedIPHeader
	}
	ip := (*IPv4Header)(unsafe.Pointer(&data[EthernetHeaderSize]))
	if ip.Version() != 4 {
		return nil, ErrNotIPv4
	}
	if ip.NextProtocol() != layers.IPProtocolTCP {
		return nil, ErrNotTCP
	}

	ipStart := EthernetHeaderSize
	tcpStart := ipStart + ip.HeaderLength()
	if len(data) < tcpStart {
		return nil, ErrTruncatedIPHeader
	}

	p := &ParsedPacket{
		CaptureInfo: ci,
		Data:        data,
		IP:          ip,
	}
	if err := tcp.WrapTCP(data[tcpStart:], &p.TCP); err != nil {
		return nil, err
	}

	options, err := tcp.ParseTCPOptions(data[tcpStart+tcp.TCPHeaderSize : tcpStart+p.TCP.HeaderLen()])
	if err != nil {
		return nil, err
	}
	p.Options = options
	p.payloadOffset = tcpStart + p.TCP.HeaderLen()
	return p, nil
}

// PayloadLength returns the number of TCP payload bytes carried by this
// packet, derived from the IP total length rather than the captured frame
// length: a frame padded to the Ethernet minimum (e.g. a bare ACK) carries
// trailing bytes past the IP payload that must not be counted as data.
func (p *ParsedPacket) PayloadLength() int {
	return p.IP.PayloadLength() - p.TCP.HeaderLen()
}

// Payload returns the TCP payload bytes of this packet.
func (p *ParsedPacket) Payload() []byte {
	return p.Data[p.payloadOffset:]
}
