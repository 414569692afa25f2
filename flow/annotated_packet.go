// Package flow reconstructs per-direction TCP state (retransmissions, SACK
// bookkeeping, RTT, and request/response segmentation) from the parsed
// packets the tcpip package produces.
package flow

import (
	"net"

	"github.com/google/gopacket/layers"

	"github.com/USC-NSL/policing-detection/internal/nano"
	"github.com/USC-NSL/policing-detection/tcp"
	"github.com/USC-NSL/policing-detection/tcpip"
)

// AnnotatedPacket is one on-the-wire TCP segment, enriched with capture
// timing, relative sequence/ack numbers, and the cross-links an endpoint
// maintains while reconstructing a flow. Packets own no other packets:
// Rtx, PreviousTx, and PreviousPacket are back-references into the
// endpoint's own Packets slice, not an ownership graph.
type AnnotatedPacket struct {
	Packet      *tcpip.ParsedPacket
	Payload     []byte
	TimestampUs nano.UnixMicro
	Index       int

	AckDelayMs float64
	AckIndex   int

	Rtx           *AnnotatedPacket
	RtxIsSpurious bool
	PreviousTx    *AnnotatedPacket
	PreviousPacket *AnnotatedPacket

	DataLen int
	Seq     tcp.SeqNum
	SeqEnd  tcp.SeqNum
	Ack     tcp.SeqNum

	// SeqRelative and AckRelative are -1 until the owning endpoint learns
	// its initial sequence numbers.
	SeqRelative int64
	AckRelative int64

	// BytesPassed is -1 until PostProcess runs.
	BytesPassed int64
}

// NewAnnotatedPacket builds the per-packet record for one parsed frame,
// assigning it the given capture timestamp (microseconds) and monotonic
// capture index.
func NewAnnotatedPacket(p *tcpip.ParsedPacket, timestampUs nano.UnixMicro, index int) *AnnotatedPacket {
	dataLen := p.PayloadLength()
	seq := p.TCP.SeqNum
	return &AnnotatedPacket{
		Packet:      p,
		Payload:     p.Payload(),
		TimestampUs: timestampUs,
		Index:       index,
		AckDelayMs:  -1,
		AckIndex:    -1,
		DataLen:     dataLen,
		Seq:         seq,
		SeqEnd:      tcp.AddOffset(seq, uint32(dataLen)),
		Ack:         p.TCP.AckNum,
		SeqRelative: -1,
		AckRelative: -1,
		BytesPassed: -1,
	}
}

// IsLost reports whether this packet was retransmitted and the
// retransmission was not later revealed to be spurious by a DSACK.
func (p *AnnotatedPacket) IsLost() bool {
	return p.Rtx != nil && !p.RtxIsSpurious
}

func (p *AnnotatedPacket) Flags() tcp.Flags        { return p.Packet.TCP.Flags }
func (p *AnnotatedPacket) SrcPort() layers.TCPPort { return p.Packet.TCP.SrcPort }
func (p *AnnotatedPacket) DstPort() layers.TCPPort { return p.Packet.TCP.DstPort }
func (p *AnnotatedPacket) Options() tcp.Options    { return p.Packet.Options }
func (p *AnnotatedPacket) SrcIP() net.IP           { return p.Packet.IP.SrcIP() }
func (p *AnnotatedPacket) DstIP() net.IP           { return p.Packet.IP.DstIP() }

// splitIntoWirePackets splits p into on-the-wire-sized chunks when its
// payload exceeds mss (a "jumbo" frame produced by segmentation offload).
// Sequence numbers and payload slices are contiguous across the chunks;
// every other header field is shared with p.
func splitIntoWirePackets(p *AnnotatedPacket, mss int) []*AnnotatedPacket {
	if mss <= 0 || p.DataLen <= mss {
		return []*AnnotatedPacket{p}
	}

	var wire []*AnnotatedPacket
	offset := 0
	for offset < p.DataLen {
		chunkLen := mss
		if p.DataLen-offset < chunkLen {
			chunkLen = p.DataLen - offset
		}

		chunk := *p
		chunk.DataLen = chunkLen
		chunk.Seq = tcp.AddOffset(p.Seq, uint32(offset))
		chunk.SeqEnd = tcp.AddOffset(chunk.Seq, uint32(chunkLen))
		switch {
		case offset >= len(p.Payload):
			chunk.Payload = nil
		default:
			end := offset + chunkLen
			if end > len(p.Payload) {
				end = len(p.Payload)
			}
			chunk.Payload = p.Payload[offset:end]
		}

		wire = append(wire, &chunk)
		offset += chunkLen
	}
	return wire
}
