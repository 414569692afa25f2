package flow

import (
	"net"

	"github.com/google/gopacket/layers"

	"github.com/USC-NSL/policing-detection/tcp"
)

// Endpoint reconstructs the state of one direction of a TCP connection:
// the packets it transmitted, which of them are still unacked, sequence
// number bookkeeping, and MSS.
type Endpoint struct {
	IP   net.IP
	Port layers.TCPPort
	MSS  int

	Packets        []*AnnotatedPacket
	UnackedPackets []*AnnotatedPacket
	NumDataPackets int

	SeqAcked tcp.SeqNum
	SeqNext  tcp.SeqNum
	Ack      tcp.SeqNum
	SeqInit  tcp.SeqNum
	AckInit  tcp.SeqNum

	haveSeq        bool
	haveAck        bool
	SeqInitialized bool

	medianRTTMs   float64
	haveMedianRTT bool
}

// NewEndpoint builds the endpoint that is the source (useSource) or
// destination of first, the flow's first packet.
func NewEndpoint(first *AnnotatedPacket, useSource bool) *Endpoint {
	e := &Endpoint{MSS: -1}
	if useSource {
		e.IP = first.SrcIP()
		e.Port = first.SrcPort()
	} else {
		e.IP = first.DstIP()
		e.Port = first.DstPort()
		e.MSS = first.Options().MSS()
	}
	e.setInitialSequenceNumbers(first, useSource)
	return e
}

// setInitialSequenceNumbers learns seq_init/ack_init from p, once the
// packet carries enough information (a relevant ACK flag or role).
// Relative sequence and ACK numbers start at 1.
func (e *Endpoint) setInitialSequenceNumbers(p *AnnotatedPacket, useSource bool) {
	ackFlagSet := p.Flags().ACK()

	if !e.haveSeq {
		switch {
		case useSource:
			e.SeqAcked, e.SeqNext = p.Seq, p.Seq
			e.haveSeq = true
		case ackFlagSet:
			e.SeqAcked, e.SeqNext = p.Ack, p.Ack
			e.haveSeq = true
		}
		if e.haveSeq {
			e.SeqInit = tcp.SubtractOffset(e.SeqNext, 1)
		}
	}

	if !e.haveAck {
		switch {
		case useSource && ackFlagSet:
			e.Ack = p.Ack
			e.haveAck = true
		case !useSource:
			e.Ack = p.Seq
			e.haveAck = true
		}
		if e.haveAck {
			e.AckInit = tcp.SubtractOffset(e.Ack, 1)
		}
	}

	if e.haveSeq && e.haveAck {
		e.SeqInitialized = true
	}
}

// AddPacket adds a packet transmitted by this endpoint. If process is
// true, p is split into wire-sized packets (using a learned or estimated
// MSS) and its internal state (unacked queue, retransmission tagging) is
// updated; otherwise p is appended unsplit, without unacked-queue or
// retransmission bookkeeping, the mode segment splitting uses. In both
// modes the packet's relative seq/ack numbers and PreviousPacket link are
// set against this endpoint. Returns the on-the-wire packets appended.
func (e *Endpoint) AddPacket(p *AnnotatedPacket, process bool) []*AnnotatedPacket {
	if !e.SeqInitialized {
		e.setInitialSequenceNumbers(p, true)
	}
	if process && e.MSS == -1 {
		if p.Flags().SYN() {
			e.MSS = p.Options().MSS()
		} else {
			e.MSS = mssEstimate(p)
		}
	}

	var wirePackets []*AnnotatedPacket
	if process {
		wirePackets = splitIntoWirePackets(p, e.MSS)
	} else {
		wirePackets = []*AnnotatedPacket{p}
	}

	for _, pkt := range wirePackets {
		pkt.SeqRelative = int64(tcp.SubtractOffset(pkt.Seq, e.SeqInit))
		pkt.AckRelative = int64(tcp.SubtractOffset(pkt.Ack, e.AckInit))
		if len(e.Packets) > 0 {
			pkt.PreviousPacket = e.Packets[len(e.Packets)-1]
		}

		if pkt.SeqEnd != pkt.Seq && process {
			if tcp.After(pkt.SeqEnd, e.SeqNext) {
				e.SeqNext = pkt.SeqEnd
			} else {
				e.findPreviousTx(pkt)
			}
			e.UnackedPackets = append(e.UnackedPackets, pkt)
		}
		e.Packets = append(e.Packets, pkt)
		if pkt.DataLen > 0 {
			e.NumDataPackets++
		}
	}
	return wirePackets
}

// findPreviousTx looks for the most recent packet carrying (at least) the
// same starting sequence number as p and marks it as p's prior transmission.
func (e *Endpoint) findPreviousTx(p *AnnotatedPacket) {
	for i := len(e.Packets) - 1; i >= 0; i-- {
		prev := e.Packets[i]
		if prev.Seq == p.Seq || tcp.Between(p.Seq, prev.Seq, prev.SeqEnd) {
			prev.Rtx = p
			p.PreviousTx = prev
			return
		}
	}
}

// ProcessAck processes the ACK and any SACK/DSACK blocks carried by p.
func (e *Endpoint) ProcessAck(p *AnnotatedPacket) {
	sacks := p.Options().SACKs()

	if tcp.After(p.Ack, e.SeqAcked) {
		e.SeqAcked = p.Ack
		e.ackPackets(p, sacks)
	} else if len(sacks) > 0 {
		e.ackPackets(p, sacks)
	}

	if len(sacks) > 0 {
		e.dsackPackets(p, sacks)
	}
}

// ackPackets retires unacked packets that are now covered by the
// cumulative ACK or by a SACK block.
func (e *Endpoint) ackPackets(ackPacket *AnnotatedPacket, sacks []tcp.SackBlock) {
	remaining := e.UnackedPackets[:0]
	for _, up := range e.UnackedPackets {
		if !tcp.After(up.SeqEnd, e.SeqAcked) || isSacked(up, sacks) {
			setAckParams(up, ackPacket)
		} else {
			remaining = append(remaining, up)
		}
	}
	e.UnackedPackets = remaining
}

// dsackPackets marks the packets covered by a DSACK range (a SACK block
// below the cumulative ACK) as spurious retransmissions.
func (e *Endpoint) dsackPackets(ackPacket *AnnotatedPacket, sacks []tcp.SackBlock) {
	ack := ackPacket.Ack
	for _, sb := range sacks {
		if tcp.Before(sb.Left, ack) && !tcp.After(sb.Right, ack) {
			e.handleSpuriousRtx(sb.Left, sb.Right)
		}
	}
}

// handleSpuriousRtx finds the most recent retransmitted packet whose range
// is covered by [seqStart, seqEnd) and tags it spurious.
func (e *Endpoint) handleSpuriousRtx(seqStart, seqEnd tcp.SeqNum) {
	for i := len(e.Packets) - 1; i >= 0; i-- {
		pkt := e.Packets[i]
		if pkt.Rtx != nil && tcp.RangeIncluded(pkt.Seq, pkt.SeqEnd, seqStart, seqEnd) {
			pkt.RtxIsSpurious = true
			return
		}
	}
}

// MedianRTTMs returns the median ACK delay over non-retransmitted packets,
// memoized unless recompute is set.
func (e *Endpoint) MedianRTTMs(recompute bool) float64 {
	if !e.haveMedianRTT || recompute {
		var rtts []float64
		for _, p := range e.Packets {
			if p.Rtx == nil && p.AckDelayMs != -1 {
				rtts = append(rtts, p.AckDelayMs)
			}
		}
		e.medianRTTMs = tcp.Median(rtts)
		e.haveMedianRTT = true
	}
	return e.medianRTTMs
}

// NumLosses counts the packets this endpoint sent that are considered lost.
func (e *Endpoint) NumLosses() int {
	n := 0
	for _, p := range e.Packets {
		if p.IsLost() {
			n++
		}
	}
	return n
}

// SetPassedBytesForPackets computes, for every packet, the number of bytes
// already successfully delivered before it was transmitted.
func (e *Endpoint) SetPassedBytesForPackets() {
	var numBytes int64
	for _, p := range e.Packets {
		p.BytesPassed = numBytes
		if !p.IsLost() {
			numBytes += int64(p.DataLen)
		}
	}
}

func isSacked(p *AnnotatedPacket, sacks []tcp.SackBlock) bool {
	for _, sb := range sacks {
		if tcp.RangeIncluded(p.Seq, p.SeqEnd, sb.Left, sb.Right) {
			return true
		}
	}
	return false
}

func setAckParams(p, ack *AnnotatedPacket) {
	p.AckIndex = ack.Index
	p.AckDelayMs = float64(ack.TimestampUs.Sub(p.TimestampUs)) / 1000.0
}

// mssEstimate guesses the MSS from a non-SYN packet's payload size,
// assuming it carries a whole multiple of the sender's MSS.
func mssEstimate(p *AnnotatedPacket) int {
	dataLen := p.DataLen
	if dataLen <= 500 {
		return -1
	}
	if dataLen <= 1460 {
		return dataLen
	}
	for multiplier := 2; multiplier < 10; multiplier++ {
		if dataLen%multiplier == 0 && dataLen/multiplier <= 1460 {
			return dataLen / multiplier
		}
	}
	return -1
}
