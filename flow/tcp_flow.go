package flow

// Flow pairs the two endpoints of a TCP connection and keeps their
// packets merged in arrival order.
type Flow struct {
	EndpointA *Endpoint
	EndpointB *Endpoint
	Packets   []*AnnotatedPacket
}

// NewFlow starts a flow from its first packet: EndpointA is the packet's
// source, EndpointB its destination.
func NewFlow(first *AnnotatedPacket) *Flow {
	return &Flow{
		EndpointA: NewEndpoint(first, true),
		EndpointB: NewEndpoint(first, false),
	}
}

// AddPacket routes p to whichever endpoint sent it, and to the other
// endpoint's ProcessAck if p carries an ACK and process is true.
func (f *Flow) AddPacket(p *AnnotatedPacket, process bool) {
	var sender, receiver *Endpoint
	if f.EndpointA.IP.Equal(p.SrcIP()) && f.EndpointA.Port == p.SrcPort() {
		sender, receiver = f.EndpointA, f.EndpointB
	} else {
		sender, receiver = f.EndpointB, f.EndpointA
	}

	wirePackets := sender.AddPacket(p, process)
	f.Packets = append(f.Packets, wirePackets...)

	if process && p.Flags().ACK() {
		receiver.ProcessAck(p)
	}
}

// PostProcess computes passed-byte counts for both endpoints. Call once
// all packets have been added.
func (f *Flow) PostProcess() {
	f.EndpointA.SetPassedBytesForPackets()
	f.EndpointB.SetPassedBytesForPackets()
}
