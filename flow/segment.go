package flow

// SplitIntoSegments splits a flow into request/response segments: a
// segment holds zero or more data packets from endpoint A followed by
// zero or more from endpoint B; a new data packet from A after B has sent
// data starts a new segment. Non-data packets attach to the current
// segment without opening a new one, and are silently dropped if no
// segment has seen a data packet yet (mirroring the reference splitter,
// which only opens the first segment lazily on the flow's first packet).
func SplitIntoSegments(f *Flow) []*Flow {
	var segments []*Flow
	if len(f.Packets) == 0 {
		return segments
	}

	currentSender := f.EndpointA
	currentSegment := NewFlow(f.Packets[0])
	segments = append(segments, currentSegment)

	for _, p := range f.Packets {
		if p.DataLen == 0 {
			if len(currentSegment.Packets) > 0 {
				currentSegment.AddPacket(p, false)
			}
			continue
		}

		if !(currentSender.IP.Equal(p.SrcIP()) && currentSender.Port == p.SrcPort()) {
			if currentSender == f.EndpointA {
				currentSender = f.EndpointB
			} else {
				currentSender = f.EndpointA
				currentSegment = NewFlow(p)
				segments = append(segments, currentSegment)
			}
		}
		currentSegment.AddPacket(p, false)
	}
	return segments
}
