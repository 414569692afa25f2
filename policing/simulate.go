package policing

import (
	"github.com/USC-NSL/policing-detection/flow"
	"github.com/USC-NSL/policing-detection/tcp"
)

// simResult holds the token-bucket simulation's per-packet accumulators,
// handed off to the stage-4 verdict.
type simResult struct {
	tokensOnLoss []float64
	tokensOnPass []float64

	burstSize        int64
	inflatedRTTCount int
	allRTTCount      int
	slicesWithLoss   int
}

// simulate iterates all of the endpoint's packets: it sums the burst size
// before firstLossNoSkip and collects RTT samples throughout, and from
// firstLoss onward replays a token bucket that fills at rateBps, collecting
// the token-availability samples stage 4 verdicts against.
func simulate(endpoint *flow.Endpoint, firstLoss, firstLossNoSkip *flow.AnnotatedPacket, rateBps, medianRTTUs float64) simResult {
	var sim simResult
	sim.slicesWithLoss = 1

	var tokensUsed float64
	var rtts []float64
	ignoreIndex := -1

	sliceEndUs := int64(firstLoss.TimestampUs) + int64(medianRTTUs)

	seenFirst := false
	seenFirstNoSkip := false

	for _, p := range endpoint.Packets {
		// Only sample ACK delay when there is no pending loss that could
		// introduce an out-of-order reception delay.
		if p.Rtx != nil {
			if p.AckIndex > ignoreIndex {
				ignoreIndex = p.AckIndex
			}
		}
		if p.Rtx == nil && p.AckDelayMs != -1 && p.Index > ignoreIndex {
			rtts = append(rtts, p.AckDelayMs)
		}

		if p == firstLoss {
			seenFirst = true
		}
		if p == firstLossNoSkip {
			seenFirstNoSkip = true
		}
		if !seenFirstNoSkip {
			sim.burstSize += int64(p.DataLen)
		}
		if !seenFirst {
			continue
		}

		tokensProduced := rateBps * float64(p.TimestampUs.Sub(firstLoss.TimestampUs)) / 1e6 / 8
		tokensAvailable := tokensProduced - tokensUsed

		if p.IsLost() {
			sim.tokensOnLoss = append(sim.tokensOnLoss, tokensAvailable)
			if len(rtts) > 1 {
				prev := rtts[len(rtts)-2]
				if prev >= tcp.Percentile(rtts, 50) &&
					prev > inflatedRTTThreshold*tcp.Percentile(rtts, inflatedRTTPercentile) &&
					prev >= 20 {
					sim.inflatedRTTCount++
				}
			}
			sim.allRTTCount++
			if int64(p.TimestampUs) > sliceEndUs {
				sliceEndUs = int64(p.TimestampUs) + int64(medianRTTUs)
				sim.slicesWithLoss++
			}
		} else {
			sim.tokensOnPass = append(sim.tokensOnPass, tokensAvailable)
			tokensUsed += float64(p.DataLen)
		}
	}
	return sim
}
