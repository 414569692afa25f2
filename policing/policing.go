// Package policing simulates a token bucket over a reconstructed TCP
// endpoint's packet history to decide whether a traffic policer is
// dropping its packets, and if so, estimates the policer's rate and burst
// allowance.
package policing

import (
	"fmt"
	"math"

	"github.com/USC-NSL/policing-detection/flow"
	"github.com/USC-NSL/policing-detection/tcp"
)

// Result codes returned by GetPolicingParamsForEndpoint.
const (
	// ResultOK means all conditions for policing detection were met.
	ResultOK = 0
	// ResultInsufficientLoss means the trace did not have enough loss
	// (either in absolute sample count, or in RTT slices with loss).
	ResultInsufficientLoss = 1
	// ResultLateLoss means the first loss appeared too late in the connection.
	ResultLateLoss = 2
	// ResultNegativeFill means the estimated token bucket fill would be
	// negative at the start of the connection.
	ResultNegativeFill = 3
	// ResultHigherFillOnLoss means the estimated fill was higher on loss
	// than on pass, the opposite of what a policer would produce.
	ResultHigherFillOnLoss = 4
	// ResultLossFillOutOfRange means the bucket was not (nearly) empty on
	// loss often enough.
	ResultLossFillOutOfRange = 5
	// ResultPassFillOutOfRange means the bucket was (nearly) empty on pass
	// too often.
	ResultPassFillOutOfRange = 6
	// ResultInflatedRTT means a significant fraction of losses were
	// preceded by inflated RTTs, suggesting congestion rather than policing.
	ResultInflatedRTT = 7
)

const (
	// minNumSamples is the minimum number of samples (data points) for each
	// loss/pass category to enable detection of policing with confidence.
	minNumSamples = 15

	// minNumSlicesWithLoss is the minimum number of RTT slices seeing loss
	// to enable detection of policing with confidence.
	minNumSlicesWithLoss = 3

	// lateLossThreshold is the maximum relative sequence number acceptable
	// for the first loss.
	lateLossThreshold = 2e6

	// zeroThresholdLossRTTMultiplier and zeroThresholdPassRTTMultiplier are
	// the number of RTTs used to compute the tokens allowed in the bucket
	// when observing packet loss (or a pass) to infer policing. The
	// allowed fill level is the estimated policing rate times a multiple
	// of the median RTT.
	zeroThresholdLossRTTMultiplier = 2.00
	zeroThresholdPassRTTMultiplier = 0.75

	// zeroThresholdLossOutOfRange and zeroThresholdPassOutOfRange are the
	// fraction of cases allowed to have a token count outside the expected
	// range on loss/pass, respectively.
	zeroThresholdLossOutOfRange = 0.10
	zeroThresholdPassOutOfRange = 0.03

	// inflatedRTTPercentile is the percentile of the RTT samples used to
	// compute the inflation threshold.
	inflatedRTTPercentile = 10

	// inflatedRTTThreshold is the fraction of the Xth percentile RTT
	// beyond which an RTT sample is considered inflated.
	inflatedRTTThreshold = 1.3

	// inflatedRTTTolerance is the fraction of cases allowed to have
	// inflated RTTs without ruling out a policer presence.
	inflatedRTTTolerance = 0.2
)

// Params is the result of running the detector on one endpoint: a result
// code and, only when the code is ResultOK, the estimated policing rate
// and burst size.
type Params struct {
	ResultCode     int
	PolicingRateBps float64
	BurstSize       int64
}

// String reproduces the original detector's repr format verbatim, since
// the CSV output depends on it character for character.
func (p Params) String() string {
	if p.ResultCode == ResultOK {
		return fmt.Sprintf("[code %d, %d bps, %d bytes burst]", p.ResultCode, int64(p.PolicingRateBps), p.BurstSize)
	}
	return fmt.Sprintf("[code %d, null, null]", p.ResultCode)
}

// IsPolicedForEndpoint reports whether the endpoint is affected by
// traffic policing, per GetPolicingParamsForEndpoint with the given cutoff.
func IsPolicedForEndpoint(endpoint *flow.Endpoint, cutoff int) bool {
	return GetPolicingParamsForEndpoint(endpoint, cutoff).ResultCode == ResultOK
}

// GetPolicingParams computes the policing parameters for one direction of
// f (fromA selects endpoint A vs. endpoint B as the data sender).
func GetPolicingParams(f *flow.Flow, fromA bool, cutoff int) Params {
	if fromA {
		return GetPolicingParamsForEndpoint(f.EndpointA, cutoff)
	}
	return GetPolicingParamsForEndpoint(f.EndpointB, cutoff)
}

// IsPoliced reports whether f is affected by traffic policing in the
// given direction.
func IsPoliced(f *flow.Flow, fromA bool, cutoff int) bool {
	return GetPolicingParams(f, fromA, cutoff).ResultCode == ResultOK
}

// GetPolicingParamsForEndpoint computes the parameters of the policer
// affecting the data this endpoint transmitted. cutoff is the number of
// lost packets to ignore at the start and end of the loss window when
// determining the boundaries used for rate computation and detection.
func GetPolicingParamsForEndpoint(endpoint *flow.Endpoint, cutoff int) Params {
	// Stage 1: find the loss window.
	firstLoss, lastLoss, firstLossNoSkip := findLossWindow(endpoint, cutoff)
	if firstLoss == nil || lastLoss == nil {
		return Params{ResultCode: ResultInsufficientLoss}
	}
	if firstLoss.SeqRelative > lateLossThreshold {
		return Params{ResultCode: ResultLateLoss}
	}

	// Stage 2: rate, burst, and y-intercept.
	rateBps := goodputForRange(endpoint, firstLoss, lastLoss)

	medianRTTUs := endpoint.MedianRTTMs(false) * 1000
	lossZeroThreshold := zeroThresholdLossRTTMultiplier * medianRTTUs * rateBps / 8e6
	passZeroThreshold := zeroThresholdPassRTTMultiplier * medianRTTUs * rateBps / 8e6

	firstPacket := endpoint.Packets[0]
	yIntercept := float64(firstLoss.SeqRelative) -
		rateBps*float64(firstLoss.TimestampUs.Sub(firstPacket.TimestampUs))/8e6
	if yIntercept < -passZeroThreshold {
		return Params{ResultCode: ResultNegativeFill}
	}

	// Stage 3: simulate the token bucket.
	sim := simulate(endpoint, firstLoss, firstLossNoSkip, rateBps, medianRTTUs)

	// Stage 4: verdict.
	if sim.slicesWithLoss < minNumSlicesWithLoss {
		return Params{ResultCode: ResultInsufficientLoss}
	}
	if len(sim.tokensOnLoss) < minNumSamples || len(sim.tokensOnPass) < minNumSamples {
		return Params{ResultCode: ResultInsufficientLoss}
	}

	if tcp.Mean(sim.tokensOnLoss) >= tcp.Mean(sim.tokensOnPass) ||
		tcp.Median(sim.tokensOnLoss) >= tcp.Median(sim.tokensOnPass) {
		return Params{ResultCode: ResultHigherFillOnLoss}
	}

	medianTokensOnLoss := tcp.Median(sim.tokensOnLoss)
	outOfRange := 0
	for _, tokens := range sim.tokensOnLoss {
		if math.Abs(tokens-medianTokensOnLoss) > lossZeroThreshold {
			outOfRange++
		}
	}
	if float64(len(sim.tokensOnLoss))*zeroThresholdLossOutOfRange < float64(outOfRange) {
		return Params{ResultCode: ResultLossFillOutOfRange}
	}

	outOfRange = 0
	for _, tokens := range sim.tokensOnPass {
		if tokens-medianTokensOnLoss < -passZeroThreshold {
			outOfRange++
		}
	}
	if float64(len(sim.tokensOnPass))*zeroThresholdPassOutOfRange < float64(outOfRange) {
		return Params{ResultCode: ResultPassFillOutOfRange}
	}

	rttThreshold := inflatedRTTTolerance * float64(sim.allRTTCount)
	if float64(sim.inflatedRTTCount) > rttThreshold {
		return Params{ResultCode: ResultInflatedRTT}
	}

	return Params{ResultCode: ResultOK, PolicingRateBps: rateBps, BurstSize: sim.burstSize}
}

// findLossWindow scans forward for the first loss (after skipping cutoff
// losses) and backward (up to, not through, that packet) for the
// cutoff-th loss from the end.
func findLossWindow(endpoint *flow.Endpoint, cutoff int) (firstLoss, lastLoss, firstLossNoSkip *flow.AnnotatedPacket) {
	skipped := 0
	for _, p := range endpoint.Packets {
		if !p.IsLost() {
			continue
		}
		if firstLossNoSkip == nil {
			firstLossNoSkip = p
		}
		if cutoff == skipped {
			firstLoss = p
			break
		}
		skipped++
	}
	if firstLoss == nil {
		return nil, nil, firstLossNoSkip
	}

	skipped = 0
	for i := len(endpoint.Packets) - 1; i >= 0; i-- {
		p := endpoint.Packets[i]
		if p == firstLoss {
			break
		}
		if !p.IsLost() {
			continue
		}
		if cutoff == skipped {
			lastLoss = p
			break
		}
		skipped++
	}
	return firstLoss, lastLoss, firstLossNoSkip
}

// goodputForRange computes the goodput (bits per second) achieved between
// two specific packets. The denominator spans the two packets' timestamps
// inclusive of lastPacket; the numerator sums only non-lost packets
// strictly between them, excluding lastPacket itself.
func goodputForRange(endpoint *flow.Endpoint, firstPacket, lastPacket *flow.AnnotatedPacket) float64 {
	if firstPacket == lastPacket || firstPacket.TimestampUs == lastPacket.TimestampUs {
		return 0
	}

	var byteCount int64
	seenFirst := false
	for _, p := range endpoint.Packets {
		if p == lastPacket {
			break
		}
		if p == firstPacket {
			seenFirst = true
		}
		if !seenFirst {
			continue
		}
		if !p.IsLost() {
			byteCount += int64(p.DataLen)
		}
	}

	timeUs := lastPacket.TimestampUs.Sub(firstPacket.TimestampUs)
	return float64(byteCount) * 8 * 1e6 / float64(timeUs)
}
