package tcp

// SeqNum is a TCP sequence (or acknowledgment) number: 32 bits, wrapping.
type SeqNum uint32

// diff returns first-second as a signed delta, the same int32(a-b) idiom
// m-lab/etl's Tracker uses to detect retransmits, generalized here to
// drive all of the wraparound-aware comparisons below.
func (first SeqNum) diff(second SeqNum) int32 {
	return int32(first - second)
}

// After reports whether first comes after second in 32-bit sequence space
// with wraparound, i.e. the window is assumed to be under 2^31.
func After(first, second SeqNum) bool {
	return first.diff(second) > 0
}

// Before reports whether first comes before second.
func Before(first, second SeqNum) bool {
	return After(second, first)
}

// Between reports whether middle falls strictly between first and second.
func Between(middle, first, second SeqNum) bool {
	return Before(first, middle) && After(second, middle)
}

// RangeIncluded reports whether [firstStart, firstEnd] is contained within
// [secondStart, secondEnd].
func RangeIncluded(firstStart, firstEnd, secondStart, secondEnd SeqNum) bool {
	startOK := firstStart == secondStart || Between(firstStart, secondStart, secondEnd)
	endOK := firstEnd == secondEnd || Between(firstEnd, secondStart, secondEnd)
	return startOK && endOK
}

// AddOffset adds offset to seq, wrapping at 2^32.
func AddOffset(seq SeqNum, offset uint32) SeqNum {
	return seq + SeqNum(offset)
}

// SubtractOffset subtracts offset from seq, wrapping at 2^32.
func SubtractOffset(seq SeqNum, offset uint32) SeqNum {
	return seq - SeqNum(offset)
}
