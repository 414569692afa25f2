package nano

import "time"

// UnixMicro is a Unix timestamp in microseconds, the granularity the
// policing detector's sequence-number and token-bucket math is defined in.
type UnixMicro int64

// FromTime converts a capture timestamp to UnixMicro.
func FromTime(t time.Time) UnixMicro {
	return UnixMicro(t.UnixNano() / 1000)
}

// Sub returns other subtracted from t, in microseconds.
func (t UnixMicro) Sub(other UnixMicro) int64 {
	return int64(t - other)
}
