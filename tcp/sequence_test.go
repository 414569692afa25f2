package tcp_test

import (
	"testing"

	"github.com/USC-NSL/policing-detection/tcp"
)

func TestAfterBefore(t *testing.T) {
	tests := []struct {
		name         string
		first        tcp.SeqNum
		second       tcp.SeqNum
		wantAfter    bool
		wantBefore   bool
	}{
		{"simple greater", 100, 50, true, false},
		{"simple lesser", 50, 100, false, true},
		{"equal", 50, 50, false, false},
		{"wraps forward", 10, 0xFFFFFFF0, true, false},
		{"wraps backward", 0xFFFFFFF0, 10, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tcp.After(tt.first, tt.second); got != tt.wantAfter {
				t.Errorf("After(%d, %d) = %v, want %v", tt.first, tt.second, got, tt.wantAfter)
			}
			if got := tcp.Before(tt.first, tt.second); got != tt.wantBefore {
				t.Errorf("Before(%d, %d) = %v, want %v", tt.first, tt.second, got, tt.wantBefore)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	if !tcp.Between(50, 0, 100) {
		t.Error("expected 50 to be between 0 and 100")
	}
	if tcp.Between(150, 0, 100) {
		t.Error("expected 150 not to be between 0 and 100")
	}
	// wraparound: middle sits between a high start and a wrapped-low end
	if !tcp.Between(10, 0xFFFFFFF0, 20) {
		t.Error("expected 10 to be between 0xFFFFFFF0 and 20 across wraparound")
	}
}

func TestRangeIncluded(t *testing.T) {
	tests := []struct {
		name                                           string
		firstStart, firstEnd, secondStart, secondEnd   tcp.SeqNum
		want                                           bool
	}{
		{"fully included", 10, 20, 0, 100, true},
		{"matches bounds exactly", 0, 100, 0, 100, true},
		{"extends past end", 90, 110, 0, 100, false},
		{"starts before", -10 & 0xFFFFFFFF /* wraps to huge SeqNum */, 20, 0, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tcp.RangeIncluded(tt.firstStart, tt.firstEnd, tt.secondStart, tt.secondEnd); got != tt.want {
				t.Errorf("RangeIncluded(%d, %d, %d, %d) = %v, want %v",
					tt.firstStart, tt.firstEnd, tt.secondStart, tt.secondEnd, got, tt.want)
			}
		})
	}
}

func TestAddSubtractOffset(t *testing.T) {
	if got := tcp.AddOffset(0xFFFFFFFE, 4); got != 2 {
		t.Errorf("AddOffset wraparound = %d, want 2", got)
	}
	if got := tcp.SubtractOffset(2, 4); got != 0xFFFFFFFE {
		t.Errorf("SubtractOffset wraparound = %d, want 0xFFFFFFFE", got)
	}
	if got := tcp.AddOffset(10, 5); got != 15 {
		t.Errorf("AddOffset = %d, want 15", got)
	}
}
