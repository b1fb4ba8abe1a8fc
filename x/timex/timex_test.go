package timex

import (
	"testing"
	"time"
)

func TestNowMs(t *testing.T) {
	before := time.Now().UnixMilli()
	now := NowMs()
	if now < before || now > time.Now().UnixMilli() {
		t.Fatalf("NowMs = %d outside [%d, now]", now, before)
	}
	if got := Ms(time.UnixMilli(1234)); got != 1234 {
		t.Fatalf("Ms = %d", got)
	}
}
