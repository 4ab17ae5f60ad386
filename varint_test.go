package extsort

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 2, 127, 128, 129, 16383, 16384,
		1 << 20, 1 << 28, 1 << 35, 1 << 49, 1 << 55,
		1<<56 - 1, 1 << 56, 1<<63 - 1, 1 << 63,
		^uint64(0),
	}
	for _, v := range values {
		var buf [maxVarintLen]byte
		n := putVarint(buf[:], v)
		if n != varintLen(v) {
			t.Errorf("varintLen(%d) = %d, putVarint wrote %d bytes", v, varintLen(v), n)
		}
		if n < 1 || n > maxVarintLen {
			t.Fatalf("putVarint(%d) wrote %d bytes, want 1..%d", v, n, maxVarintLen)
		}
		got, used := getVarint(buf[:n])
		if used != n {
			t.Fatalf("getVarint consumed %d bytes, want %d", used, n)
		}
		if got != v {
			t.Fatalf("round trip: got %d, want %d", got, v)
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	var buf [maxVarintLen]byte
	n := putVarint(buf[:], 1<<40)
	for i := 0; i < n; i++ {
		if _, used := getVarint(buf[:i]); used != 0 {
			t.Fatalf("getVarint on %d of %d bytes: got used=%d, want 0", i, n, used)
		}
	}
}

func TestVarintSingleByteRange(t *testing.T) {
	for v := uint64(0); v < 0x80; v++ {
		if got := varintLen(v); got != 1 {
			t.Fatalf("varintLen(%d) = %d, want 1", v, got)
		}
	}
	if got := varintLen(0x80); got != 2 {
		t.Fatalf("varintLen(0x80) = %d, want 2", got)
	}
}
