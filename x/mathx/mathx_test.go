package mathx

import "testing"

func TestMergeExhaustive(t *testing.T) {
	for old := 0; old < 256; old++ {
		for data := 0; data < 256; data++ {
			for mask := 0; mask < 256; mask++ {
				got := Merge(uint8(old), uint8(data), uint8(mask))
				// bits outside mask come from old, inside from data
				for n := uint(0); n < 8; n++ {
					src := uint8(old)
					if HasBit(uint8(mask), n) {
						src = uint8(data)
					}
					if HasBit(got, n) != HasBit(src, n) {
						t.Fatalf("old=%#02x data=%#02x mask=%#02x: got %#02x", old, data, mask, got)
					}
				}
			}
		}
	}
}

func TestSetBit(t *testing.T) {
	v := SetBit(uint8(0), 3, true)
	if v != 0x08 {
		t.Fatalf("set: %#02x", v)
	}
	v = SetBit(uint8(0xFF), 7, false)
	if v != 0x7F {
		t.Fatalf("clear: %#02x", v)
	}
	if SetBit(uint16(0), 15, true) != 0x8000 {
		t.Fatal("u16 high bit")
	}
}

func TestBitHasBit(t *testing.T) {
	for n := uint(0); n < 16; n++ {
		v := Bit[uint16](n)
		if !HasBit(v, n) || v&(v-1) != 0 {
			t.Fatalf("Bit(%d) = %#04x", n, v)
		}
		if HasBit(^v, n) {
			t.Fatalf("HasBit(^%#04x, %d)", v, n)
		}
	}
}
