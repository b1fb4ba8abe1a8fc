package mathx

import "golang.org/x/exp/constraints"

// Merge returns old with the bits selected by mask replaced by the
// corresponding bits of data: (old &^ mask) | (data & mask).
func Merge[T constraints.Unsigned](old, data, mask T) T {
	return (old &^ mask) | (data & mask)
}

// Bit returns a value with only bit n set.
func Bit[T constraints.Unsigned](n uint) T { return T(1) << n }

// SetBit sets or clears bit n of v.
func SetBit[T constraints.Unsigned](v T, n uint, on bool) T {
	if on {
		return v | Bit[T](n)
	}
	return v &^ Bit[T](n)
}

// HasBit reports whether bit n of v is set.
func HasBit[T constraints.Unsigned](v T, n uint) bool { return v&Bit[T](n) != 0 }
