package conv

import "twiengine/errcode"

// ParseUint parses s as an unsigned number of at most bits bits. The base is
// taken from the prefix: 0x/0X hex, 0b/0B binary, 0o/0O octal, else decimal.
// It works the same on host and MCU builds and never allocates.
func ParseUint(s string, bits int) (uint64, error) {
	base := uint64(10)
	if len(s) >= 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			base, s = 16, s[2:]
		case 'b', 'B':
			base, s = 2, s[2:]
		case 'o', 'O':
			base, s = 8, s[2:]
		}
	}
	if len(s) == 0 || bits <= 0 || bits > 64 {
		return 0, errcode.InvalidParams
	}
	limit := ^uint64(0) >> (64 - bits)
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case '0' <= c && c <= '9':
			d = uint64(c - '0')
		case 'a' <= c && c <= 'f':
			d = uint64(c-'a') + 10
		case 'A' <= c && c <= 'F':
			d = uint64(c-'A') + 10
		case c == '_':
			continue
		default:
			return 0, errcode.InvalidParams
		}
		if d >= base || v > (limit-d)/base {
			return 0, errcode.InvalidParams
		}
		v = v*base + d
	}
	return v, nil
}

// ParseUint8 is ParseUint(s, 8) narrowed to a byte.
func ParseUint8(s string) (uint8, error) {
	v, err := ParseUint(s, 8)
	return uint8(v), err
}
