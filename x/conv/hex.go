package conv

const hexd = "0123456789ABCDEF"

// AppendHex8 appends "0x" and two uppercase hex digits of b.
func AppendHex8(dst []byte, b uint8) []byte {
	return append(dst, '0', 'x', hexd[b>>4], hexd[b&0xF])
}

// AppendHex16 appends "0x" and four uppercase hex digits of v.
func AppendHex16(dst []byte, v uint16) []byte {
	dst = append(dst, '0', 'x')
	for shift := 12; shift >= 0; shift -= 4 {
		dst = append(dst, hexd[(v>>uint(shift))&0xF])
	}
	return dst
}
