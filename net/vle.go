package net

// VleEncode returns the value as a VLE encoded in a []byte
func VleEncode(value int) []byte {
	return VleAppend(nil, value)
}

// VleAppend appends the VLE encoding of value to buf and returns the extended buffer.
func VleAppend(buf []byte, value int) []byte {
	for value > 0x7f {
		c := (byte)((value & 0x7f) | 0x80)
		buf = append(buf, c)
		value = value >> 7
	}
	return append(buf, (byte)(value))
}

// VleSize returns the number of bytes needed to VLE encode value.
func VleSize(value int) int {
	n := 1
	for value > 0x7f {
		value = value >> 7
		n++
	}
	return n
}

// VleDecode returns the int value decoded from a VLE encoded in a []byte.
// It panics if buf is truncated, use VleDecodeChecked for untrusted input.
func VleDecode(buf []byte) (int, []byte) {
	value, rest, err := VleDecodeChecked(buf)
	if err != nil {
		panic(err.Error())
	}
	return value, rest
}

// VleDecodeChecked returns the int value decoded from a VLE encoded in a []byte,
// or an error if buf ends in the middle of the encoding.
func VleDecodeChecked(buf []byte) (int, []byte, error) {
	var value, c int
	var i, j uint
	for ok := true; ok; ok = (c > 0x7f) {
		if int(j) >= len(buf) || i > 63 {
			return 0, buf, &ZNError{"truncated VLE encoding", ErrCodeFrame}
		}
		c = (int)(buf[j] & 0xff)
		value = value | ((c & 0x7f) << i)
		i += 7
		j++
	}
	return value, buf[j:], nil
}
