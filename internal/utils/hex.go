package utils

const hexd = "0123456789ABCDEF"

// BytesToHex converts a byte slice to an uppercase hexadecimal string
// without separators, e.g. for dumping radio frames in logs.
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}

// BytesToHexBlocks is like BytesToHex but separates every n bytes with a
// space, which keeps long frames readable.
func BytesToHexBlocks(b []byte, n int) string {
	if n <= 0 {
		return BytesToHex(b)
	}
	out := make([]byte, 0, len(b)*2+len(b)/n)
	for i, x := range b {
		if i > 0 && i%n == 0 {
			out = append(out, ' ')
		}
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}
