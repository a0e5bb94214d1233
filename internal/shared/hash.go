package shared

const hashMask = 0x7FFFFFFF

// Hash33 derives the 31-bit token the login pages compute from cookie values
// (ptqrtoken from qrsig, g_tk from p_skey).
//
// The accumulator starts at seed and for every rune c becomes ((h << 5) & mask) + h + c;
// the result is masked to 31 bits.
func Hash33(s string, seed uint32) uint32 {
	h := uint64(seed)
	for _, c := range s {
		h = ((h << 5) & hashMask) + h + uint64(c)
	}
	return uint32(h & hashMask)
}
