package services

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

var (
	signPart1Indexes = []int{23, 14, 6, 36, 16, 40, 7, 19}
	signPart2Indexes = []int{16, 1, 32, 12, 19, 27, 8, 5}
	signScramble     = []byte{89, 39, 179, 150, 218, 82, 58, 252, 177, 52, 186, 123, 120, 64, 242, 133, 143, 161, 121, 179}
)

var signStrip = strings.NewReplacer(`\`, "", "/", "", "+", "", "=", "")

// Sign computes the "sign" query parameter the encrypted endpoint expects for body.
func Sign(body []byte) string {
	sum := sha1.Sum(body)
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))

	var b strings.Builder
	b.WriteString("zzc")
	for _, i := range signPart1Indexes {
		if i < len(digest) {
			b.WriteByte(digest[i])
		}
	}

	scrambled := make([]byte, len(signScramble))
	for i, v := range signScramble {
		n, _ := strconv.ParseUint(digest[i*2:i*2+2], 16, 8)
		scrambled[i] = v ^ byte(n)
	}
	b.WriteString(signStrip.Replace(base64.StdEncoding.EncodeToString(scrambled)))

	for _, i := range signPart2Indexes {
		b.WriteByte(digest[i])
	}

	return strings.ToLower(b.String())
}
