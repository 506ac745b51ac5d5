package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateFulfillmentCode builds the redemption code shown to the user for
// digital rewards: "SC" + base36 timestamp + 6 random characters.
func GenerateFulfillmentCode() string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))

	var sb strings.Builder
	sb.WriteString("SC")
	sb.WriteString(ts)
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			sb.WriteByte(codeAlphabet[time.Now().Nanosecond()%len(codeAlphabet)])
			continue
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String()
}
