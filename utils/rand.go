package utils

import (
	"crypto/rand"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits   = 10
)

// RandString returns n random characters for tags, branches and Call-IDs,
// digits only when isPureNumber is set.
func RandString(n int, isPureNumber bool) string {
	size := len(alphabet)
	if isPureNumber {
		size = digits
	}
	// 丢弃超出整倍数的字节, 避免取模偏差
	limit := byte(256 - 256%size)

	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2+1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%size])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
