package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandString(t *testing.T) {
	s := RandString(32, false)
	assert.Len(t, s, 32)
	assert.Equal(t, -1, strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune(alphabet, r)
	}))
	assert.NotEqual(t, s, RandString(32, false))

	n := RandString(10, true)
	assert.Len(t, n, 10)
	assert.Equal(t, -1, strings.IndexFunc(n, func(r rune) bool { return r < '0' || r > '9' }))

	assert.Empty(t, RandString(0, true))
}

func TestGetLocalRealIp(t *testing.T) {
	ip, err := GetLocalRealIp()
	if err != nil {
		t.Skipf("no usable interface: %s", err)
	}
	assert.NotNil(t, ip.To4())
	assert.False(t, ip.IsLoopback())
}
