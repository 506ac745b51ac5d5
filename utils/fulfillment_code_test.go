package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFulfillmentCode_Format(t *testing.T) {
	code := GenerateFulfillmentCode()

	assert.True(t, strings.HasPrefix(code, "SC"), "code %q should start with SC", code)
	assert.Greater(t, len(code), 8)

	for _, c := range code {
		assert.Contains(t, codeAlphabet, string(c), "unexpected character in %q", code)
	}
}

func TestGenerateFulfillmentCode_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := GenerateFulfillmentCode()
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}
