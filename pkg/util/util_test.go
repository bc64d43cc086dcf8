package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvironmentVariables(t *testing.T) {
	t.Setenv("LIVETRAINS_TEST_VALUE", "a=b")
	t.Setenv("OTHER_TEST_VALUE", "x")

	env := GetEnvironmentVariables("LIVETRAINS_")

	assert.Equal(t, "a=b", env["TEST_VALUE"])
	assert.NotContains(t, env, "OTHER_TEST_VALUE")
}

func TestTrimString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("abc", TrimString("abc", 5))
	assert.Equal("ab", TrimString("abcdef", 2))
	assert.Equal("Kraków", TrimString("Kraków Główny", 7))
	assert.Equal("Krak", TrimString("Kraków", 5))
}
