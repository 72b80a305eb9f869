package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	info := Detect()
	assert.NotEmpty(t, info.Version)
}

func TestUserAgent(t *testing.T) {
	v := Info{Version: "1.2.3"}
	assert.Equal(t, "kernelclient/1.2.3", v.UserAgent())

	v.Commit = "abcdef1234567"
	ua := v.UserAgent()
	assert.True(t, strings.HasPrefix(ua, "kernelclient/1.2.3 ("))
	assert.Contains(t, ua, "abcdef1")
	assert.NotContains(t, ua, "abcdef1234567")
}
