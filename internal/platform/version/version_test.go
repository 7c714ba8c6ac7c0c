package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.2.0", Commit: "abc1234", BuildTime: "2026-10-01", GoVersion: "go1.25.1"}

	assert.Equal(t, "livepoll 1.2.0 (abc1234, built 2026-10-01, go1.25.1)", info.String())
}
