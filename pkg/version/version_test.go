package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	v := Short()
	if v == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.+]+)?$`)
	require.True(t, semver.MatchString(v), "got %s", v)
}

func TestString(t *testing.T) {
	info := GetInfo()
	str := String()

	assert.Contains(t, str, "docindex "+info.Version)
	assert.Contains(t, str, "commit: "+info.Commit)
	assert.Contains(t, str, "go: "+runtime.Version())
	assert.Equal(t, info.Version, Short())
}

func TestGetInfo(t *testing.T) {
	// Given: build info
	info := GetInfo()

	// Then: it reports the runtime and never an empty version
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)

	// And: it serializes with snake_case keys
	data, err := json.Marshal(info)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	for _, key := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, parsed, key)
	}
}
