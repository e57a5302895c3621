package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/limn/internal/render"
)

func TestLoadDirectoryMergesFiles(t *testing.T) {
	m, err := Load("testdata/site")
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "chart", "comments"}, m.Names())
	assert.Equal(t, Asset{
		Entry:   "/js/chart-1a2b3c.js",
		CSS:     []string{"/css/chart-4d5e6f.css"},
		Preload: true,
	}, m.Modules["chart"])
	assert.Equal(t, Asset{Entry: "/js/auth-7g8h9i.js"}, m.Modules["auth"])
}

func TestLoadFileReadsOneFile(t *testing.T) {
	m, err := LoadFile("testdata/site/assets.cue")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "chart"}, m.Names(), "a single file does not see its siblings")
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load("testdata/nonesuch")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoadBytesSyntaxError(t *testing.T) {
	_, err := LoadBytes("bad.cue", []byte("assets: {"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBuildFailed, le.Code)
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue:")
}

func TestLoadBytesSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"missing entry", `assets: chart: css: ["/a.css"]`},
		{"entry not a string", `assets: chart: entry: 3`},
		{"empty entry", `assets: chart: entry: ""`},
		{"css not a list", `assets: chart: {entry: "/a.js", css: "/a.css"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadBytes("bad.cue", []byte(tc.src))
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, ErrCodeSchema, le.Code)
		})
	}
}

func TestLoadBytesEmptyManifest(t *testing.T) {
	m, err := LoadBytes("empty.cue", []byte("assets: {}"))
	require.NoError(t, err)
	assert.Empty(t, m.Names())
}

func TestResolve(t *testing.T) {
	m, err := Load("testdata/site")
	require.NoError(t, err)

	a, ok := m.Resolve("chart")
	require.True(t, ok)
	assert.Equal(t, render.ModuleAssets{
		Entry: "/js/chart-1a2b3c.js",
		CSS:   []string{"/css/chart-4d5e6f.css"},
	}, a)

	_, ok = m.Resolve("nonesuch")
	assert.False(t, ok)
}

func TestPreloadLinksForModules(t *testing.T) {
	m, err := Load("testdata/site")
	require.NoError(t, err)

	links := m.PreloadLinks("chart", "auth", "chart")
	assert.Equal(t, []string{
		`<link rel="modulepreload" href="/js/chart-1a2b3c.js">`,
		`<link rel="stylesheet" href="/css/chart-4d5e6f.css">`,
		`<link rel="modulepreload" href="/js/auth-7g8h9i.js">`,
	}, links, "duplicates collapse, order follows the request")

	assert.Empty(t, m.PreloadLinks("nonesuch"))
}

func TestPreloadLinksDefaultsToEagerModules(t *testing.T) {
	m, err := Load("testdata/site")
	require.NoError(t, err)

	links := m.PreloadLinks()
	assert.Equal(t, []string{
		`<link rel="modulepreload" href="/js/chart-1a2b3c.js">`,
		`<link rel="stylesheet" href="/css/chart-4d5e6f.css">`,
	}, links, "only preload-marked modules are eager")
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files"}
	assert.Equal(t, "E002: no CUE files", err.Error())
}
