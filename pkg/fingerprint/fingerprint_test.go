package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Fingerprint {
	t.Helper()
	fp, err := NewPresetGenerator().GenerateForOS("windows")
	require.NoError(t, err)
	return fp
}

func TestEmptyAndValidate(t *testing.T) {
	t.Run("zero value is empty and valid", func(t *testing.T) {
		var fp Fingerprint
		assert.True(t, fp.Empty())
		assert.NoError(t, fp.Validate())
	})

	t.Run("generated fingerprint is valid", func(t *testing.T) {
		fp := sample(t)
		assert.False(t, fp.Empty())
		assert.NoError(t, fp.Validate())
	})

	t.Run("partial fingerprint is invalid", func(t *testing.T) {
		fp := sample(t)
		fp.Screen.Height = 0
		assert.Error(t, fp.Validate())

		fp = sample(t)
		fp.Navigator.HardwareConcurrency = 0
		assert.Error(t, fp.Validate())
	})
}

func TestClone(t *testing.T) {
	fp := sample(t)
	fp.Fonts = []string{"Arial"}
	fp.EngineOpts = map[string]any{"k": "v"}

	cp := fp.Clone()
	cp.Navigator.Languages[0] = "de-DE"
	cp.Fonts[0] = "Verdana"
	cp.EngineOpts["k"] = "w"

	assert.Equal(t, "en-US", fp.Navigator.Languages[0])
	assert.Equal(t, "Arial", fp.Fonts[0])
	assert.Equal(t, "v", fp.EngineOpts["k"])
}

func TestHash(t *testing.T) {
	fp := sample(t)

	h := fp.Hash()
	assert.Len(t, h, 16)
	assert.Equal(t, h, fp.Hash())

	other := fp.Clone()
	other.Navigator.UserAgent = "different"
	assert.NotEqual(t, h, other.Hash())
}

func TestPresetGenerator(t *testing.T) {
	g := NewPresetGenerator()

	t.Run("matches the requested platform", func(t *testing.T) {
		cases := map[string]string{
			"windows": "Win32",
			"macos":   "MacIntel",
			"linux":   "Linux x86_64",
		}
		for os, platform := range cases {
			fp, err := g.GenerateForOS(os)
			require.NoError(t, err)
			assert.Equal(t, platform, fp.Navigator.Platform)
			assert.Contains(t, fp.Navigator.UserAgent, "Chrome/")
			assert.False(t, strings.Contains(fp.Navigator.UserAgent, "%s"))
			assert.NoError(t, fp.Validate())
		}
	})

	t.Run("unknown os falls back to windows", func(t *testing.T) {
		fp, err := g.GenerateForOS("beos")
		require.NoError(t, err)
		assert.Equal(t, "Win32", fp.Navigator.Platform)
	})

	t.Run("random generation yields a known platform", func(t *testing.T) {
		fp, err := g.Generate()
		require.NoError(t, err)
		assert.Contains(t, []string{"Win32", "MacIntel", "Linux x86_64"}, fp.Navigator.Platform)
	})

	t.Run("fresh ids per sample", func(t *testing.T) {
		a, err := g.Generate()
		require.NoError(t, err)
		b, err := g.Generate()
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})
}
