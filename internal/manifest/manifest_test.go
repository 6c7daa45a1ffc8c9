package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ckerrors "esmloader/internal/errors"
	"esmloader/internal/index"
	"esmloader/internal/testutil"
)

func sampleManifest() Manifest {
	return Manifest{
		{
			Selector:     "nav > a",
			ModuleFile:   "nav-33d409b0.js",
			Dependencies: []string{"pubsub-267f5d93.js", "unbracket-8b69dca6.js"},
			Priority:     index.PriorityVeryHigh,
			LoadingPoint: index.OnClick,
		},
		{
			Selector:     "[data-tabs]",
			ModuleFile:   "tabs-0c1d2e3f.js",
			Dependencies: []string{"pubsub-267f5d93.js"},
			Priority:     index.PriorityHigh,
			LoadingPoint: index.OnInjection,
		},
		{
			ModuleFile:   "main-1a2b3c4d.js",
			Priority:     index.PriorityLow,
			LoadingPoint: index.Static,
		},
	}
}

func TestSortByPriority(t *testing.T) {
	entries := []GraphEntry{
		{ModuleFile: "a", Priority: index.PriorityLow},
		{ModuleFile: "b", Priority: index.PriorityHigh},
		{ModuleFile: "c", Priority: index.PriorityVeryHigh},
		{ModuleFile: "d", Priority: index.PriorityLow},
		{ModuleFile: "e", Priority: index.PriorityVeryHigh},
		{ModuleFile: "f", Priority: index.PriorityHigh},
	}

	var order []string
	for _, e := range SortByPriority(entries) {
		order = append(order, e.ModuleFile)
	}
	assert.Equal(t, []string{"c", "e", "b", "f", "a", "d"}, order)
	assert.Empty(t, SortByPriority(nil))
}

func TestGoldenManifest(t *testing.T) {
	data, err := sampleManifest().Marshal()
	require.NoError(t, err)
	testutil.CompareGolden(t, testutil.TestdataPath(t, "graph.golden.json"), data)
}

func TestSelectorDecodesFalse(t *testing.T) {
	var e GraphEntry
	require.NoError(t, json.Unmarshal([]byte(`{"selector":false,"moduleFile":"a.js"}`), &e))
	assert.Equal(t, Selector(""), e.Selector)

	assert.Error(t, json.Unmarshal([]byte(`{"selector":true}`), &e))
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dist")
	m := sampleManifest()

	written, err := Write(dir, DefaultName, m, WriteOptions{Gzip: true, Zstd: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "graph.json"),
		filepath.Join(dir, "graph.json.gz"),
		filepath.Join(dir, "graph.json.zst"),
	}, written)

	for _, p := range written {
		got, err := Read(p)
		require.NoError(t, err, p)
		require.Len(t, got, 3, p)
		assert.Equal(t, m[0].Selector, got[0].Selector)
		assert.Equal(t, m[1].Dependencies, got[1].Dependencies)
		assert.Equal(t, Selector(""), got[2].Selector)
		assert.Equal(t, []string{}, got[2].Dependencies)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary files are left behind")

	assert.Nil(t, m[2].Dependencies, "marshalling does not modify the caller's entries")
}

func TestPruneStaleArtifacts(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"nav-new.js":      "",
		"chunk-new.js":    "",
		"nav-old.js":      "",
		"chunk-old.js":    "",
		"graph.json":      "[]",
		"graph.json.gz":   "",
		"assets/keep.css": "",
	})

	removed, err := PruneStaleArtifacts(dir, []string{"nav-new.js", "chunk-new.js"}, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-old.js", "nav-old.js"}, removed)

	for _, kept := range []string{"nav-new.js", "chunk-new.js", "graph.json", "graph.json.gz", "assets/keep.css"} {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(kept)))
	}

	removed, err = PruneStaleArtifacts(filepath.Join(dir, "missing"), nil, DefaultName)
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

func TestLoadingMapFromManifest(t *testing.T) {
	m := sampleManifest()
	m = append(m, GraphEntry{
		Selector:     "#late",
		ModuleFile:   "late-9.js",
		Priority:     index.PriorityLow,
		LoadingPoint: index.OnComplete,
	})

	lm, err := LoadingMapFromManifest(m, "/js/")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nav > a": "/js/nav-33d409b0.js"}, lm.OnClick)
	assert.Equal(t, map[string]string{"[data-tabs]": "/js/tabs-0c1d2e3f.js"}, lm.OnInjection)
	assert.Equal(t, map[string]string{"#late": "/js/late-9.js"}, lm.OnComplete)
	assert.Nil(t, lm.OnFocusIn, "inactive triggers stay absent")
	assert.Nil(t, lm.OnIntersection)

	data, err := json.Marshal(lm)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "onFocusIn")

	assert.Equal(t, "./a.js", ImportKey("", "a.js"))
}

func TestLoadingMapRejectsDuplicateSelectors(t *testing.T) {
	m := Manifest{
		{Selector: ".nav", ModuleFile: "a.js", Priority: index.PriorityLow, LoadingPoint: index.OnClick},
		{Selector: ".nav", ModuleFile: "b.js", Priority: index.PriorityLow, LoadingPoint: index.OnFocusIn},
		{Selector: ".nav", ModuleFile: "c.js", Priority: index.PriorityLow, LoadingPoint: index.OnClick},
	}

	_, err := LoadingMapFromManifest(m, "/js")
	require.Error(t, err)
	assert.True(t, ckerrors.IsCode(err, ckerrors.DuplicateSelector))
	assert.Contains(t, err.Error(), `selector ".nav" is bound by both a.js and c.js`)
}
