package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"esmloader/internal/bundler"
	ckerrors "esmloader/internal/errors"
	"esmloader/internal/index"
	"esmloader/internal/slogutil"
	"esmloader/internal/testutil"
)

// fakeRebundler serves canned isolated bundles keyed by output base name.
type fakeRebundler struct {
	mu      sync.Mutex
	bundles map[string]*bundler.Isolated
	fail    map[string]error
	calls   int
}

func (f *fakeRebundler) Rebundle(ctx context.Context, outputFile string) (*bundler.Isolated, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name := filepath.Base(outputFile)
	if err, ok := f.fail[name]; ok {
		return nil, err
	}
	iso, ok := f.bundles[name]
	if !ok {
		return nil, fmt.Errorf("no bundle for %s", name)
	}
	return iso, nil
}

func (f *fakeRebundler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memCache struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func (c *memCache) Get(ctx context.Context, moduleFile, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.rows[moduleFile+"|"+key]
	return v, ok, nil
}

func (c *memCache) Put(ctx context.Context, moduleFile, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows == nil {
		c.rows = make(map[string][]byte)
	}
	c.rows[moduleFile+"|"+key] = value
	return nil
}

const testIndex = `{
	"modules": {
		"main.js": {},
		"nav.js": {"priority": "high", "loadingPoint": "onClick"},
		"tabs.js": {"priority": "very-high", "loadingPoint": "onInjection"},
		"footer.js": {"priority": "high", "loadingPoint": "onIntersection", "selector": "footer"},
		"late.js": {"loadingPoint": "onComplete"}
	}
}`

type fixture struct {
	dist    string
	index   *index.Index
	rb      *fakeRebundler
	outputs []bundler.OutputFile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	dist := filepath.Join(root, "dist")

	ix, err := index.Parse([]byte(testIndex), ".json", "index.json", filepath.Join(root, "js"))
	require.NoError(t, err)

	sources := map[string]string{
		"chunk-aaaa.js":  `export function subscribe() {}`,
		"main-1111.js":   `import "./chunk-aaaa.js"; console.log("main");`,
		"nav-2222.js":    `import "./chunk-aaaa.js"; export const selectorInit = ".nav";`,
		"tabs-3333.js":   `var selectorInit="[data-tabs]";export{selectorInit};`,
		"footer-4444.js": `export default function footer() {}`,
		"late-5555.js":   `export const selectorInit = "#late";`,
	}
	testutil.WriteTree(t, dist, sources)

	rb := &fakeRebundler{bundles: map[string]*bundler.Isolated{}}
	for name, src := range sources {
		iso := &bundler.Isolated{ModuleFile: name, Source: []byte(src)}
		if name != "chunk-aaaa.js" && name != "tabs-3333.js" && name != "late-5555.js" && name != "footer-4444.js" {
			iso.Dependencies = []string{"chunk-aaaa.js"}
		}
		rb.bundles[name] = iso
	}

	// Sorted by name, as the bundler reports them.
	outputs := []bundler.OutputFile{
		{Name: "chunk-aaaa.js"},
		{Name: "footer-4444.js", EntryPoint: "footer.js"},
		{Name: "late-5555.js", EntryPoint: "late.js"},
		{Name: "main-1111.js", EntryPoint: "main.js"},
		{Name: "nav-2222.js", EntryPoint: "nav.js"},
		{Name: "tabs-3333.js", EntryPoint: "tabs.js"},
	}
	for i := range outputs {
		outputs[i].Path = filepath.Join(dist, outputs[i].Name)
	}
	return &fixture{dist: dist, index: ix, rb: rb, outputs: outputs}
}

func moduleFiles(m Manifest) []string {
	out := make([]string, len(m))
	for i, e := range m {
		out[i] = e.ModuleFile
	}
	return out
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger(), WithConcurrency(3))

	m, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"tabs-3333.js",   // very-high
		"footer-4444.js", // high, discovered before nav
		"nav-2222.js",
		"late-5555.js", // low
		"main-1111.js",
	}, moduleFiles(m), "shared chunks are not entries; tiers keep discovery order")

	byFile := map[string]GraphEntry{}
	for _, e := range m {
		byFile[e.ModuleFile] = e
	}

	nav := byFile["nav-2222.js"]
	assert.Equal(t, Selector(".nav"), nav.Selector)
	assert.Equal(t, []string{"chunk-aaaa.js"}, nav.Dependencies)
	assert.Equal(t, index.OnClick, nav.LoadingPoint)
	assert.Equal(t, index.PriorityHigh, nav.Priority)

	main := byFile["main-1111.js"]
	assert.Equal(t, index.Static, main.LoadingPoint)
	assert.Equal(t, index.PriorityLow, main.Priority)
	assert.Equal(t, Selector(""), main.Selector, "static modules need no selector")

	assert.Equal(t, Selector("footer"), byFile["footer-4444.js"].Selector, "declared selector is used when the source has none")
	assert.Equal(t, Selector("#late"), byFile["late-5555.js"].Selector)
}

func TestBuildExplicitSelectorWins(t *testing.T) {
	f := newFixture(t)
	f.rb.bundles["footer-4444.js"].Source = []byte(`export const selectorInit = ".ignored";`)

	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger())
	entry, err := b.AnalyzeEntry(context.Background(), f.outputs[1])
	require.NoError(t, err)
	assert.Equal(t, Selector("footer"), entry.Selector)
}

func TestBuildMissingSelectorFailsWholeBuild(t *testing.T) {
	f := newFixture(t)
	f.rb.bundles["nav-2222.js"].Source = []byte(`export default function nav() {}`)
	f.rb.bundles["late-5555.js"].Source = []byte(`console.log("no binding")`)
	f.rb.bundles["main-1111.js"].Source = []byte(`console.log("static is fine")`)

	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger())
	m, err := b.Build(context.Background(), f.outputs)
	require.Error(t, err)
	assert.Nil(t, m, "no partial manifest")
	assert.True(t, ckerrors.IsCode(err, ckerrors.ConfigurationError))

	errs := multierr.Errors(err)
	require.Len(t, errs, 2, "every offending module is reported")
	assert.Contains(t, errs[0].Error(), `"late.js" is dynamically loaded {loadingPoint: onComplete}`)
	assert.Contains(t, errs[0].Error(), "(output late-5555.js)")
	assert.Contains(t, errs[1].Error(), `"nav.js" is dynamically loaded {loadingPoint: onClick}`)
	assert.Contains(t, errs[1].Error(), "(output nav-2222.js)")
}

func TestBuildAnalysisFailure(t *testing.T) {
	f := newFixture(t)
	f.rb.fail = map[string]error{"tabs-3333.js": errors.New("parse error")}

	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger())
	m, err := b.Build(context.Background(), f.outputs)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, ckerrors.IsCode(err, ckerrors.AnalysisFailed))
	assert.ErrorContains(t, err, "parse error")
}

func TestBuildDoesNotLeakAcrossInvocations(t *testing.T) {
	f := newFixture(t)
	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger())

	first, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)
	require.Len(t, first, 5)

	second, err := b.Build(context.Background(), f.outputs[4:5])
	require.NoError(t, err)
	assert.Equal(t, []string{"nav-2222.js"}, moduleFiles(second))

	f.rb.fail = map[string]error{"nav-2222.js": errors.New("boom")}
	_, err = b.Build(context.Background(), f.outputs)
	require.Error(t, err)

	f.rb.fail = nil
	third, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)
	assert.Len(t, third, 5, "a failed build leaves nothing behind")
}

func TestBuildUsesCache(t *testing.T) {
	f := newFixture(t)
	cache := &memCache{}
	b := NewBuilder(f.index, f.rb, slogutil.NewDiscardLogger(), WithCache(cache))

	first, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)
	calls := f.rb.Calls()
	assert.Equal(t, 5, calls)

	second, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)
	assert.Equal(t, calls, f.rb.Calls(), "unchanged outputs are not re-bundled")
	assert.Equal(t, first, second)

	testutil.WriteTree(t, f.dist, map[string]string{"nav-2222.js": `export const selectorInit = ".nav2";`})
	f.rb.bundles["nav-2222.js"].Source = []byte(`export const selectorInit = ".nav2";`)
	third, err := b.Build(context.Background(), f.outputs)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.rb.Calls(), "only the changed output is analyzed again")
	for _, e := range third {
		if e.ModuleFile == "nav-2222.js" {
			assert.Equal(t, Selector(".nav2"), e.Selector)
		}
	}
}

func TestCacheKeyCoversDeclaration(t *testing.T) {
	src := []byte("export const selectorInit = '.a';")
	a := CacheKey(src, index.ModuleConfig{Priority: index.PriorityLow, LoadingPoint: index.OnClick})
	b := CacheKey(src, index.ModuleConfig{Priority: index.PriorityHigh, LoadingPoint: index.OnClick})
	c := CacheKey(src, index.ModuleConfig{Priority: index.PriorityLow, LoadingPoint: index.OnClick})

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 64)
}
