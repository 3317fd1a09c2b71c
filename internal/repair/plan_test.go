package repair

import (
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright/wheelwright/internal/elffile"
	"github.com/wheelwright/wheelwright/internal/graph"
	"github.com/wheelwright/wheelwright/internal/inspect"
	"github.com/wheelwright/wheelwright/internal/ldso"
	"github.com/wheelwright/wheelwright/internal/policy"
	"github.com/wheelwright/wheelwright/internal/wheel"
)

// writeLib creates a fake library file and returns its path and hash8.
func writeLib(t *testing.T, dir, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sum := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(sum[:])[:8]
}

func libFile(path, soname string, needed []string, rpaths []string) *elffile.File {
	return &elffile.File{
		Path:    path,
		Class:   elf.ELFCLASS64,
		Machine: elf.EM_X86_64,
		Arch:    "x86_64",
		Soname:  soname,
		Needed:  needed,
		RPaths:  rpaths,
	}
}

// buildAnalysis assembles an Analysis around a hand-built graph.
func buildAnalysis(t *testing.T, g *graph.Graph) *inspect.Analysis {
	t.Helper()
	table, err := policy.Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)
	name, err := wheel.ParseName("demo-1.0-cp39-cp39-linux_x86_64.whl")
	require.NoError(t, err)
	return &inspect.Analysis{
		Name:  name,
		Graph: g,
		Table: table,
		Eval:  table.Score(g),
	}
}

func TestBuildPlanGrafts(t *testing.T) {
	libDir := t.TempDir()
	fooPath, fooHash := writeLib(t, libDir, "libfoo.so.1.2.3", "foo bytes")
	barPath, barHash := writeLib(t, libDir, "libbar.so.2", "bar bytes")

	root := libFile("/scratch/demo/ext.so", "", []string{"libfoo.so.1", "libc.so.6"}, nil)
	libfoo := libFile(fooPath, "libfoo.so.1", []string{"libbar.so.2", "libc.so.6"}, []string{"/build/leaked"})
	libbar := libFile(barPath, "libbar.so.2", []string{"libc.so.6"}, nil)
	libc := libFile("/lib64/libc.so.6", "libc.so.6", nil, nil)

	g := &graph.Graph{
		Arch: "x86_64",
		Roots: []*graph.Root{{
			File:    root,
			RelPath: "demo/ext.so",
			Deps: []graph.Dep{
				{Soname: "libfoo.so.1", Path: fooPath},
				{Soname: "libc.so.6", Path: "/lib64/libc.so.6"},
			},
		}},
		Externals: map[string]*graph.External{
			"libfoo.so.1": {
				Soname: "libfoo.so.1", Path: fooPath, File: libfoo,
				Deps: []graph.Dep{
					{Soname: "libbar.so.2", Path: barPath},
					{Soname: "libc.so.6", Path: "/lib64/libc.so.6"},
				},
				Symbols: map[string]bool{}, Names: map[string]bool{},
			},
			"libbar.so.2": {
				Soname: "libbar.so.2", Path: barPath, File: libbar,
				Deps:    []graph.Dep{{Soname: "libc.so.6", Path: "/lib64/libc.so.6"}},
				Symbols: map[string]bool{}, Names: map[string]bool{},
			},
			"libc.so.6": {
				Soname: "libc.so.6", Path: "/lib64/libc.so.6", File: libc,
				Symbols: map[string]bool{"GLIBC_2.17": true}, Names: map[string]bool{},
			},
		},
	}
	a := buildAnalysis(t, g)
	target := a.Table.ByName("manylinux_2_17_x86_64")
	require.NotNil(t, target)

	plan, err := BuildPlan(a, target, Options{})
	require.NoError(t, err)

	assert.False(t, plan.TagOnly)
	assert.Equal(t, "demo.libs", plan.GraftDir)

	// Leaves first: libbar before its dependent libfoo.
	require.Len(t, plan.Grafts, 2)
	assert.Equal(t, "libbar.so.2", plan.Grafts[0].Soname)
	assert.Equal(t, "libbar-"+barHash+".so.2", plan.Grafts[0].NewName)
	assert.Empty(t, plan.Grafts[0].ReplaceNeeded)
	assert.False(t, plan.Grafts[0].SetRunPath)

	foo := plan.Grafts[1]
	assert.Equal(t, "libfoo-"+fooHash+".so.1", foo.NewName)
	assert.Equal(t, map[string]string{"libbar.so.2": "libbar-" + barHash + ".so.2"}, foo.ReplaceNeeded)
	assert.Equal(t, "$ORIGIN", foo.RunPath)
	assert.True(t, foo.SetRunPath)

	// The extension's DT_NEEDED for libfoo is rewritten; libc is left alone.
	require.Len(t, plan.Binaries, 1)
	b := plan.Binaries[0]
	assert.Equal(t, "demo/ext.so", b.RelPath)
	assert.Equal(t, map[string]string{"libfoo.so.1": "libfoo-" + fooHash + ".so.1"}, b.ReplaceNeeded)
	assert.Equal(t, "$ORIGIN/../demo.libs", b.RunPath)

	// Tags: target plus its legacy alias, plain linux tag superseded.
	assert.Equal(t, []string{"manylinux2014_x86_64", "manylinux_2_17_x86_64"}, plan.Platforms)
}

func TestBuildPlanIdempotentNaming(t *testing.T) {
	libDir := t.TempDir()
	_, hash := writeLib(t, libDir, "probe", "foo bytes")
	// A library grafted by a previous run already carries its hash.
	path, _ := writeLib(t, libDir, "libfoo-"+hash+".so.1", "foo bytes")

	name, err := graftName("libfoo-"+hash+".so.1", path)
	require.NoError(t, err)
	assert.Equal(t, "libfoo-"+hash+".so.1", name)
}

func TestBuildPlanExclude(t *testing.T) {
	libDir := t.TempDir()
	fooPath, _ := writeLib(t, libDir, "libfoo.so.1", "foo bytes")
	libfoo := libFile(fooPath, "libfoo.so.1", nil, nil)

	root := libFile("/scratch/ext.so", "", []string{"libfoo.so.1"}, nil)
	g := &graph.Graph{
		Arch:  "x86_64",
		Roots: []*graph.Root{{File: root, RelPath: "ext.so", Deps: []graph.Dep{{Soname: "libfoo.so.1", Path: fooPath}}}},
		Externals: map[string]*graph.External{
			"libfoo.so.1": {Soname: "libfoo.so.1", Path: fooPath, File: libfoo,
				Symbols: map[string]bool{}, Names: map[string]bool{}},
		},
	}
	a := buildAnalysis(t, g)
	target := a.Table.ByName("manylinux_2_17_x86_64")

	plan, err := BuildPlan(a, target, Options{Exclude: []string{"libfoo.so.1"}})
	require.NoError(t, err)
	assert.True(t, plan.TagOnly)
	assert.Empty(t, plan.Grafts)
}

func TestBuildPlanPolicyViolation(t *testing.T) {
	libc := libFile("/lib64/libc.so.6", "libc.so.6", nil, nil)
	root := libFile("/scratch/ext.so", "", []string{"libc.so.6"}, nil)
	g := &graph.Graph{
		Arch:  "x86_64",
		Roots: []*graph.Root{{File: root, RelPath: "ext.so", Deps: []graph.Dep{{Soname: "libc.so.6", Path: "/lib64/libc.so.6"}}}},
		Externals: map[string]*graph.External{
			"libc.so.6": {Soname: "libc.so.6", Path: "/lib64/libc.so.6", File: libc,
				Symbols: map[string]bool{"GLIBC_2.30": true}, Names: map[string]bool{}},
		},
	}
	a := buildAnalysis(t, g)
	target := a.Table.ByName("manylinux_2_17_x86_64")

	_, err := BuildPlan(a, target, Options{})
	var v *policy.VersionViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "GLIBC", v.Group)
	assert.Equal(t, "2.30", v.Actual)
	assert.Equal(t, "2.17", v.Max)
}

func TestBuildPlanSonameConflict(t *testing.T) {
	root := libFile("/scratch/ext.so", "", nil, nil)
	g := &graph.Graph{
		Arch:      "x86_64",
		Roots:     []*graph.Root{{File: root, RelPath: "ext.so"}},
		Externals: map[string]*graph.External{},
		Conflicts: []*graph.Conflict{{Soname: "libdup.so.1", Paths: []string{"/a/libdup.so.1", "/b/libdup.so.1"}}},
	}
	a := buildAnalysis(t, g)

	_, err := BuildPlan(a, a.Table.ByName("manylinux_2_17_x86_64"), Options{})
	var c *SonameConflictError
	require.True(t, errors.As(err, &c))
	assert.Equal(t, "libdup.so.1", c.Soname)
	assert.Len(t, c.Paths, 2)
}

func TestBuildPlanUnresolvedGraft(t *testing.T) {
	root := libFile("/scratch/ext.so", "", []string{"libghost.so.1"}, nil)
	g := &graph.Graph{
		Arch:       "x86_64",
		Roots:      []*graph.Root{{File: root, RelPath: "ext.so", Deps: []graph.Dep{{Soname: "libghost.so.1"}}}},
		Externals:  map[string]*graph.External{},
		Unresolved: []*ldso.ResolveError{{Soname: "libghost.so.1", Dependent: "/scratch/ext.so"}},
	}
	a := buildAnalysis(t, g)

	_, err := BuildPlan(a, a.Table.ByName("manylinux_2_17_x86_64"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "libghost.so.1")

	// Excluding the unresolvable soname makes the repair feasible again.
	plan, err := BuildPlan(a, a.Table.ByName("manylinux_2_17_x86_64"), Options{Exclude: []string{"libghost.so.1"}})
	require.NoError(t, err)
	assert.True(t, plan.TagOnly)
}

func TestBuildPlanPureWheel(t *testing.T) {
	table, err := policy.Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)
	name, err := wheel.ParseName("demo-1.0-py3-none-any.whl")
	require.NoError(t, err)
	a := &inspect.Analysis{Name: name, Pure: true}

	plan, err := BuildPlan(a, table.ByName("manylinux_2_17_x86_64"), Options{})
	require.NoError(t, err)
	assert.True(t, plan.TagOnly)
	assert.Empty(t, plan.Grafts)
	assert.Empty(t, plan.Binaries)
}

func TestBuildPlanOnlyPlat(t *testing.T) {
	table, err := policy.Load("x86_64", elffile.LibcGlibc)
	require.NoError(t, err)
	name, err := wheel.ParseName("demo-1.0-cp39-cp39-linux_x86_64.whl")
	require.NoError(t, err)
	a := &inspect.Analysis{Name: name, Pure: true}

	plan, err := BuildPlan(a, table.ByName("manylinux_2_17_x86_64"), Options{OnlyPlat: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"manylinux_2_17_x86_64"}, plan.Platforms)
}

func TestRootRunPathPreservesInWheelEntries(t *testing.T) {
	root := &graph.Root{
		RelPath: "demo/ext.so",
		File: &elffile.File{
			RunPaths: []string{"$ORIGIN/../demo.libs", "$ORIGIN/sub", "/usr/local/lib", "$ORIGIN/../../escape"},
		},
	}
	got := rootRunPath(root, "demo.libs")
	// The graft entry leads; in-wheel entries survive; absolute and
	// escaping entries are dropped; duplicates collapse.
	assert.Equal(t, "$ORIGIN/../demo.libs:$ORIGIN/sub", got)
}

func TestOriginRelative(t *testing.T) {
	assert.Equal(t, "$ORIGIN/demo.libs", originRelative(".", "demo.libs"))
	assert.Equal(t, "$ORIGIN/../demo.libs", originRelative("demo", "demo.libs"))
	assert.Equal(t, "$ORIGIN/../../demo.libs", originRelative("demo/sub", "demo.libs"))
}
