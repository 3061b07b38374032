package execution

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfilesResolve(t *testing.T) {
	store, err := NewProfileStore(DefaultProfiles())
	require.NoError(t, err)

	tests := []struct {
		name string
		want string
	}{
		{"python", "python"},
		{"PY", "python"},
		{" python3 ", "python"},
		{"cpp", "cpp"},
		{"c++", "cpp"},
		{"java", "java"},
		{"js", "javascript"},
		{"node", "javascript"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := store.Resolve(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Language)
		})
	}

	_, ok := store.Resolve("brainfuck")
	assert.False(t, ok)

	langs := store.List()
	require.Len(t, langs, 4)
	assert.Equal(t, "cpp", langs[0].Language)
	assert.Equal(t, "python", langs[3].Language)
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"ok", Profile{Language: "go", FileName: "main.go", Run: []string{"go", "run", "{file}"}}, false},
		{"script needs nothing", Profile{Language: "js", Backend: BackendScript}, false},
		{"no language", Profile{FileName: "x", Run: []string{"x"}}, true},
		{"no file", Profile{Language: "go", Run: []string{"go"}}, true},
		{"path in file", Profile{Language: "go", FileName: "../main.go", Run: []string{"go"}}, true},
		{"no run", Profile{Language: "go", FileName: "main.go"}, true},
		{"unknown backend", Profile{Language: "go", Backend: "vm"}, true},
		{"negative timeout", Profile{Language: "js", Backend: BackendScript, Timeout: Duration(-time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReplaceKeepsPreviousSetOnError(t *testing.T) {
	store, err := NewProfileStore(DefaultProfiles())
	require.NoError(t, err)

	err = store.Replace([]Profile{{Language: "broken"}})
	require.Error(t, err)

	_, ok := store.Resolve("python")
	assert.True(t, ok)
}

func TestReplaceRejectsAliasClash(t *testing.T) {
	_, err := NewProfileStore([]Profile{
		{Language: "python", Aliases: []string{"py"}, FileName: "main.py", Run: []string{"python3"}},
		{Language: "pypy", Aliases: []string{"py"}, FileName: "main.py", Run: []string{"pypy3"}},
	})
	assert.ErrorContains(t, err, `"py"`)
}

func TestExpand(t *testing.T) {
	got := expand([]string{"g++", "-o", "{dir}/main", "{file}"}, "/work", "/work/main.cpp")
	assert.Equal(t, []string{"g++", "-o", "/work/main", "/work/main.cpp"}, got)
}

func TestLoadProfilesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - language: go
    aliases: [golang]
    image: golang:1.24
    file: main.go
    run: ["go", "run", "{file}"]
    timeout: 15s
  - language: python
    backend: process
    file: main.py
    run: ["python3", "{file}"]
`), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "go", profiles[0].Language)
	assert.Equal(t, []string{"golang"}, profiles[0].Aliases)
	assert.Equal(t, Duration(15*time.Second), profiles[0].Timeout)
	assert.Equal(t, BackendProcess, profiles[1].Backend)

	merged := Merge(DefaultProfiles(), profiles)
	store, err := NewProfileStore(merged)
	require.NoError(t, err)

	py, ok := store.Resolve("py")
	assert.False(t, ok, "overriding python drops its default aliases")
	py, ok = store.Resolve("python")
	require.True(t, ok)
	assert.Equal(t, BackendProcess, py.Backend)

	_, ok = store.Resolve("golang")
	assert.True(t, ok)
	assert.Len(t, store.List(), 5)
}

func TestLoadProfilesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[profiles]]
language = "ruby"
aliases = ["rb"]
image = "ruby:3.3-slim"
file = "main.rb"
run = ["ruby", "{file}"]
timeout = "3s"
`), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "ruby", profiles[0].Language)
	assert.Equal(t, "ruby:3.3-slim", profiles[0].Image)
	assert.Equal(t, Duration(3*time.Second), profiles[0].Timeout)
}

func TestLoadProfilesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProfiles(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "profiles.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = LoadProfiles(ini)
	assert.ErrorContains(t, err, "unsupported profiles format")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("profiles:\n  - language: go\n"), 0o644))
	_, err = LoadProfiles(invalid)
	assert.ErrorContains(t, err, "file is required")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, Duration(90*time.Second), d)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
