package execution

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Backend names
const (
	BackendContainer = "container"
	BackendProcess   = "process"
	BackendScript    = "script"
	BackendRemote    = "remote"
)

// Duration is a time.Duration that reads "5s" style strings from profile files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Profile is the recipe for running one language.
//
// Compile and Run are argv templates. "{file}" expands to the source path and
// "{dir}" to the working directory inside the environment. Templates come
// only from operator configuration; request data is never substituted into
// them.
type Profile struct {
	Language string   `json:"language" yaml:"language" toml:"language"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases" toml:"aliases"`
	Backend  string   `json:"backend,omitempty" yaml:"backend" toml:"backend"`
	Image    string   `json:"image,omitempty" yaml:"image" toml:"image"`
	FileName string   `json:"file,omitempty" yaml:"file" toml:"file"`
	Compile  []string `json:"compile,omitempty" yaml:"compile" toml:"compile"`
	Run      []string `json:"run,omitempty" yaml:"run" toml:"run"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout" toml:"timeout"`
	// Remote and Version name the language on a remote runner
	Remote  string `json:"remote,omitempty" yaml:"remote" toml:"remote"`
	Version string `json:"version,omitempty" yaml:"version" toml:"version"`
}

// Validate checks that the profile can be executed by its backend.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Language) == "" {
		return fmt.Errorf("profile without language")
	}
	switch p.Backend {
	case "", BackendContainer, BackendProcess:
		if p.FileName == "" {
			return fmt.Errorf("profile %s: file is required", p.Language)
		}
		if strings.ContainsAny(p.FileName, `/\`) {
			return fmt.Errorf("profile %s: file must be a bare name", p.Language)
		}
		if len(p.Run) == 0 {
			return fmt.Errorf("profile %s: run command is required", p.Language)
		}
	case BackendScript, BackendRemote:
	default:
		return fmt.Errorf("profile %s: unknown backend %q", p.Language, p.Backend)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("profile %s: negative timeout", p.Language)
	}
	return nil
}

// RemoteName returns the language name used by a remote runner.
func (p Profile) RemoteName() string {
	if p.Remote != "" {
		return p.Remote
	}
	return p.Language
}

func expand(argv []string, dir, file string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		arg = strings.ReplaceAll(arg, "{file}", file)
		out[i] = strings.ReplaceAll(arg, "{dir}", dir)
	}
	return out
}

// DefaultProfiles returns the built-in language set.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Language: "python",
			Aliases:  []string{"py", "python3"},
			Image:    "python:3.12-slim",
			FileName: "main.py",
			Run:      []string{"python3", "-u", "{file}"},
			Version:  "3.12",
		},
		{
			Language: "cpp",
			Aliases:  []string{"c++", "cxx"},
			Image:    "gcc:13",
			FileName: "main.cpp",
			Compile:  []string{"g++", "-O2", "-std=c++17", "-o", "{dir}/main", "{file}"},
			Run:      []string{"{dir}/main"},
			Remote:   "c++",
			Version:  "10.2.0",
		},
		{
			Language: "java",
			Image:    "eclipse-temurin:21-jdk",
			FileName: "Main.java",
			Compile:  []string{"javac", "-d", "{dir}", "{file}"},
			Run:      []string{"java", "-cp", "{dir}", "Main"},
			Timeout:  Duration(10 * time.Second),
			Version:  "15.0.2",
		},
		{
			Language: "javascript",
			Aliases:  []string{"js", "node"},
			Backend:  BackendScript,
			FileName: "main.js",
			Version:  "18.15.0",
		},
	}
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles" toml:"profiles"`
}

// LoadProfiles reads profiles from a YAML or TOML file, chosen by extension.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var file profileFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported profiles format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	for _, p := range file.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Profiles, nil
}

// Merge overlays profiles on base by language, appending new languages.
func Merge(base, overlay []Profile) []Profile {
	out := append([]Profile(nil), base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[normalizeLanguage(p.Language)] = i
	}
	for _, p := range overlay {
		key := normalizeLanguage(p.Language)
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}

func normalizeLanguage(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ProfileStore resolves language names and aliases to profiles. It can be
// swapped atomically when the profiles file changes.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles []Profile
	byName   map[string]Profile
}

// NewProfileStore creates a store holding profiles.
func NewProfileStore(profiles []Profile) (*ProfileStore, error) {
	s := &ProfileStore{}
	if err := s.Replace(profiles); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the profile set. On error the previous set is kept.
func (s *ProfileStore) Replace(profiles []Profile) error {
	byName := make(map[string]Profile, len(profiles)*2)
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		p.Language = normalizeLanguage(p.Language)
		names := append([]string{p.Language}, p.Aliases...)
		for _, name := range names {
			key := normalizeLanguage(name)
			if prev, dup := byName[key]; dup && prev.Language != p.Language {
				return fmt.Errorf("language name %q used by %s and %s", key, prev.Language, p.Language)
			}
			byName[key] = p
		}
	}

	sorted := make([]Profile, 0, len(profiles))
	seen := make(map[string]bool, len(profiles))
	for _, p := range byName {
		if !seen[p.Language] {
			seen[p.Language] = true
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Language < sorted[j].Language })

	s.mu.Lock()
	s.profiles = sorted
	s.byName = byName
	s.mu.Unlock()
	return nil
}

// Resolve finds the profile for a language name or alias.
func (s *ProfileStore) Resolve(language string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byName[normalizeLanguage(language)]
	return p, ok
}

// List returns all profiles sorted by language.
func (s *ProfileStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Profile(nil), s.profiles...)
}
