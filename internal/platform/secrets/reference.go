package secrets

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// reference is a parsed secret://name[?version=N&project=P] string.
type reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return reference{
		Canonical: "secret://" + name,
		Secret:    name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

// maskReference hashes a reference so metric labels never carry secret names.
func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}

// fallbackFile is a lazily read KEY=VALUE file whose keys are secret references.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) load() (map[string]string, error) {
	f.once.Do(func() {
		f.values = map[string]string{}
		if f.path == "" {
			return
		}
		file, err := os.Open(f.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			f.err = fmt.Errorf("secrets: open fallback file %s: %w", f.path, err)
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			ref, err := parseReference(key)
			if err != nil {
				continue
			}
			value = strings.TrimSpace(value)
			version := ref.Version
			if version == "" {
				version = latestVersion
				f.values[ref.Canonical] = value
			}
			f.values[cacheKey(ref.Canonical, version)] = value
		}
		if err := scanner.Err(); err != nil {
			f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
		}
	})
	return f.values, f.err
}

func (f *fallbackFile) lookup(canonical, version string) (string, bool, error) {
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	if v, ok := values[cacheKey(canonical, version)]; ok {
		return v, true, nil
	}
	v, ok := values[canonical]
	return v, ok, nil
}

func (f *fallbackFile) empty() bool {
	values, _ := f.load()
	return len(values) == 0
}
