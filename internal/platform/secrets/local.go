package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// localFile serves secrets from a plain "reference=value" file for development machines. A line
// may pin a version as "secret://name#3=value". The file is read once, on first use; a missing
// file is empty.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (l *localFile) lookup(ref Ref, version string) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	if value, ok := l.values[versionKey(ref.Canonical(), version)]; ok {
		return value, true, nil
	}
	value, ok := l.values[ref.Canonical()]
	return value, ok, nil
}

func (l *localFile) load() {
	l.values = map[string]string{}
	if l.path == "" {
		return
	}
	file, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Values may contain '=', references may not.
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, version, _ := strings.Cut(strings.TrimSpace(key), "#")
		ref, err := ParseRef(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if version == "" {
			l.values[ref.Canonical()] = value
		} else {
			l.values[versionKey(ref.Canonical(), version)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
	}
}

func versionKey(canonical, version string) string {
	return canonical + "#" + version
}
