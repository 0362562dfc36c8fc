package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFileCandidates exports KEY=VALUE lines from $MAKO_ENV_FILE and
// ~/.mako/env into the process environment. Variables that are already set
// win over file values.
func LoadEnvFileCandidates() {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv("MAKO_ENV_FILE")); explicit != "" {
		paths = append(paths, expandHome(explicit))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ConfigDir, "env"))
	}
	for _, p := range paths {
		vars, err := readEnvFile(p)
		if err != nil {
			continue
		}
		for k, v := range vars {
			if _, set := os.LookupEnv(k); !set {
				_ = os.Setenv(k, v)
			}
		}
	}
}

// readEnvFile parses a dotenv-style file. Blank lines, comments and lines
// without '=' are ignored; an "export " prefix and matching quotes are
// stripped.
func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if n := len(val); n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0] {
			val = val[1 : n-1]
		}
		vars[key] = val
	}
	return vars, sc.Err()
}
