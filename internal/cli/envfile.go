package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// mergeEnv builds the executor environment from env files and inline
// declarations, later sources overriding earlier ones. Both share the same
// line grammar:
//
//   - lines starting with '#' are comments;
//   - a bare name inherits the value from lookup, defaulting to "";
//   - a line starting with '=' is ignored;
//   - otherwise the line splits at the first '='.
//
// A nil map is returned when there is nothing to merge, so the field stays
// absent from the task.
func mergeEnv(files, inline []string, lookup func(string) (string, bool)) (map[string]string, error) {
	if len(files) == 0 && len(inline) == 0 {
		return nil, nil
	}

	env := make(map[string]string)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			mergeEnvLine(env, scanner.Text(), lookup)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", path, err)
		}
	}

	for _, line := range inline {
		mergeEnvLine(env, line, lookup)
	}
	return env, nil
}

func mergeEnvLine(env map[string]string, line string, lookup func(string) (string, bool)) {
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	eq := strings.Index(line, "=")
	switch {
	case eq == 0:
		// Nameless assignment, skipped.
	case eq == -1:
		value, _ := lookup(line)
		env[line] = value
	default:
		env[line[:eq]] = line[eq+1:]
	}
}
