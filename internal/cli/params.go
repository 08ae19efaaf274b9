package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// parseParams turns key=value pairs into job parameters. A value that parses as JSON keeps its
// type, anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

// parseOverrides turns key=value pairs into numeric simulation overrides.
func parseOverrides(pairs []string) (models.Overrides, error) {
	o := make(models.Overrides, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("override %s: %q is not a number", key, raw)
		}
		o[key] = v
	}
	return o, nil
}

func parseJobType(name string) (models.JobType, error) {
	t := models.JobType(name)
	if !t.Valid() {
		return "", fmt.Errorf("unknown job type %q (valid: %s)", name, strings.Join(jobTypeNames(), ", "))
	}
	return t, nil
}

func jobTypeNames() []string {
	names := make([]string, 0, len(models.JobTypes))
	for _, t := range models.JobTypes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
