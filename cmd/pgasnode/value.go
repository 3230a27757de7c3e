package main

import (
	"fmt"
	"strconv"
	"strings"
)

const valueTypes = "string, int, int64, float64, bool, []string"

// parseValue turns a command-line literal into a value of a builtin codec
// schema.
func parseValue(kind, raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "string", "":
		return raw, nil
	case "int":
		return strconv.Atoi(raw)
	case "int64":
		return strconv.ParseInt(raw, 10, 64)
	case "float64":
		return strconv.ParseFloat(raw, 64)
	case "bool":
		return strconv.ParseBool(raw)
	case "[]string":
		if raw == "" {
			return []string{}, nil
		}
		return strings.Split(raw, ","), nil
	default:
		return nil, fmt.Errorf("unknown value type %q, want one of %s", kind, valueTypes)
	}
}
