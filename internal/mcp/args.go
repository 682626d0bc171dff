package mcp

// parseIntArg extracts an integer argument from an MCP arguments map.
// MCP sends numbers as float64, so this handles the conversion.
// Returns defaultVal if the argument is missing or invalid.
func parseIntArg(argsMap map[string]any, key string, defaultVal int) int {
	switch v := argsMap[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}

// parseBoolArg extracts a boolean argument from an MCP arguments map.
// Returns defaultVal if the argument is missing or invalid.
func parseBoolArg(argsMap map[string]any, key string, defaultVal bool) bool {
	if b, ok := argsMap[key].(bool); ok {
		return b
	}
	return defaultVal
}

// parseClampedInt extracts an integer argument and clamps it to [lo, hi].
// Returns defaultVal if the argument is missing or invalid.
func parseClampedInt(argsMap map[string]any, key string, defaultVal, lo, hi int) int {
	return clamp(parseIntArg(argsMap, key, defaultVal), lo, hi)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
