package processmanagement

import (
	"sort"
	"strings"

	"github.com/core-tools/hsu-procsup/pkg/registry"
)

// controlKeys are consumed by the supervisor and never forwarded to workers
var controlKeys = []string{registry.EnableKey, "enabled"}

func isControlKey(key string) bool {
	for _, k := range controlKeys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// MergeArgs combines configured launch parameters with per-invocation overrides.
// Overrides win key by key; control keys are dropped.
func MergeArgs(configured, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(configured)+len(overrides))
	for k, v := range configured {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	for k := range merged {
		if isControlKey(k) {
			delete(merged, k)
		}
	}
	return merged
}

// BuildArgv renders args as "--key value" pairs in key order. Empty values become a bare "--key".
func BuildArgv(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	argv := make([]string, 0, len(args)*2)
	for _, k := range keys {
		argv = append(argv, "--"+k)
		if v := args[k]; v != "" {
			argv = append(argv, v)
		}
	}
	return argv
}
