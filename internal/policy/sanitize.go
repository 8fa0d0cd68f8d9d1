package policy

import (
	"sort"
	"strings"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
)

// Sanitization bounds for policy output. Key length tracks the Kubernetes
// label-key limit so output can be copied onto downstream objects.
const (
	MaxOutputKeys   = 10
	MaxValuesPerKey = 5
	MaxKeyLength    = 63
	MaxValueLength  = 100
)

// reservedPrefixes are the key namespaces owned by the controller for
// system-computed mandatory fields. The security module already strips
// them during evaluation; the sanitizer strips them again so the guarantee
// does not depend on the Rego wrapper alone. Must stay in sync with
// securityModuleSource.
var reservedPrefixes = []string{
	"kubernaut.io/",
	"signals.kubernaut.io/",
}

// sanitize enforces the output bounds on raw policy output. Keys are
// processed in sorted order so truncation under the key-count bound is
// deterministic; within one evaluation the last writer in that order wins,
// which pins down the otherwise unspecified rule-conflict behavior. Every
// truncation is logged and counted; nothing is dropped silently.
func (e *Engine) sanitize(raw map[string][]string) map[string][]string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string][]string, len(raw))
	for _, key := range keys {
		if hasReservedPrefix(key) {
			e.truncated("reserved-prefix", "stripping reserved-prefix key",
				logging.Field("key", key))
			continue
		}

		if len(out) >= MaxOutputKeys {
			e.truncated("key-count", "dropping keys beyond the output key bound",
				logging.Field("key", key),
				logging.Field("limit", MaxOutputKeys))
			continue
		}

		cleanKey := key
		if len(cleanKey) > MaxKeyLength {
			cleanKey = cleanKey[:MaxKeyLength]
			e.truncated("key-length", "truncating over-long key",
				logging.Field("key", key),
				logging.Field("limit", MaxKeyLength))
		}

		values := raw[key]
		if len(values) > MaxValuesPerKey {
			e.truncated("value-count", "truncating value list",
				logging.Field("key", key),
				logging.Field("values", len(values)),
				logging.Field("limit", MaxValuesPerKey))
			values = values[:MaxValuesPerKey]
		}

		cleanValues := make([]string, 0, len(values))
		for _, v := range values {
			if len(v) > MaxValueLength {
				e.truncated("value-length", "truncating over-long value",
					logging.Field("key", key),
					logging.Field("limit", MaxValueLength))
				v = v[:MaxValueLength]
			}
			cleanValues = append(cleanValues, v)
		}

		// Sorted iteration makes a later duplicate (from key truncation)
		// overwrite an earlier one: last writer wins, deterministically.
		out[cleanKey] = cleanValues
	}

	return out
}

func (e *Engine) truncated(bound, msg string, fields ...logging.LogField) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.PolicyTruncations.WithLabelValues(bound).Inc()
	}
	e.logger.WarnWithFields(msg, fields...)
}

func hasReservedPrefix(key string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
