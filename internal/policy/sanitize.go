package policy

import (
	"regexp"
	"sync"
)

// RedactionMarker replaces masked content.
const RedactionMarker = "[REDACTED]"

// Transform rewrites sanitizable content. The sanitize semantics are rule
// metadata driven: there is no single universal sanitization algorithm.
type Transform func(content string) string

const defaultSanitizer = "mask_all"

var (
	transformMu sync.RWMutex
	transforms  = map[string]Transform{
		// mask_all replaces the entire payload.
		"mask_all": func(string) string { return RedactionMarker },
		// mask_secrets redacts long opaque tokens in place.
		"mask_secrets": maskSecrets,
	}
)

var longTokenRe = regexp.MustCompile(`\b[A-Za-z0-9_\-]{20,}\b`)

func maskSecrets(content string) string {
	return longTokenRe.ReplaceAllString(content, RedactionMarker)
}

// RegisterTransform installs a named sanitize transform. Registering an
// existing name replaces it.
func RegisterTransform(name string, fn Transform) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

// sanitizerFor resolves the transform name for a sanitize/transform rule.
// Rules select a transform via metadata key "sanitize_with".
func sanitizerFor(r Guardrail) string {
	if name := r.Metadata["sanitize_with"]; name != "" {
		return name
	}
	return defaultSanitizer
}

// ApplySanitizer runs the named transform over content. Unknown names fall
// back to mask_all: failing open on a typo would leak the very content the
// rule wanted gone.
func ApplySanitizer(name string, content string) string {
	transformMu.RLock()
	fn, ok := transforms[name]
	transformMu.RUnlock()
	if !ok {
		return RedactionMarker
	}
	return fn(content)
}
