package detector

import (
	"context"
	"regexp"
)

// scanner is one threat-category matcher inside the heuristic detector.
type scanner interface {
	Name() string
	Threat() ThreatType
	Scan(ctx context.Context, content string) Signal
}

type pattern struct {
	re         *regexp.Regexp
	confidence float64
	detail     string
}

// patternScanner matches a pre-compiled pattern set and reports the highest
// confidence hit. Patterns are compiled once at init, never per request.
type patternScanner struct {
	name     string
	threat   ThreatType
	patterns []pattern
}

func (s *patternScanner) Name() string       { return s.name }
func (s *patternScanner) Threat() ThreatType { return s.threat }

func (s *patternScanner) Scan(ctx context.Context, content string) Signal {
	sig := Signal{Scanner: s.name, Threat: s.threat}
	hits := 0
	for _, p := range s.patterns {
		if ctx.Err() != nil {
			break
		}
		if p.re.MatchString(content) {
			hits++
			if p.confidence > sig.Confidence {
				sig.Confidence = p.confidence
				sig.Details = p.detail
			}
		}
	}
	if hits > 1 {
		sig.Details = "multiple patterns matched: " + sig.Details
	}
	sig.Triggered = sig.Confidence > 0
	return sig
}

// matchCount returns how many patterns match. Used for the
// injection-pattern-count feature.
func (s *patternScanner) matchCount(content string) int {
	n := 0
	for _, p := range s.patterns {
		if p.re.MatchString(content) {
			n++
		}
	}
	return n
}

// All patterns use (?i) where case matters, so the payload is never lowercased
// (which would allocate a copy on every request).
var injectionScanner = &patternScanner{
	name:   "prompt_injection",
	threat: ThreatPromptInjection,
	patterns: []pattern{
		{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), 0.95, "override: ignore previous instructions"},
		{regexp.MustCompile(`(?i)ignore\s+(all\s+)?above\s+instructions`), 0.95, "override: ignore above instructions"},
		{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), 0.95, "override: disregard instructions"},
		{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions|context)`), 0.90, "override: forget instructions"},
		{regexp.MustCompile(`(?i)you\s+are\s+now\s+`), 0.85, "identity override: you are now"},
		{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), 0.85, "identity override: from now on"},
		{regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`), 0.85, "identity override: new role"},
		{regexp.MustCompile(`(?i)\[SYSTEM\]`), 0.90, "delimiter injection: [SYSTEM] tag"},
		{regexp.MustCompile(`(?i)<\|im_start\|>system`), 0.95, "delimiter injection: ChatML system tag"},
		{regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW INSTRUCTION)`), 0.90, "delimiter injection: markdown system header"},
		{regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`), 0.95, "explicit override attempt"},
		{regexp.MustCompile(`(?i)bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "explicit bypass attempt"},
		{regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)`), 0.90, "instruction negation"},
		{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},
		{regexp.MustCompile(`(?i)what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`), 0.85, "system prompt extraction"},
		{regexp.MustCompile(`(?i)output\s+(your|the)\s+(system|initial|original)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},
	},
}

var piiScanner = &patternScanner{
	name:   "pii",
	threat: ThreatPII,
	patterns: []pattern{
		// SSN: 123-45-6789 or 123 45 6789
		{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), 0.90, "PII: Social Security Number"},
		// Credit cards per issuer prefix, optional separators
		{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Visa)"},
		{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Mastercard)"},
		{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), 0.90, "PII: credit card (Amex)"},
		{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), 0.85, "PII: email address"},
		{regexp.MustCompile(`(\+1[-\s]?)?\(?\d{3}\)?[-\s.]\d{3}[-\s.]\d{4}\b`), 0.75, "PII: phone number (US)"},
		{regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), 0.80, "PII: IBAN"},
	},
}

var secretScanner = &patternScanner{
	name:   "secret_leakage",
	threat: ThreatSecretLeakage,
	patterns: []pattern{
		{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95, "secret: AWS access key id"},
		{regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`), 0.95, "secret: private key block"},
		{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), 0.95, "secret: GitHub token"},
		{regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`), 0.90, "secret: API secret key"},
		{regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`), 0.90, "secret: Slack token"},
		{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|passwd|token)\s*[:=]\s*['"][^'"]{8,}['"]`), 0.80, "secret: credential assignment"},
		{regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\b`), 0.85, "secret: JWT"},
	},
}

var maliciousCodeScanner = &patternScanner{
	name:   "malicious_code",
	threat: ThreatMaliciousCode,
	patterns: []pattern{
		{regexp.MustCompile(`(?i)\b(union\s+select|or\s+1\s*=\s*1|;\s*drop\s+table|'\s*or\s*')`), 0.85, "sql injection pattern"},
		{regexp.MustCompile(`(?i)<script[^>]*>`), 0.85, "xss: script tag"},
		{regexp.MustCompile(`(?i)javascript:\s*[a-z]`), 0.75, "xss: javascript uri"},
		{regexp.MustCompile(`(?i)on(error|load|click)\s*=\s*['"]`), 0.75, "xss: inline event handler"},
		{regexp.MustCompile(`(?i)(curl|wget)\s+[^\s|;]+\s*\|\s*(ba)?sh\b`), 0.90, "shell: download-and-execute"},
		{regexp.MustCompile(`(?i)\brm\s+-rf\s+/`), 0.90, "shell: destructive command"},
		{regexp.MustCompile(`(?i)base64\s+(-d|--decode)\s*\|`), 0.80, "shell: decode-and-pipe"},
	},
}

// defaultScanners is the scanner set the heuristic detector runs.
// The SQLi/XSS patterns live in the malicious_code scanner; its dominant
// pattern decides whether the verdict reports sql_injection or xss.
func defaultScanners() []scanner {
	return []scanner{injectionScanner, piiScanner, secretScanner, maliciousCodeScanner}
}

// refineThreat narrows a malicious_code signal to sql_injection or xss when
// the winning detail says so.
func refineThreat(sig Signal) ThreatType {
	if sig.Threat != ThreatMaliciousCode {
		return sig.Threat
	}
	switch {
	case len(sig.Details) >= 3 && sig.Details[:3] == "sql":
		return ThreatSQLInjection
	case len(sig.Details) >= 3 && sig.Details[:3] == "xss":
		return ThreatXSS
	}
	return ThreatMaliciousCode
}
