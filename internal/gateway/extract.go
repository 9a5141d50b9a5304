package gateway

import (
	"encoding/json"
)

// Extraction is the text pulled from a proxied payload plus a writer that
// substitutes sanitized text back into the same position, leaving every other
// field untouched.
type Extraction struct {
	Text    string
	Field   string // which strategy matched, for audit meta
	Replace func(sanitized string) ([]byte, error)
}

// ExtractText pulls the checkable text from a request body. Strategies run in
// a fixed order and the first hit wins:
//
//  1. the whole body, when it is a bare JSON string
//  2. body.query
//  3. body.input
//  4. body.prompt
//  5. the content of the last element of body.messages
//
// Returns nil when no strategy matches; the gateway then skips firewall
// checks and proxies the payload unchanged.
func ExtractText(raw []byte) *Extraction {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return &Extraction{
			Text:  bare,
			Field: "body",
			Replace: func(s string) ([]byte, error) {
				return json.Marshal(s)
			},
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	for _, field := range []string{"query", "input", "prompt"} {
		if v, ok := obj[field]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				f := field
				return &Extraction{
					Text:  s,
					Field: f,
					Replace: func(sanitized string) ([]byte, error) {
						return replaceField(obj, f, sanitized)
					},
				}
			}
		}
	}

	if v, ok := obj["messages"]; ok {
		var msgs []map[string]json.RawMessage
		if err := json.Unmarshal(v, &msgs); err == nil && len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			var content string
			if err := json.Unmarshal(last["content"], &content); err == nil {
				return &Extraction{
					Text:  content,
					Field: "messages",
					Replace: func(sanitized string) ([]byte, error) {
						raw, err := json.Marshal(sanitized)
						if err != nil {
							return nil, err
						}
						last["content"] = raw
						msgsRaw, err := json.Marshal(msgs)
						if err != nil {
							return nil, err
						}
						obj["messages"] = msgsRaw
						return json.Marshal(obj)
					},
				}
			}
		}
	}

	return nil
}

// ExtractAnswer pulls the model output from a backend response body:
// top-level answer first, then data.answer. Returns nil when neither exists.
func ExtractAnswer(raw []byte) *Extraction {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	if v, ok := obj["answer"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return &Extraction{
				Text:  s,
				Field: "answer",
				Replace: func(sanitized string) ([]byte, error) {
					return replaceField(obj, "answer", sanitized)
				},
			}
		}
	}

	if v, ok := obj["data"]; ok {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(v, &data); err == nil {
			if av, ok := data["answer"]; ok {
				var s string
				if err := json.Unmarshal(av, &s); err == nil {
					return &Extraction{
						Text:  s,
						Field: "data.answer",
						Replace: func(sanitized string) ([]byte, error) {
							raw, err := json.Marshal(sanitized)
							if err != nil {
								return nil, err
							}
							data["answer"] = raw
							dataRaw, err := json.Marshal(data)
							if err != nil {
								return nil, err
							}
							obj["data"] = dataRaw
							return json.Marshal(obj)
						},
					}
				}
			}
		}
	}

	return nil
}

func replaceField(obj map[string]json.RawMessage, field, value string) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	obj[field] = raw
	return json.Marshal(obj)
}
