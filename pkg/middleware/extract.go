package middleware

import (
	"strings"

	"github.com/valyala/fastjson"
)

// extractScannableText collects the pieces of a request body that should be
// scanned. JSON bodies are walked recursively and every string leaf is
// collected; when scanFields is set, only those dot-separated paths are
// extracted. Non-JSON bodies are scanned as a single opaque string.
func extractScannableText(body []byte, contentType string, scanFields []string) []string {
	if len(body) == 0 {
		return nil
	}

	if !strings.Contains(strings.ToLower(contentType), "json") {
		return []string{string(body)}
	}

	var p fastjson.Parser
	parsed, err := p.ParseBytes(body)
	if err != nil {
		return []string{string(body)}
	}

	if len(scanFields) > 0 {
		texts := make([]string, 0, len(scanFields))
		for _, field := range scanFields {
			v := parsed.Get(strings.Split(field, ".")...)
			if v == nil {
				continue
			}
			texts = append(texts, collectStrings(v, nil)...)
		}
		return texts
	}

	return collectStrings(parsed, nil)
}

func collectStrings(v *fastjson.Value, acc []string) []string {
	switch v.Type() {
	case fastjson.TypeString:
		if b, err := v.StringBytes(); err == nil && len(b) > 0 {
			acc = append(acc, string(b))
		}
	case fastjson.TypeObject:
		obj, err := v.Object()
		if err != nil {
			return acc
		}
		obj.Visit(func(_ []byte, value *fastjson.Value) {
			acc = collectStrings(value, acc)
		})
	case fastjson.TypeArray:
		for _, item := range v.GetArray() {
			acc = collectStrings(item, acc)
		}
	}
	return acc
}
