package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractScannableText_JSONCollectsAllStringLeaves(t *testing.T) {
	body := []byte(`{
		"prompt": "hello",
		"options": {"model": "gpt-x", "temperature": 0.2},
		"messages": [{"role": "user", "content": "how are you"}]
	}`)

	texts := extractScannableText(body, "application/json", nil)

	assert.ElementsMatch(t, []string{"hello", "gpt-x", "user", "how are you"}, texts)
}

func TestExtractScannableText_ScanFieldsLimitExtraction(t *testing.T) {
	body := []byte(`{"prompt": "scan me", "metadata": {"note": "leave me"}, "nested": {"deep": {"value": "also me"}}}`)

	texts := extractScannableText(body, "application/json; charset=utf-8", []string{"prompt", "nested.deep.value"})

	assert.Equal(t, []string{"scan me", "also me"}, texts)
}

func TestExtractScannableText_MissingScanFieldSkipped(t *testing.T) {
	body := []byte(`{"prompt": "present"}`)

	texts := extractScannableText(body, "application/json", []string{"prompt", "absent.path"})

	assert.Equal(t, []string{"present"}, texts)
}

func TestExtractScannableText_ScanFieldObjectYieldsItsStrings(t *testing.T) {
	body := []byte(`{"payload": {"a": "one", "b": ["two", 3]}}`)

	texts := extractScannableText(body, "application/json", []string{"payload"})

	assert.ElementsMatch(t, []string{"one", "two"}, texts)
}

func TestExtractScannableText_NonJSONBodyScannedWhole(t *testing.T) {
	body := []byte("field=value&other=thing")

	texts := extractScannableText(body, "application/x-www-form-urlencoded", nil)

	assert.Equal(t, []string{"field=value&other=thing"}, texts)
}

func TestExtractScannableText_InvalidJSONFallsBackToRawBody(t *testing.T) {
	body := []byte(`{"broken":`)

	texts := extractScannableText(body, "application/json", nil)

	assert.Equal(t, []string{`{"broken":`}, texts)
}

func TestExtractScannableText_EmptyBody(t *testing.T) {
	assert.Nil(t, extractScannableText(nil, "application/json", nil))
}
