package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdictDoc struct {
	TestsPassed bool     `json:"tests_passed"`
	Errors      []string `json:"errors"`
}

func TestParseJSONDirect(t *testing.T) {
	result := ParseJSON[verdictDoc](`{"tests_passed": true, "errors": []}`, "judge")
	require.True(t, result.OK)
	assert.True(t, result.Value.TestsPassed)
}

func TestParseJSONFenced(t *testing.T) {
	text := "```json\n{\"tests_passed\": false, \"errors\": [\"assert failed\"]}\n```"
	result := ParseJSON[verdictDoc](text, "judge")
	require.True(t, result.OK)
	assert.False(t, result.Value.TestsPassed)
	assert.Equal(t, []string{"assert failed"}, result.Value.Errors)
}

func TestParseJSONTrailingComma(t *testing.T) {
	result := ParseJSON[verdictDoc](`{"tests_passed": true, "errors": ["x",],}`, "judge")
	require.True(t, result.OK)
	assert.True(t, result.Value.TestsPassed)
}

func TestParseJSONMixedContent(t *testing.T) {
	text := "Here is my evaluation of the run:\n\n{\"tests_passed\": false, \"errors\": [\"2 tests failing\"]}\n\nLet me know if you need more detail."
	result := ParseJSON[verdictDoc](text, "judge")
	require.True(t, result.OK)
	assert.Equal(t, []string{"2 tests failing"}, result.Value.Errors)
}

func TestParseJSONArray(t *testing.T) {
	type step struct {
		Step string `json:"step"`
	}
	result := ParseJSON[[]step](`[{"step": "a"}, {"step": "b"}]`, "plan")
	require.True(t, result.OK)
	require.Len(t, result.Value, 2)
	assert.Equal(t, "b", result.Value[1].Step)
}

func TestParseJSONFailure(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "prose only", text: "I could not produce a verdict."},
		{name: "hopelessly broken", text: `{"tests_passed": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseJSON[verdictDoc](tt.text, "judge")
			assert.False(t, result.OK)
			assert.NotEmpty(t, result.Err)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "python fence", in: "```python\ndef f():\n    pass\n```", want: "def f():\n    pass"},
		{name: "bare fence", in: "```\nx = 1\n```", want: "x = 1"},
		{name: "no fence", in: "x = 1", want: "x = 1"},
		{name: "single backticks", in: "`x = 1`", want: "x = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abcde...", Truncate("abcdefgh", 5))
}

func TestIsRetriableError(t *testing.T) {
	assert.False(t, isRetriableError(nil))
	assert.True(t, isRetriableError(errString("429 too many requests")))
	assert.True(t, isRetriableError(errString("rate limit exceeded")))
	assert.True(t, isRetriableError(errString("503 service unavailable")))
	assert.True(t, isRetriableError(errString("connection reset by peer")))
	assert.False(t, isRetriableError(errString("401 unauthorized")))
	assert.False(t, isRetriableError(errString("invalid request body")))
}

type errString string

func (e errString) Error() string { return string(e) }
