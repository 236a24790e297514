package cluster

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiEnvelope(text string) string {
	env := map[string]any{
		"candidates": []any{
			map[string]any{
				"content":       map[string]any{"parts": []any{map[string]any{"text": text}}},
				"avg_logprobs":  -0.12,
				"score":         0.9,
				"finish_reason": "STOP",
			},
		},
		"model_version": "gemini-1.5-pro",
		"response_id":   "resp-1",
		"usage_metadata": map[string]any{
			"total_token_count": 200,
		},
	}
	b, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestParseLabelResponse(t *testing.T) {
	t.Parallel()

	parsed, err := parseLabelResponse("LABEL: Espresso Gear Talk\nDESCRIPTION: Posts about grinders and machines. Mostly purchase advice.\nCONFIDENCE: 0.85")
	require.NoError(t, err)
	assert.Equal(t, "Espresso Gear Talk", parsed.Label)
	assert.Equal(t, "Posts about grinders and machines. Mostly purchase advice.", parsed.Description)
	assert.InDelta(t, 0.85, parsed.Confidence, 1e-9)
}

func TestParseLabelResponseToleratesSurroundingText(t *testing.T) {
	t.Parallel()

	text := "Here is my analysis:\n\nLABEL: Coffee Brewing\nDESCRIPTION: Brewing techniques.\nCONFIDENCE: 0.7\n\nHope this helps."
	parsed, err := parseLabelResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Brewing", parsed.Label)
}

func TestParseLabelResponseFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
	}{
		{"missing confidence", "LABEL: Topic\nDESCRIPTION: Something."},
		{"missing label", "DESCRIPTION: Something.\nCONFIDENCE: 0.5"},
		{"empty label", "LABEL:\nDESCRIPTION: Something.\nCONFIDENCE: 0.5"},
		{"confidence above one", "LABEL: Topic\nDESCRIPTION: Something.\nCONFIDENCE: 1.5"},
		{"confidence negative", "LABEL: Topic\nDESCRIPTION: Something.\nCONFIDENCE: -0.1"},
		{"confidence not numeric", "LABEL: Topic\nDESCRIPTION: Something.\nCONFIDENCE: high"},
		{"confidence trailing garbage", "LABEL: Topic\nDESCRIPTION: Something.\nCONFIDENCE: 0.9abc"},
		{"label sixteen words", "LABEL: " + strings.Repeat("word ", 16) + "\nDESCRIPTION: Something.\nCONFIDENCE: 0.5"},
		{"rambling description", "LABEL: Topic\nDESCRIPTION: One. Two. Three. Four. Five. Six. Seven. Eight.\nCONFIDENCE: 0.5"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseLabelResponse(tc.text)
			assert.Error(t, err)
		})
	}
}

func TestParseLabelResponseAcceptsLongButCappedLabel(t *testing.T) {
	t.Parallel()

	// Labels over the recommended 5 words are accepted up to 15.
	label := "A Fairly Long Topic Label With Nine Words Total"
	parsed, err := parseLabelResponse("LABEL: " + label + "\nDESCRIPTION: Something.\nCONFIDENCE: 0.4")
	require.NoError(t, err)
	assert.Equal(t, label, parsed.Label)
}

func TestExtractResponseText(t *testing.T) {
	t.Parallel()

	text, result, err := extractResponseText(geminiEnvelope("LABEL: X"))
	require.NoError(t, err)
	assert.Equal(t, "LABEL: X", text)
	assert.Equal(t, "gemini-1.5-pro", result.ModelVersion)

	_, _, err = extractResponseText("not json at all")
	assert.Error(t, err)

	_, _, err = extractResponseText(`{"candidates": []}`)
	assert.Error(t, err)

	_, _, err = extractResponseText(`{"candidates": [{"content": {"parts": []}}]}`)
	assert.Error(t, err)
}

func TestBuildPromptCarriesDocumentsAndFormat(t *testing.T) {
	t.Parallel()

	prompt := buildPrompt("doc one\n---\ndoc two")
	assert.Contains(t, prompt, "doc one\n---\ndoc two")
	assert.Contains(t, prompt, "LABEL:")
	assert.Contains(t, prompt, "DESCRIPTION:")
	assert.Contains(t, prompt, "CONFIDENCE:")
}
