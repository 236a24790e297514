package cluster

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// promptTemplate instructs the model to answer in an exact three-line format
// so the response can be parsed by prefix. %s receives the separator-joined
// topic documents.
const promptTemplate = `Given the following documents that belong to the same topic cluster,
analyze them and provide a structured response that captures the main theme or subject.

Documents:
%s

Please provide your response in the following exact format:

LABEL: [A concise label, maximum 5 words, that best describes the topic]
DESCRIPTION: [A brief description, maximum 2 sentences, explaining the topic in more detail]
CONFIDENCE: [A number between 0 and 1, indicating how well the documents fit this label]

Example format:
LABEL: Social Media Marketing Trends
DESCRIPTION: Discussion of emerging social media marketing strategies and their impact on brand engagement. Focus on platform-specific tactics and ROI measurement.
CONFIDENCE: 0.85

Important:
- Keep the label to maximum 5 words
- Keep the description to maximum 2 sentences
- Provide confidence as a number between 0 and 1
- Use exactly the format shown above with LABEL:, DESCRIPTION:, and CONFIDENCE: prefixes`

// TopicLabelRow is the persisted label row. Exactly one row is written per
// topic per run; failed generations land as placeholder rows with confidence
// 0 and the error carried both in ErrorMessage and as a marker in TopicLabel.
type TopicLabelRow struct {
	RunID              string    `bigquery:"run_id" json:"run_id"`
	TopicID            int64     `bigquery:"topic_id" json:"topic_id"`
	CreatedAt          time.Time `bigquery:"created_at" json:"created_at"`
	TopicLabel         string    `bigquery:"topic_label" json:"topic_label"`
	TopicDescription   *string   `bigquery:"topic_description" json:"topic_description,omitempty"`
	ConfidenceScore    float64   `bigquery:"confidence_score" json:"confidence_score"`
	NumDocumentsUsed   int64     `bigquery:"num_documents_used" json:"num_documents_used"`
	AvgAssignmentScore float64   `bigquery:"avg_assignment_score" json:"avg_assignment_score"`
	ModelMetadata      string    `bigquery:"model_metadata" json:"model_metadata,omitempty"`
	ErrorMessage       *string   `bigquery:"error_message" json:"error_message,omitempty"`
}

// topicDocs is one topic's aggregated labeling input.
type topicDocs struct {
	TopicID            int64
	Documents          string
	AvgAssignmentScore float64
	NumDocuments       int64
}

// generateResult mirrors the managed model's JSON envelope, as far as the
// parser consumes it.
type generateResult struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		AvgLogprobs  float64 `json:"avg_logprobs"`
		Score        float64 `json:"score"`
		FinishReason string  `json:"finish_reason"`
	} `json:"candidates"`
	ModelVersion  string         `json:"model_version"`
	ResponseID    string         `json:"response_id"`
	UsageMetadata map[string]any `json:"usage_metadata"`
}

type parsedLabel struct {
	Label       string
	Description string
	Confidence  float64
}

func buildPrompt(documents string) string {
	return fmt.Sprintf(promptTemplate, documents)
}

// extractResponseText pulls the generated text out of the model's JSON
// envelope.
func extractResponseText(raw string) (string, generateResult, error) {
	var result generateResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", result, fmt.Errorf("invalid JSON response: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", result, fmt.Errorf("no candidates in response")
	}
	candidate := result.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", result, fmt.Errorf("no content parts in candidate")
	}
	return strings.TrimSpace(candidate.Content.Parts[0].Text), result, nil
}

// parseLabelResponse locates the three expected prefixed lines and validates
// the extracted values. Confidence outside [0, 1] is rejected outright rather
// than clamped; labels over 5 words are accepted up to a hard cap of 15.
func parseLabelResponse(text string) (parsedLabel, error) {
	var parsed parsedLabel

	label, ok := findPrefixedLine(text, "LABEL:")
	if !ok {
		return parsed, fmt.Errorf("missing LABEL line")
	}
	description, ok := findPrefixedLine(text, "DESCRIPTION:")
	if !ok {
		return parsed, fmt.Errorf("missing DESCRIPTION line")
	}
	confidenceText, ok := findPrefixedLine(text, "CONFIDENCE:")
	if !ok {
		return parsed, fmt.Errorf("missing CONFIDENCE line")
	}

	confidence, err := strconv.ParseFloat(confidenceText, 64)
	if err != nil {
		return parsed, fmt.Errorf("confidence is not a number: %q", confidenceText)
	}

	if label == "" {
		return parsed, fmt.Errorf("label cannot be empty")
	}
	if len(strings.Fields(label)) > 15 {
		return parsed, fmt.Errorf("label is too long (should be concise)")
	}
	if description == "" || len(strings.Split(description, ".")) > 7 {
		return parsed, fmt.Errorf("description must be 1-2 sentences")
	}
	if confidence < 0 || confidence > 1 {
		return parsed, fmt.Errorf("confidence must be between 0 and 1")
	}

	parsed.Label = label
	parsed.Description = description
	parsed.Confidence = confidence
	return parsed, nil
}

func findPrefixedLine(text, prefix string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// successMetadata serializes the model bookkeeping stored alongside a good
// label.
func successMetadata(result generateResult, prompt string) string {
	candidate := result.Candidates[0]
	meta := map[string]any{
		"avg_logprobs":   candidate.AvgLogprobs,
		"score":          candidate.Score,
		"finish_reason":  candidate.FinishReason,
		"model_version":  result.ModelVersion,
		"response_id":    result.ResponseID,
		"prompt_used":    prompt,
		"usage_metadata": result.UsageMetadata,
	}
	return marshalMetadata(meta)
}

func errorMetadata(err error, rawResponse, prompt string) string {
	meta := map[string]any{
		"error":        err.Error(),
		"raw_response": truncate(rawResponse, 500),
		"prompt_used":  prompt,
	}
	return marshalMetadata(meta)
}

func marshalMetadata(meta map[string]any) string {
	b, err := json.Marshal(meta)
	if err != nil {
		return `{"error":"metadata serialization failed"}`
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// placeholderRow builds the error row written when generation or parsing
// fails for a topic, so the topic still receives exactly one row.
func placeholderRow(runID string, docs topicDocs, now time.Time, label string, description *string, reason error, metadata string) TopicLabelRow {
	msg := reason.Error()
	return TopicLabelRow{
		RunID:              runID,
		TopicID:            docs.TopicID,
		CreatedAt:          now,
		TopicLabel:         label,
		TopicDescription:   description,
		ConfidenceScore:    0.0,
		NumDocumentsUsed:   docs.NumDocuments,
		AvgAssignmentScore: docs.AvgAssignmentScore,
		ModelMetadata:      metadata,
		ErrorMessage:       &msg,
	}
}
