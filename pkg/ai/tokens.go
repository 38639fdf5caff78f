package ai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "o200k_base"

// TruncateTokens clips text to at most maxTokens tokens of the o200k_base
// encoding. A non-positive maxTokens returns text unchanged.
func TruncateTokens(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 || text == "" {
		return text, nil
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return "", fmt.Errorf("failed to load token encoding: %w", err)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	return enc.Decode(tokens[:maxTokens]), nil
}
