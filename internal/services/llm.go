package services

import (
	"iter"
	"strings"
)

// collectChat drains a chat stream into the complete reply text.
func collectChat(it iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for chunk, err := range it {
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
	return strings.TrimSpace(sb.String()), nil
}
