package retrieval

import "strings"

// Chunk splits text into windows of at most size runes, each starting
// size-overlap runes after the previous one.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
