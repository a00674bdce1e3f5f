package utils

import "unicode"

// SplitText cuts text into chunks of at most chunkSize runes, with consecutive
// chunks sharing about overlap runes. A cut is moved back to the last
// whitespace in the second half of the window so words stay whole.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = backToSpace(runes, start+chunkSize/2, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = skipSpace(runes, toWordStart(runes, next, end))
	}
	return chunks
}

func backToSpace(runes []rune, min, end int) int {
	for i := end; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// toWordStart moves i forward to the start of the next word, or leaves it
// where it is when no word starts before end.
func toWordStart(runes []rune, i, end int) int {
	for j := i; j < end; j++ {
		if j == 0 || unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	return i
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
