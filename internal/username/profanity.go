package username

import (
	_ "embed"
	"log"
	"strings"
	"sync"
)

//go:embed wordlist.txt
var rawWordlist string

// substringMinLength is the floor below which a blocked word only matches the
// whole string, never a substring. Without it, short fragments embedded in
// otherwise fine usernames ("bassoon") would be blacklisted.
const substringMinLength = 4

var (
	loadOnce     sync.Once
	blockedWords []string
)

func loadWordlist() {
	for _, line := range strings.Split(rawWordlist, "\n") {
		word := strings.ToLower(strings.TrimSpace(line))
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		blockedWords = append(blockedWords, word)
	}
	if len(blockedWords) == 0 {
		log.Println("WARNING: profanity wordlist is empty; profanity checks are disabled")
	}
}

// ContainsProfanity reports whether the text matches the blocked-word list.
// The text is lowercased and trimmed, then blocked if it exactly equals a
// listed word, or contains a listed word of length >= 4 as a substring.
//
// The substring check has no word-boundary awareness, so a name that merely
// embeds a blocked 4+ letter word is also flagged. Known heuristic weakness,
// kept deliberately.
func ContainsProfanity(text string) bool {
	loadOnce.Do(loadWordlist)

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}

	for _, word := range blockedWords {
		if normalized == word {
			return true
		}
		if len(word) >= substringMinLength && strings.Contains(normalized, word) {
			return true
		}
	}
	return false
}
