package conversation

import "strings"

// DefaultTerminationWord is the sentinel agents emit to end a chat.
const DefaultTerminationWord = "TERMINATE"

// TerminationFunc reports whether a logged message ends the conversation.
type TerminationFunc func(Message) bool

// ContainsTermination fires when the content contains word.
func ContainsTermination(word string) TerminationFunc {
	return func(m Message) bool {
		return word != "" && strings.Contains(m.Content, word)
	}
}

// SuffixTermination fires when the trimmed content ends with word.
func SuffixTermination(word string) TerminationFunc {
	return func(m Message) bool {
		return word != "" && strings.HasSuffix(strings.TrimSpace(m.Content), word)
	}
}

// AnyTermination fires when any of fns fires. Nil entries are skipped.
func AnyTermination(fns ...TerminationFunc) TerminationFunc {
	return func(m Message) bool {
		for _, fn := range fns {
			if fn != nil && fn(m) {
				return true
			}
		}
		return false
	}
}
