package tokenizer

// TrimToBudget keeps the leading system messages plus the longest suffix of
// the remaining history that fits in budget tokens. The newest non-system
// message survives even when it alone is over budget. A non-positive budget
// disables trimming.
func TrimToBudget(t Tokenizer, messages []Message, budget int) ([]Message, error) {
	if budget <= 0 || len(messages) == 0 {
		return messages, nil
	}
	total, err := t.CountMessages(messages)
	if err != nil {
		return nil, err
	}
	if total <= budget {
		return messages, nil
	}

	cost := func(m Message) (int, error) {
		n, err := t.CountTokens(m.Content)
		return n + messageOverhead, err
	}

	pinned := 0
	used := conversationOverhead
	for ; pinned < len(messages) && messages[pinned].Role == "system"; pinned++ {
		c, err := cost(messages[pinned])
		if err != nil {
			return nil, err
		}
		used += c
	}

	from := len(messages)
	for from > pinned {
		c, err := cost(messages[from-1])
		if err != nil {
			return nil, err
		}
		if used+c > budget && from < len(messages) {
			break
		}
		used += c
		from--
	}

	if from == pinned {
		return messages, nil
	}
	out := make([]Message, 0, pinned+len(messages)-from)
	out = append(out, messages[:pinned]...)
	return append(out, messages[from:]...), nil
}
