package conversation

import "campuschat/internal/model"

type EmojiCount struct {
	Emoji string
	Count int
}

// GroupByEmoji folds a reaction list into per-emoji counts, ordered by
// first occurrence so the result is stable for a given input.
func GroupByEmoji(reactions []model.Reaction) []EmojiCount {
	var out []EmojiCount
	index := make(map[string]int)

	for _, r := range reactions {
		if i, ok := index[r.Emoji]; ok {
			out[i].Count++
			continue
		}
		index[r.Emoji] = len(out)
		out = append(out, EmojiCount{Emoji: r.Emoji, Count: 1})
	}
	return out
}

// FindOwn returns the (at most one) reaction belonging to userID.
func FindOwn(reactions []model.Reaction, userID string) (model.Reaction, bool) {
	for _, r := range reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return model.Reaction{}, false
}
