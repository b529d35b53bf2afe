package usecase

import "chatsync/internal/domain/entity"

// MergeVisible returns confirmed followed by pending, each in the order
// given. Pending messages already confirmed by the feed are dropped, as
// are repeated ids within either half, so no logical message appears
// twice.
func MergeVisible(confirmed, pending []entity.Message) []entity.Message {
	out := make([]entity.Message, 0, len(confirmed)+len(pending))
	seenIDs := make(map[string]struct{}, len(confirmed))
	seenClientIDs := make(map[string]struct{}, len(confirmed)+len(pending))

	for _, m := range confirmed {
		if m.ID != "" {
			if _, dup := seenIDs[m.ID]; dup {
				continue
			}
			seenIDs[m.ID] = struct{}{}
		}
		if m.ClientMessageID != "" {
			seenClientIDs[m.ClientMessageID] = struct{}{}
		}
		m.Pending = false
		out = append(out, m)
	}

	for _, m := range pending {
		if m.ClientMessageID != "" {
			if _, dup := seenClientIDs[m.ClientMessageID]; dup {
				continue
			}
			seenClientIDs[m.ClientMessageID] = struct{}{}
		}
		m.Pending = true
		out = append(out, m)
	}

	return out
}

func clientIDSet(msgs []entity.Message) map[string]struct{} {
	set := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ClientMessageID != "" {
			set[m.ClientMessageID] = struct{}{}
		}
	}
	return set
}
