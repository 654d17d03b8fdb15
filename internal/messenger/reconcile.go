package messenger

import "time"

// DeliverResult describes what Deliver did with a durable message.
type DeliverResult int

const (
	// Ignored means the message id was already present.
	Ignored DeliverResult = iota
	// Reconciled means the message replaced a pending optimistic echo.
	Reconciled
	// Appended means the message was new to the window.
	Appended
)

const tempIDPrefix = "temp:"

// ReconciliationBuffer is the ordered message sequence of one window. It merges
// optimistic local sends with durable rows so the sequence never holds two
// entries for one logical send and stays sorted by CreatedAt.
//
// Pending entries are keyed by a client nonce that the store echoes back. For
// durable rows without a nonce, the oldest pending entry with the same sender
// and text is consumed instead, one row per entry, so identical rapid sends stay
// distinct.
//
// Not safe for concurrent use; the owning window serializes access.
type ReconciliationBuffer struct {
	selfID string
	msgs   []Message
	ids    map[string]struct{}
}

// NewReconciliationBuffer creates an empty buffer for the current user.
func NewReconciliationBuffer(selfID string) *ReconciliationBuffer {
	return &ReconciliationBuffer{
		selfID: selfID,
		ids:    make(map[string]struct{}),
	}
}

// AppendOptimistic adds a local echo of a send and returns it.
func (b *ReconciliationBuffer) AppendOptimistic(recipient, text, nonce string, now time.Time) Message {
	m := Message{
		ID:          tempIDPrefix + nonce,
		SenderID:    b.selfID,
		RecipientID: recipient,
		Text:        text,
		Nonce:       nonce,
		CreatedAt:   now,
		Pending:     true,
	}
	b.msgs = append(b.msgs, m)
	SortChronological(b.msgs)
	return m
}

// Rollback removes the pending echo for nonce. Returns false when it is gone
// already, for example because the durable row arrived first.
func (b *ReconciliationBuffer) Rollback(nonce string) bool {
	for i := range b.msgs {
		if b.msgs[i].Pending && b.msgs[i].Nonce == nonce {
			b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Deliver merges a durable message into the sequence.
func (b *ReconciliationBuffer) Deliver(m Message) DeliverResult {
	m.Pending = false
	if _, ok := b.ids[m.ID]; ok {
		return Ignored
	}
	b.ids[m.ID] = struct{}{}

	if i := b.pendingFor(m); i >= 0 {
		b.msgs[i] = m
		SortChronological(b.msgs)
		return Reconciled
	}
	b.msgs = append(b.msgs, m)
	SortChronological(b.msgs)
	return Appended
}

// Load merges a page of durable history.
func (b *ReconciliationBuffer) Load(history []Message) {
	for _, m := range history {
		b.Deliver(m)
	}
}

func (b *ReconciliationBuffer) pendingFor(m Message) int {
	if m.SenderID != b.selfID {
		return -1
	}
	if m.Nonce != "" {
		for i := range b.msgs {
			if b.msgs[i].Pending && b.msgs[i].Nonce == m.Nonce {
				return i
			}
		}
		return -1
	}
	// msgs is sorted, so the first hit is the oldest pending echo.
	for i := range b.msgs {
		if b.msgs[i].Pending && b.msgs[i].Text == m.Text {
			return i
		}
	}
	return -1
}

// MarkRead flags the given message ids as read.
func (b *ReconciliationBuffer) MarkRead(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range b.msgs {
		if _, ok := set[b.msgs[i].ID]; ok {
			b.msgs[i].IsRead = true
		}
	}
}

// Unread returns the ids of inbound messages not yet read.
func (b *ReconciliationBuffer) Unread() []string {
	var ids []string
	for _, m := range b.msgs {
		if !m.Pending && !m.IsRead && m.SenderID != b.selfID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Pending returns the number of optimistic echoes awaiting their durable row.
func (b *ReconciliationBuffer) Pending() int {
	n := 0
	for _, m := range b.msgs {
		if m.Pending {
			n++
		}
	}
	return n
}

// Len returns the number of visible messages.
func (b *ReconciliationBuffer) Len() int { return len(b.msgs) }

// Messages returns a copy of the ordered sequence.
func (b *ReconciliationBuffer) Messages() []Message {
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}
