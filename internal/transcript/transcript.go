// Package transcript holds the ordered, de-duplicated lines of the active
// conversation.
package transcript

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatclient/pkg/types"
)

// Epoch identifies one Reset. Appends carrying an older epoch belong to a
// conversation that is no longer active and are rejected.
type Epoch uint64

// Transcript is safe for concurrent use. The router is its only writer.
type Transcript struct {
	mu           sync.RWMutex
	epoch        Epoch
	conversation types.Conversation
	entries      []types.Entry
	keys         map[string]struct{}
	now          func() time.Time
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{
		keys: make(map[string]struct{}),
		now:  time.Now,
	}
}

// Reset clears the transcript for conv and returns the new epoch.
func (t *Transcript) Reset(conv types.Conversation) Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.conversation = conv
	t.entries = nil
	t.keys = make(map[string]struct{})
	return t.epoch
}

// Epoch returns the current epoch.
func (t *Transcript) Epoch() Epoch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// Conversation returns the conversation of the current epoch.
func (t *Transcript) Conversation() types.Conversation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversation
}

// MessageKey is the dedup key of a message. Messages without a server id
// get a fresh key and are never merged.
func MessageKey(m types.Message) string {
	if m.ID == 0 {
		return "local-" + uuid.NewString()
	}
	return "msg-" + strconv.FormatInt(m.ID, 10)
}

// Append inserts m in timestamp order. It reports false when epoch
// is stale or the message is already present. A message without a
// timestamp is stamped with the current time.
func (t *Transcript) Append(epoch Epoch, m types.Message) bool {
	if m.Timestamp.IsZero() {
		m.Timestamp = t.now()
	}
	return t.insert(epoch, types.Entry{
		Key:       MessageKey(m),
		Kind:      types.EntryMessage,
		Message:   &m,
		Timestamp: m.Timestamp,
	})
}

// Notice adds a system notice stamped now. Notices are always shown.
func (t *Transcript) Notice(text string) {
	t.mu.Lock()
	epoch := t.epoch
	t.mu.Unlock()
	t.insert(epoch, types.Entry{
		Key:       "notice-" + uuid.NewString(),
		Kind:      types.EntryNotice,
		Text:      text,
		Timestamp: t.now(),
	})
}

func (t *Transcript) insert(epoch Epoch, e types.Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch {
		return false
	}
	if _, dup := t.keys[e.Key]; dup {
		return false
	}
	t.keys[e.Key] = struct{}{}

	// First index strictly after e keeps equal timestamps in arrival order.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(e.Timestamp)
	})
	t.entries = append(t.entries, types.Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
	return true
}

// Entries returns a copy of the lines, oldest first.
func (t *Transcript) Entries() []types.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of lines.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
