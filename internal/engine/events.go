package engine

import (
	"sync"
	"time"

	"ardrive-sync/internal/model"
)

// EventType identifies what an Event describes.
type EventType string

const (
	EventUploadProgress   EventType = "upload_progress"
	EventDownloadProgress EventType = "download_progress"
	EventFolderOperation  EventType = "folder_operation"
	EventStatusChange     EventType = "status_change"
)

// Event is one entry on the progress/event stream consumed by UI layers.
type Event struct {
	Type      EventType
	ItemID    string
	Path      string
	Progress  int // 0-100, for transfer progress events
	Operation FolderOp
	OldPath   string
	Status    model.SyncStatus
	Message   string
	At        time.Time
}

// Broadcaster fans events out to subscribers. Sends never block: a
// subscriber whose channel is full misses the event rather than stalling
// the engine.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber under id and returns its channel.
// Subscribing twice with the same id replaces (and closes) the old channel.
func (b *Broadcaster) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
