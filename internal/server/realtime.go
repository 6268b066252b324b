package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventTimelineUpdate = "timeline-update"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "murmur-api"

	defaultRealtimeBufferSize = 16
)

// RealtimeMessage announces a new entry on a user's timeline.
type RealtimeMessage struct {
	Username  string
	EventType string
	PostID    int64
	Author    string
	Timestamp time.Time
}

// RealtimeDispatcher fans timeline notifications out to connected streams, keyed by username.
// Sends never block: a subscriber whose buffer is full misses the event.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBufferSize,
	}
}

// Subscribe registers a stream for username until ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, username string) (<-chan RealtimeMessage, func()) {
	if username == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(username, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(username, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Username == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Username]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyTimelines announces postID to every username in recipients.
func (d *RealtimeDispatcher) NotifyTimelines(postID int64, author string, recipients []string, now time.Time) {
	for _, username := range recipients {
		d.Publish(RealtimeMessage{
			Username:  username,
			EventType: RealtimeEventTimelineUpdate,
			PostID:    postID,
			Author:    author,
			Timestamp: now,
		})
	}
}

// SubscriberCount reports how many streams are open for username.
func (d *RealtimeDispatcher) SubscriberCount(username string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[username])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(username string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[username]; !ok {
		d.subscribers[username] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[username][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(username string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[username]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, username)
		}
	}
	d.mu.Unlock()
}
