package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/IRCHrocks25/KatCon-sub001/database"
)

const (
	// Events buffered between publishers and the hub loop.
	eventBuffer = 256

	// Events buffered per subscriber before it is dropped as too slow.
	subscriberBuffer = 64

	// Time allowed to project one event for one subscriber.
	projectTimeout = 5 * time.Second
)

// ColumnOrder is the authoritative order of one of the owner's columns after
// a write.
type ColumnOrder struct {
	Status  database.Status `json:"status"`
	TaskIDs []string        `json:"taskIds"`
}

// ChangeEvent describes one committed task write.
type ChangeEvent struct {
	ID       string        `json:"id"`
	TaskID   string        `json:"taskId"`
	Owner    string        `json:"owner"`
	Fields   []string      `json:"fields"`
	Version  int64         `json:"version"`
	Actor    string        `json:"actor"`
	Audience []string      `json:"audience"`
	Columns  []ColumnOrder `json:"columns,omitempty"`
	At       time.Time     `json:"at"`
}

// ReconciledTask is an event projected for one subscriber. Visible false
// means the task left the subscriber's listing and Task is nil.
type ReconciledTask struct {
	EventID string        `json:"eventId"`
	TaskID  string        `json:"taskId"`
	Version int64         `json:"version"`
	Fields  []string      `json:"fields"`
	Visible bool          `json:"visible"`
	Task    *TaskView     `json:"task,omitempty"`
	Columns []ColumnOrder `json:"columns,omitempty"`
}

// Projector re-reads a task from one viewer's perspective.
type Projector interface {
	GetVisible(ctx context.Context, viewer, taskID string) (TaskView, bool, error)
}

// Hub fans committed changes out to subscribers. Every subscriber in an
// event's audience receives its own projection of the task.
type Hub struct {
	projector  Projector
	subs       map[*Subscription]bool
	events     chan ChangeEvent
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}
}

// NewHub creates a hub. Attach a projector before calling Run.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[*Subscription]bool),
		events:     make(chan ChangeEvent, eventBuffer),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
	}
}

// Attach sets the projector used to build each subscriber's view.
func (h *Hub) Attach(p Projector) {
	h.projector = p
}

// Publish queues an event for fan-out. It never waits on a subscriber.
func (h *Hub) Publish(event ChangeEvent) {
	select {
	case h.events <- event:
	case <-h.done:
	}
}

// Subscribe registers a live stream for actor.
func (h *Hub) Subscribe(actor string) *Subscription {
	sub := &Subscription{
		Actor:   actor,
		hub:     h,
		queue:   make(chan ChangeEvent, subscriberBuffer),
		updates: make(chan ReconciledTask),
		done:    make(chan struct{}),
	}
	go sub.pump()

	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.queue)
	}
	return sub
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing every
// subscription.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for sub := range h.subs {
			close(sub.queue)
			delete(h.subs, sub)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.subs[sub] = true
			log.Printf("[hub] subscriber connected: %s", sub.Actor)
		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.queue)
				log.Printf("[hub] subscriber disconnected: %s", sub.Actor)
			}
		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

func (h *Hub) dispatch(event ChangeEvent) {
	audience := make(map[string]bool, len(event.Audience))
	for _, a := range event.Audience {
		audience[a] = true
	}
	for sub := range h.subs {
		if !audience[sub.Actor] {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			// Too slow; the client re-syncs with a full listing on reconnect.
			log.Printf("[hub] subscriber buffer full, dropping: %s", sub.Actor)
			close(sub.queue)
			delete(h.subs, sub)
		}
	}
}

// Subscription is one live stream of reconciled tasks for one actor.
type Subscription struct {
	Actor string

	hub       *Hub
	queue     chan ChangeEvent
	updates   chan ReconciledTask
	done      chan struct{}
	closeOnce sync.Once
}

// Updates yields reconciled tasks until the subscription ends.
func (s *Subscription) Updates() <-chan ReconciledTask {
	return s.updates
}

// Close ends the subscription. In-flight task writes are unaffected.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

func (s *Subscription) pump() {
	defer close(s.updates)
	for event := range s.queue {
		update, ok := s.reconcile(event)
		if !ok {
			continue
		}
		select {
		case s.updates <- update:
		case <-s.done:
			// Drain so the hub never blocks on a departed subscriber.
			for range s.queue {
			}
			return
		}
	}
}

func (s *Subscription) reconcile(event ChangeEvent) (ReconciledTask, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), projectTimeout)
	defer cancel()

	view, visible, err := s.hub.projector.GetVisible(ctx, s.Actor, event.TaskID)
	if err != nil {
		log.Printf("[hub] projecting %s for %s: %v", event.TaskID, s.Actor, err)
		return ReconciledTask{}, false
	}

	update := ReconciledTask{
		EventID: event.ID,
		TaskID:  event.TaskID,
		Version: event.Version,
		Fields:  event.Fields,
		Visible: visible,
	}
	if visible {
		update.Task = &view
		update.Version = view.Version
	}
	if event.Owner == s.Actor {
		update.Columns = event.Columns
	}
	return update, true
}
