package fanout

import (
	"errors"

	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/ierr"
	"github.com/chattingus/realtime/internal/topic"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"sync"
)

// Registry tracks live connections and the topic directory: which
// connections are currently subscribed to which topic keys.
type Registry interface {
	// Register allocates a connection for an authenticated identity.
	Register(identity auth.Identity) (*Connection, error)

	// Deregister removes the connection from every topic it joined and
	// cancels pending sends. Idempotent.
	Deregister(connectionID string)

	// Join subscribes a connection to a topic and returns the resulting
	// subscriber count. Rejoining is a no-op.
	Join(key topic.Key, conn *Connection) (int, error)

	// Leave removes the subscription. The topic entry is deleted when
	// its subscriber set becomes empty. Idempotent.
	Leave(key topic.Key, connectionID string)

	// Subscribers returns a point-in-time snapshot of a topic's
	// subscriber set.
	Subscribers(key topic.Key) []*Connection

	// Count returns the live cardinality of a topic's subscriber set.
	Count(key topic.Key) int

	// EvictAll removes every subscriber from a topic at once, deleting
	// the topic entry. Connections stay registered.
	EvictAll(key topic.Key)

	// Topics returns the topic keys a connection is currently joined to.
	Topics(connectionID string) []topic.Key
}

type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections        map[string]*Connection
	connectionsByTopic map[topic.Key]map[string]struct{}
	topicsByConnection map[string]map[topic.Key]struct{}
}

func NewInMemoryRegistry(logger *zap.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:             logger,
		connections:        make(map[string]*Connection),
		connectionsByTopic: make(map[topic.Key]map[string]struct{}),
		topicsByConnection: make(map[string]map[topic.Key]struct{}),
	}
}

func (r *InMemoryRegistry) Register(identity auth.Identity) (*Connection, error) {
	if identity.UserID == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("connection has no bound identity"))
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInternal, err)
	}

	conn := newConnection(id, identity)

	r.mu.Lock()
	r.connections[id] = conn
	r.topicsByConnection[id] = make(map[topic.Key]struct{})
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		zap.String("connectionId", id),
		zap.String("userId", identity.UserID))

	return conn, nil
}

func (r *InMemoryRegistry) Deregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deregisterLocked(connectionID)
}

// deregisterLocked must be called with the write lock held.
func (r *InMemoryRegistry) deregisterLocked(connectionID string) {
	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}

	for key := range r.topicsByConnection[connectionID] {
		r.removeSubscriberLocked(key, connectionID)
	}

	delete(r.topicsByConnection, connectionID)
	delete(r.connections, connectionID)
	conn.closeSend()

	r.logger.Debug("connection deregistered",
		zap.String("connectionId", connectionID))
}

func (r *InMemoryRegistry) Join(key topic.Key, conn *Connection) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID]; !ok {
		return 0, ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("connection is not registered"))
	}

	subscribers, ok := r.connectionsByTopic[key]
	if !ok {
		subscribers = make(map[string]struct{})
		r.connectionsByTopic[key] = subscribers
	}

	subscribers[conn.ID] = struct{}{}
	r.topicsByConnection[conn.ID][key] = struct{}{}

	return len(subscribers), nil
}

func (r *InMemoryRegistry) Leave(key topic.Key, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if joined, ok := r.topicsByConnection[connectionID]; ok {
		delete(joined, key)
	}

	r.removeSubscriberLocked(key, connectionID)
}

// removeSubscriberLocked must be called with the write lock held.
func (r *InMemoryRegistry) removeSubscriberLocked(key topic.Key, connectionID string) {
	subscribers, ok := r.connectionsByTopic[key]
	if !ok {
		return
	}

	delete(subscribers, connectionID)
	if len(subscribers) == 0 {
		delete(r.connectionsByTopic, key)
	}
}

func (r *InMemoryRegistry) Subscribers(key topic.Key) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriberIDs, ok := r.connectionsByTopic[key]
	if !ok {
		return nil
	}

	snapshot := make([]*Connection, 0, len(subscriberIDs))
	for connectionID := range subscriberIDs {
		if conn, ok := r.connections[connectionID]; ok {
			snapshot = append(snapshot, conn)
		}
	}

	return snapshot
}

func (r *InMemoryRegistry) Count(key topic.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connectionsByTopic[key])
}

func (r *InMemoryRegistry) EvictAll(key topic.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, ok := r.connectionsByTopic[key]
	if !ok {
		return
	}

	for connectionID := range subscribers {
		if joined, ok := r.topicsByConnection[connectionID]; ok {
			delete(joined, key)
		}
	}

	delete(r.connectionsByTopic, key)

	r.logger.Debug("topic evicted",
		zap.String("topic", key.String()),
		zap.Int("subscribers", len(subscribers)))
}

func (r *InMemoryRegistry) Topics(connectionID string) []topic.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined, ok := r.topicsByConnection[connectionID]
	if !ok {
		return nil
	}

	keys := make([]topic.Key, 0, len(joined))
	for key := range joined {
		keys = append(keys, key)
	}

	return keys
}
