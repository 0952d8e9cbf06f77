// Package livepush implements spec component C14: a WebSocket transport
// that lets a remote peer subscribe to named live queries and receive a
// push frame every time the underlying data changes. The envelope and
// connection-management shape (inEnvelope/outEnvelope, one goroutine per
// socket reading client frames, one reactive subscription per client
// subscription id) is carried over from the teacher's own GraphQL
// subscription transport; what differs is that a "query" here is a
// pre-registered named livedb.Query[T] factory rather than a parsed
// GraphQL selection set, since opor subscriptions are typed Go builders,
// not a query language.
package livepush

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relaycoder/opor/livedb"
)

// subscription is the type-erased view of a *livedb.Query[T] that Handler
// needs: enough to replay the current snapshot, be notified of new ones,
// and be torn down. Register[T] below is what produces one from a typed
// builder.
type subscription interface {
	replay() (interface{}, error)
	subscribe(onChange func(interface{}, error)) func()
	destroy()
}

type typedSubscription[T any] struct {
	q *livedb.Query[T]
}

func (s *typedSubscription[T]) replay() (interface{}, error) {
	r := s.q.Snapshot()
	return r.Data, r.Err
}

func (s *typedSubscription[T]) subscribe(onChange func(interface{}, error)) func() {
	return s.q.Subscribe(func(data T) {
		onChange(data, nil)
	})
}

func (s *typedSubscription[T]) destroy() { s.q.Destroy() }

// Factory opens a named live query against a request's decoded parameters.
// It is type-erased on purpose: Register closes over the concrete
// T so callers never have to.
type Factory func(ctx context.Context, f *livedb.Facade, params json.RawMessage) (subscription, error)

// Handler serves a WebSocket endpoint that multiplexes any number of named
// live queries onto a single connection, matching spec.md §4.9's "push
// updates over one socket, not one per query" requirement.
type Handler struct {
	facade *livedb.Facade

	mu        sync.RWMutex
	factories map[string]Factory

	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler bound to facade. No queries are
// registered by default; call Register for each query name the server
// should expose.
func NewHandler(facade *livedb.Facade) *Handler {
	return &Handler{
		facade:    facade,
		factories: make(map[string]Factory),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register exposes builder under name for clients to subscribe to by
// sending {"type":"subscribe","id":"...","message":{"name":name,"params":...}}.
// params, if present, is handed to decodeParams to produce the value
// builder's closure expects to see; pass a no-op decodeParams when builder
// takes no parameters.
func Register[T any](h *Handler, name string, decodeParams func(json.RawMessage) (T, error), builder func(context.Context, *livedb.Facade, T) (interface{}, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[name] = func(ctx context.Context, f *livedb.Facade, raw json.RawMessage) (subscription, error) {
		params, err := decodeParams(raw)
		if err != nil {
			return nil, fmt.Errorf("livepush: decode params for %q: %w", name, err)
		}
		q, err := livedb.LiveQuery(ctx, f, func(ctx context.Context, f *livedb.Facade) (interface{}, error) {
			return builder(ctx, f, params)
		})
		if err != nil {
			return nil, err
		}
		return &typedSubscription[interface{}]{q: q}, nil
	}
}

func (h *Handler) factory(name string) (Factory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.factories[name]
	return f, ok
}

// ServeHTTP upgrades the connection and serves subscriptions until the
// peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("livepush: upgrade: %v", err)
		return
	}
	defer socket.Close()

	c := &conn{handler: h, socket: socket, subs: make(map[string]func())}
	defer c.closeAll()

	for {
		var env inEnvelope
		if err := socket.ReadJSON(&env); err != nil {
			if !isCloseError(err) {
				log.Printf("livepush: read: %v", err)
			}
			return
		}
		if err := c.handle(r.Context(), &env); err != nil {
			c.writeOrClose(env.ID, "error", err.Error())
		}
	}
}

type inEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type outEnvelope struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Message interface{} `json:"message,omitempty"`
}

type subscribeMessage struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

func isCloseError(err error) bool {
	_, ok := err.(*websocket.CloseError)
	return ok || err == websocket.ErrCloseSent
}

// conn is one client connection: it owns one reactive subscription per
// live subscription id the client has opened, exactly mirroring the
// teacher's subscriptions-keyed-by-id design.
type conn struct {
	handler *Handler
	socket  *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func()
}

func (c *conn) writeOrClose(id, typ string, message interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.socket.WriteJSON(outEnvelope{ID: id, Type: typ, Message: message}); err != nil {
		if !isCloseError(err) {
			c.socket.Close()
		}
	}
}

func (c *conn) handle(ctx context.Context, env *inEnvelope) error {
	switch env.Type {
	case "subscribe":
		var msg subscribeMessage
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return err
		}
		return c.handleSubscribe(ctx, env.ID, msg)
	case "unsubscribe":
		c.closeSubscription(env.ID)
		return nil
	default:
		return fmt.Errorf("livepush: unknown message type %q", env.Type)
	}
}

func (c *conn) handleSubscribe(ctx context.Context, id string, msg subscribeMessage) error {
	c.mu.Lock()
	if _, ok := c.subs[id]; ok {
		c.mu.Unlock()
		return fmt.Errorf("livepush: duplicate subscription id %q", id)
	}
	c.mu.Unlock()

	factory, ok := c.handler.factory(msg.Name)
	if !ok {
		return fmt.Errorf("livepush: unknown query %q", msg.Name)
	}

	sub, err := factory(ctx, c.handler.facade, msg.Params)
	if err != nil {
		return err
	}

	// subscribe below replays the current data itself, so only an error is
	// sent from the snapshot here.
	if _, err := sub.replay(); err != nil {
		c.writeOrClose(id, "error", err.Error())
	}

	unsub := sub.subscribe(func(data interface{}, err error) {
		if err != nil {
			c.writeOrClose(id, "error", err.Error())
			return
		}
		c.writeOrClose(id, "data", data)
	})

	c.mu.Lock()
	c.subs[id] = func() {
		unsub()
		sub.destroy()
	}
	c.mu.Unlock()
	return nil
}

func (c *conn) closeSubscription(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, ok := c.subs[id]; ok {
		stop()
		delete(c.subs, id)
	}
}

func (c *conn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, stop := range c.subs {
		stop()
		delete(c.subs, id)
	}
}
