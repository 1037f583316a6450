package realtime

import (
	"sync"

	"github.com/teamboard/backend/pkg/logger"
)

// Hub is the connection/session registry and notification dispatcher.
// It tracks live connections, the user bound to each, and named rooms
// for fan-out. Room membership is transport-scoped: it evaporates with
// the connection, no persistent cleanup is needed.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // sessionID -> connection
	sessionUsers map[string]uint                   // sessionID -> bound user (authenticated only)
	userSessions map[uint]map[string]*Connection   // userID -> live sessions
	rooms        map[string]map[string]*Connection // room -> sessionID -> connection
	sessionRooms map[string]map[string]struct{}    // sessionID -> joined rooms
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[string]*Connection),
		sessionUsers: make(map[string]uint),
		userSessions: make(map[uint]map[string]*Connection),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers a connection and starts its write loop. The
// connection is unauthenticated until Bind is called.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.sessions[conn.ID] = conn
	h.sessionRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
}

// Detach removes a connection, its identity binding, and all its room
// memberships.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Bind associates an authenticated user with the connection and joins
// its personal room. Multiple concurrent sockets per user are allowed
// (multiple tabs).
func (h *Hub) Bind(conn *Connection, userID uint) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	h.sessionUsers[conn.ID] = userID
	set := h.userSessions[userID]
	if set == nil {
		set = make(map[string]*Connection)
		h.userSessions[userID] = set
	}
	set[conn.ID] = conn
	h.joinLocked(PersonalRoom(userID), conn)
	h.mu.Unlock()
}

// UserID returns the user bound to the connection, or 0.
func (h *Hub) UserID(conn *Connection) uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessionUsers[conn.ID]
}

// Join adds the connection to a room.
func (h *Hub) Join(room string, conn *Connection) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID]; ok {
		h.joinLocked(room, conn)
	}
	h.mu.Unlock()
}

// Leave removes the connection from a room.
func (h *Hub) Leave(room string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// InRoom reports whether the connection has joined the room.
func (h *Hub) InRoom(room string, conn *Connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][conn.ID]
	return ok
}

// SessionCount returns the number of live connections.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OnlineUserCount returns the number of distinct authenticated users.
func (h *Hub) OnlineUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions)
}

// OnlineUsers returns the IDs of all authenticated users with at least
// one live connection.
func (h *Hub) OnlineUsers() []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint, 0, len(h.userSessions))
	for id := range h.userSessions {
		ids = append(ids, id)
	}
	return ids
}

// UserOnline reports whether the user has at least one live connection.
func (h *Hub) UserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions[userID]) > 0
}

// EmitToRoom delivers an event to every connection currently joined to
// the room and returns the number of successful deliveries. There is no
// guarantee beyond "currently connected": no queueing, no retry.
func (h *Hub) EmitToRoom(room, event string, data interface{}) int {
	payload, err := Encode(event, data)
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return 0
	}

	h.mu.RLock()
	members := h.rooms[room]
	conns := make([]*Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// EmitToUser delivers an event to the user's personal room.
func (h *Hub) EmitToUser(userID uint, event string, data interface{}) int {
	return h.EmitToRoom(PersonalRoom(userID), event, data)
}

// EmitToUserWithScan delivers to the user's personal room; if that finds
// zero recipients it falls back to a linear scan of all live connections
// matched by bound user ID. The scan is O(connections) and reserved for
// the highest-value notification (a new join request reaching the
// project creator) as a backstop against room-membership staleness.
func (h *Hub) EmitToUserWithScan(userID uint, event string, data interface{}) int {
	if n := h.EmitToUser(userID, event, data); n > 0 {
		return n
	}

	payload, err := Encode(event, data)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	var conns []*Connection
	for sessionID, uid := range h.sessionUsers {
		if uid == userID {
			if conn := h.sessions[sessionID]; conn != nil {
				conns = append(conns, conn)
			}
		}
	}
	h.mu.RUnlock()

	if len(conns) > 0 {
		logger.Warn().Uint("user_id", userID).Str("event", event).
			Msg("personal room empty, delivered via connection scan")
	}

	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// JoinUserSockets joins every live connection of the user to the room
// and returns how many joined. Called as a postcondition of join-request
// approval so a freshly approved member starts receiving project
// broadcasts without reconnecting.
func (h *Hub) JoinUserSockets(userID uint, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := 0
	for _, conn := range h.userSessions[userID] {
		h.joinLocked(room, conn)
		joined++
	}
	return joined
}

// Broadcast delivers an event to all live connections, best effort.
// Used for presence updates only.
func (h *Hub) Broadcast(event string, data interface{}) int {
	payload, err := Encode(event, data)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		sessions = append(sessions, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.sessionUsers = make(map[string]uint)
	h.userSessions = make(map[uint]map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.sessionRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "hub shutdown")
	}
}

func (h *Hub) joinLocked(room string, conn *Connection) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	joined := h.sessionRooms[conn.ID]
	if joined == nil {
		joined = make(map[string]struct{})
		h.sessionRooms[conn.ID] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) leaveLocked(room, sessionID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.sessionRooms[sessionID]; ok {
		delete(joined, room)
	}
}

func (h *Hub) detachLocked(sessionID string) {
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	delete(h.sessions, sessionID)

	if userID, bound := h.sessionUsers[sessionID]; bound {
		delete(h.sessionUsers, sessionID)
		if set := h.userSessions[userID]; set != nil {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(h.userSessions, userID)
			}
		}
	}

	for room := range h.sessionRooms[sessionID] {
		h.leaveLocked(room, sessionID)
	}
	delete(h.sessionRooms, sessionID)
}
