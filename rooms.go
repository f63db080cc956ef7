/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"maps"
	mrand "math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
)

const (
	roomIDLength  = 6
	maxNameLength = 30
)

// Transport delivers messages to live connections by socket id. Send must
// not block.
type Transport interface {
	Send(socketID string, msg any)
	Close(socketID string)
}

// TemplateLoader resolves the card-face template a game is started with.
type TemplateLoader interface {
	Load(id string) (*Template, error)
}

type binding struct {
	roomID   string
	playerID string
}

type ManagerOptions struct {
	Transport    Transport
	Templates    TemplateLoader
	Store        *RoomStore // nil keeps rooms in memory only
	Clock        quartz.Clock
	Logger       *log.Logger
	TTL          time.Duration
	MaxPlayers   int
	SaveDebounce time.Duration
	Seed         uint64 // 0 seeds from the runtime
}

// RoomManager owns every room and the socket bindings into them.
//
// Lock order: a room's mu may be held while taking m.mu, m.bindMu or the
// transport's lock, never the reverse. saveMu is taken before a room's mu.
// A socket moving between rooms is detached from the old one before the new
// one is locked.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	bindMu  sync.Mutex
	players map[string]binding // socket id -> player
	hosts   map[string]string  // socket id -> room id

	saveMu sync.Mutex

	rngMu sync.Mutex
	rng   *mrand.Rand

	transport    Transport
	templates    TemplateLoader
	store        *RoomStore
	clock        quartz.Clock
	logger       *log.Logger
	ttl          time.Duration
	maxPlayers   int
	saveDebounce time.Duration
}

func newRoomManager(opts ManagerOptions) *RoomManager {
	seed := opts.Seed
	if seed == 0 {
		seed = mrand.Uint64()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 6
	}

	return &RoomManager{
		rooms:        make(map[string]*Room),
		players:      make(map[string]binding),
		hosts:        make(map[string]string),
		rng:          mrand.New(mrand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		transport:    opts.Transport,
		templates:    opts.Templates,
		store:        opts.Store,
		clock:        opts.Clock,
		logger:       opts.Logger.WithPrefix("rooms"),
		ttl:          opts.TTL,
		maxPlayers:   opts.MaxPlayers,
		saveDebounce: opts.SaveDebounce,
	}
}

func (m *RoomManager) newRoomRNG() *mrand.Rand {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()

	return mrand.New(mrand.NewPCG(m.rng.Uint64(), m.rng.Uint64()))
}

func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	if name == "" {
		return "Player"
	}
	return name
}

func randomSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// newRoomIDLocked draws crypto-random ids until one is free. m.mu must be held.
func (m *RoomManager) newRoomIDLocked() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	for {
		buf := make([]byte, roomIDLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		for i := range buf {
			buf[i] = letters[int(buf[i])%len(letters)]
		}
		if _, exists := m.rooms[string(buf)]; !exists {
			return string(buf)
		}
	}
}

func (m *RoomManager) CreateRoom() string {
	m.mu.Lock()
	id := m.newRoomIDLocked()
	r := newRoom(id, m.newRoomRNG(), m.clock.Now())
	m.rooms[id] = r
	m.mu.Unlock()

	r.mu.Lock()
	m.scheduleSaveLocked(r)
	r.mu.Unlock()

	m.logger.Info("room_created", "room", id)

	return id
}

// lockRoom returns the room with its mu held.
func (m *RoomManager) lockRoom(id string) (*Room, error) {
	m.mu.Lock()
	r, ok := m.rooms[normalizeRoomID(id)]
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (m *RoomManager) touchLocked(r *Room) {
	r.LastActivityAt = m.clock.Now()
	m.scheduleSaveLocked(r)
}

func (m *RoomManager) HostJoin(roomID, socketID string) error {
	m.detachElsewhere(roomID, socketID)

	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	m.bindMu.Lock()
	if r.HostSocket != "" && r.HostSocket != socketID {
		delete(m.hosts, r.HostSocket)
	}
	m.hosts[socketID] = r.ID
	m.bindMu.Unlock()

	r.HostSocket = socketID
	m.touchLocked(r)

	m.logger.Debug("host_join", "room", r.ID, "socket", socketID)
	m.transport.Send(socketID, roomState(hostView(r)))

	return nil
}

func (r *Room) findPlayerByName(name string) *Player {
	target := normalizeName(name)
	for _, p := range r.Players {
		if normalizeName(p.Name) == target {
			return p
		}
	}
	return nil
}

// PlayerJoin creates a player, or hands an existing one back to whoever
// rejoins under the same name.
func (m *RoomManager) PlayerJoin(roomID, name, socketID string) error {
	m.detachElsewhere(roomID, socketID)

	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	before := r.Phase
	reply := "claimed"

	p := r.findPlayerByName(cleanName(name))
	if p == nil {
		if len(r.Players) >= m.maxPlayers {
			return ErrRoomFull
		}

		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("join %s: %w", r.ID, err)
		}

		p = &Player{
			ID:     uuid.NewString(),
			Name:   cleanName(name),
			Secret: secret,
			Hand:   make(Hand),
		}
		r.Players[p.ID] = p
		reply = "joined"

		if r.Phase == PhaseActive {
			dealt := r.lateJoin(p)
			m.logger.Info("late_join", "room", r.ID, "name", p.Name, "seat", p.Seat, "dealt", dealt, "deck", len(r.Deck))
		}
	} else {
		m.logger.Info("claim", "room", r.ID, "player", p.Name, "pid", p.ID, "socket", socketID)
	}

	m.bindPlayerLocked(r, p, socketID)
	m.touchLocked(r)

	m.transport.Send(socketID, JoinedMessage{
		Type:     reply,
		PlayerID: p.ID,
		Secret:   p.Secret,
		Snapshot: playerView(r, p.ID),
	})
	m.publishLocked(r, before)

	return nil
}

// Resume rebinds a player to a new socket. An unknown player and a wrong
// secret fail the same way.
func (m *RoomManager) Resume(roomID, playerID, secret, socketID string) error {
	m.detachElsewhere(roomID, socketID)

	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	p, ok := r.Players[playerID]
	if !ok || subtle.ConstantTimeCompare([]byte(p.Secret), []byte(secret)) != 1 {
		return ErrBadSecret
	}

	m.bindPlayerLocked(r, p, socketID)
	m.touchLocked(r)

	m.transport.Send(socketID, ResumeOKMessage{Type: "resume_ok", Snapshot: playerView(r, p.ID)})
	m.broadcastLocked(r)

	return nil
}

// bindPlayerLocked points p at socketID. A different live connection for p
// is told it was evicted and closed.
func (m *RoomManager) bindPlayerLocked(r *Room, p *Player, socketID string) {
	m.bindMu.Lock()

	if prev, ok := m.players[socketID]; ok && prev.roomID == r.ID && prev.playerID != p.ID {
		if other, ok := r.Players[prev.playerID]; ok && other.SocketID == socketID {
			other.SocketID = ""
		}
	}

	stale := ""
	if p.SocketID != "" && p.SocketID != socketID {
		stale = p.SocketID
		delete(m.players, stale)
	}

	p.SocketID = socketID
	m.players[socketID] = binding{roomID: r.ID, playerID: p.ID}

	m.bindMu.Unlock()

	if stale != "" {
		m.transport.Send(stale, SimpleMessage{Type: "evicted"})
		m.transport.Close(stale)
	}
}

func (m *RoomManager) unbindPlayerLocked(p *Player) {
	if p.SocketID == "" {
		return
	}

	m.bindMu.Lock()
	if b, ok := m.players[p.SocketID]; ok && b.playerID == p.ID {
		delete(m.players, p.SocketID)
	}
	m.bindMu.Unlock()
}

// authorizeLocked checks that the request comes from the player's own
// socket and carries their secret.
func (m *RoomManager) authorizeLocked(r *Room, playerID, secret, socketID string) (*Player, bool) {
	p, ok := r.Players[playerID]
	if !ok {
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(p.Secret), []byte(secret)) != 1 {
		return nil, false
	}
	if p.SocketID == "" || p.SocketID != socketID {
		return nil, false
	}
	return p, true
}

func (m *RoomManager) requireHostLocked(r *Room, socketID string) error {
	if r.HostSocket == "" || r.HostSocket != socketID {
		return ErrNotHost
	}
	return nil
}

// StartGame validates everything, including the template, before touching
// the room, so a failed start leaves the lobby as it was.
func (m *RoomManager) StartGame(roomID, templateID, socketID string) error {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := m.requireHostLocked(r, socketID); err != nil {
		return err
	}
	if r.Phase != PhaseLobby {
		return ErrBadPhase
	}
	if len(r.Players) < 2 {
		return ErrNeedTwoPlayers
	}
	if _, err := m.templates.Load(templateID); err != nil {
		return fmt.Errorf("start %s: %w", r.ID, err)
	}

	before := r.Phase
	spinner, err := r.start(templateID, m.clock.Now())
	if err != nil {
		return err
	}

	m.logger.Info("game_started", "room", r.ID, "players", len(r.Order), "template", templateID, "seed", spinner.Seed, "first", r.activeName())

	m.emitLocked(r, GameStartedMessage{Type: "game_started", Spinner: spinner})
	m.publishLocked(r, before)

	return nil
}

func (m *RoomManager) GiveToActive(roomID, playerID, secret, socketID string, types []int) error {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if r.Phase != PhaseActive || playerID == r.ActivePlayerID {
		return errIgnored
	}
	if _, ok := m.authorizeLocked(r, playerID, secret, socketID); !ok {
		return errIgnored
	}

	before := r.Phase
	moved := r.give(playerID, types)
	if moved == 0 {
		return errIgnored
	}

	m.logger.Debug("give_to_active", "room", r.ID, "from", playerID, "to", r.ActivePlayerID, "moved", moved)
	m.publishLocked(r, before)

	return nil
}

func (m *RoomManager) EndTurn(roomID, playerID, secret, socketID string) error {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if r.Phase != PhaseActive || playerID != r.ActivePlayerID {
		return errIgnored
	}
	if _, ok := m.authorizeLocked(r, playerID, secret, socketID); !ok {
		return errIgnored
	}

	before := r.Phase
	round := r.endTurn(m.clock.Now())

	m.logger.Debug("end_turn", "room", r.ID, "next", r.ActivePlayerID, "round", round, "deck", len(r.Deck))
	m.publishLocked(r, before)

	return nil
}

func (m *RoomManager) RemovePlayer(roomID, playerID, socketID string) error {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := m.requireHostLocked(r, socketID); err != nil {
		return err
	}

	before := r.Phase
	p, ok := r.removePlayer(playerID, m.clock.Now())
	if !ok {
		return ErrPlayerNotFound
	}

	if p.SocketID != "" {
		m.unbindPlayerLocked(p)
		m.transport.Send(p.SocketID, SimpleMessage{Type: "removed"})
	}

	m.logger.Info("player_removed", "room", r.ID, "player", p.Name, "returned", p.Hand.total())
	m.publishLocked(r, before)

	return nil
}

func (m *RoomManager) NewGame(roomID, templateID, socketID string) error {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := m.requireHostLocked(r, socketID); err != nil {
		return err
	}

	r.reset(templateID)

	m.logger.Info("game_new", "room", r.ID)
	m.publishLocked(r, PhaseLobby)

	return nil
}

// Disconnect forgets a closed socket. The player stays in the room, offline.
func (m *RoomManager) Disconnect(socketID string) {
	m.bindMu.Lock()
	b, isPlayer := m.players[socketID]
	delete(m.players, socketID)
	hostRoom, isHost := m.hosts[socketID]
	delete(m.hosts, socketID)
	m.bindMu.Unlock()

	if isPlayer {
		m.releasePlayer(b, socketID)
	}
	if isHost {
		m.releaseHost(hostRoom, socketID)
	}
}

// detachElsewhere drops any binding socketID holds in a room other than
// roomID, so one socket is never live in two rooms. No room lock may be held.
func (m *RoomManager) detachElsewhere(roomID, socketID string) {
	roomID = normalizeRoomID(roomID)

	m.mu.Lock()
	_, exists := m.rooms[roomID]
	m.mu.Unlock()
	if !exists {
		return
	}

	m.bindMu.Lock()
	b, isPlayer := m.players[socketID]
	if isPlayer && b.roomID != roomID {
		delete(m.players, socketID)
	} else {
		isPlayer = false
	}
	hostRoom, isHost := m.hosts[socketID]
	if isHost && hostRoom != roomID {
		delete(m.hosts, socketID)
	} else {
		isHost = false
	}
	m.bindMu.Unlock()

	if isPlayer {
		m.logger.Debug("socket_moved", "socket", socketID, "from", b.roomID, "to", roomID)
		m.releasePlayer(b, socketID)
	}
	if isHost {
		m.logger.Debug("socket_moved", "socket", socketID, "from", hostRoom, "to", roomID, "host", true)
		m.releaseHost(hostRoom, socketID)
	}
}

// releasePlayer marks b's player offline if socketID is still theirs.
func (m *RoomManager) releasePlayer(b binding, socketID string) {
	r, err := m.lockRoom(b.roomID)
	if err != nil {
		return
	}
	defer r.mu.Unlock()

	if p, ok := r.Players[b.playerID]; ok && p.SocketID == socketID {
		p.SocketID = ""
		m.touchLocked(r)
		m.broadcastLocked(r)
	}
}

func (m *RoomManager) releaseHost(roomID, socketID string) {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return
	}
	defer r.mu.Unlock()

	if r.HostSocket == socketID {
		r.HostSocket = ""
		m.touchLocked(r)
	}
}

// publishLocked records activity, fans out fresh views, and announces the
// end of the game if this change finished it.
func (m *RoomManager) publishLocked(r *Room, before Phase) {
	m.touchLocked(r)
	m.broadcastLocked(r)

	if before == PhaseActive && r.Phase == PhaseFinished {
		m.logger.Info("game_finished", "room", r.ID, "sets", r.totalSets())
		m.emitLocked(r, SimpleMessage{Type: "game_finished"})
	}
}

// broadcastLocked sends each connected recipient its own view. All views are
// built under the same lock, so nobody sees a different state.
func (m *RoomManager) broadcastLocked(r *Room) {
	if r.HostSocket != "" {
		m.transport.Send(r.HostSocket, roomState(hostView(r)))
	}
	for _, p := range r.Players {
		if p.SocketID != "" {
			m.transport.Send(p.SocketID, roomState(playerView(r, p.ID)))
		}
	}
}

func (m *RoomManager) emitLocked(r *Room, msg any) {
	if r.HostSocket != "" {
		m.transport.Send(r.HostSocket, msg)
	}
	for _, p := range r.Players {
		if p.SocketID != "" {
			m.transport.Send(p.SocketID, msg)
		}
	}
}

// Sweep purges rooms idle past the TTL with nobody connected.
func (m *RoomManager) Sweep() int {
	m.mu.Lock()
	rooms := slices.Collect(maps.Values(m.rooms))
	m.mu.Unlock()

	now := m.clock.Now()
	removed := 0

	for _, r := range rooms {
		r.mu.Lock()
		expired := !r.closed && now.Sub(r.LastActivityAt) > m.ttl && !r.hasConnections()
		if expired {
			r.closed = true
			if r.saveTimer != nil {
				r.saveTimer.Stop()
			}
		}
		r.mu.Unlock()

		if !expired {
			continue
		}

		m.mu.Lock()
		delete(m.rooms, r.ID)
		m.mu.Unlock()

		if m.store != nil {
			m.saveMu.Lock()
			err := m.store.Delete(r.ID)
			m.saveMu.Unlock()
			if err != nil {
				m.logger.Error("room_cleanup_error", "room", r.ID, "err", err)
			}
		}

		m.logger.Info("room_cleanup", "room", r.ID, "reason", "ttl_expired")
		removed++
	}

	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *RoomManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := m.clock.NewTicker(interval, "sweeper")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

type RoomSummary struct {
	Exists         bool   `json:"exists"`
	RoomID         string `json:"roomId"`
	Phase          Phase  `json:"phase,omitempty"`
	PlayersCount   int    `json:"playersCount"`
	ActiveName     string `json:"activeName,omitempty"`
	DeckCount      int    `json:"deckCount"`
	LastActivityAt int64  `json:"lastActivityAt,omitempty"`
}

func (m *RoomManager) Summary(roomID string) RoomSummary {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return RoomSummary{RoomID: normalizeRoomID(roomID)}
	}
	defer r.mu.Unlock()

	return RoomSummary{
		Exists:         true,
		RoomID:         r.ID,
		Phase:          r.Phase,
		PlayersCount:   len(r.Players),
		ActiveName:     r.activeName(),
		DeckCount:      len(r.Deck),
		LastActivityAt: r.LastActivityAt.UnixMilli(),
	}
}

type PlayerListing struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Seat   *int   `json:"seat"`
	Online bool   `json:"online"`
}

func (m *RoomManager) Players(roomID string) (Phase, []PlayerListing, error) {
	r, err := m.lockRoom(roomID)
	if err != nil {
		return "", nil, err
	}
	defer r.mu.Unlock()

	players := r.seated()
	out := make([]PlayerListing, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerListing{
			ID:     p.ID,
			Name:   p.Name,
			Seat:   seatPtr(p.Seat),
			Online: p.SocketID != "",
		})
	}

	return r.Phase, out, nil
}
