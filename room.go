/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
)

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// Player persists within a room across games and reconnects. An empty
// SocketID means the player is offline; Seat 0 means no seat yet.
type Player struct {
	ID        string
	Name      string
	Secret    string
	SocketID  string
	Hand      Hand
	SetsCount int
	Seat      int
}

// PublicSets is the part of a player's score everyone may see.
type PublicSets struct {
	SetsCount int         `json:"setsCount"`
	ByType    map[int]int `json:"byType"`
}

// Room is one game session. Every field is guarded by mu; the engine methods
// in this package assume the caller holds it.
type Room struct {
	mu sync.Mutex

	ID             string
	Phase          Phase
	HostSocket     string
	TemplateID     string
	Players        map[string]*Player
	Order          []string
	TurnOrder      []string
	TurnIndex      int
	ActivePlayerID string
	StartedAt      time.Time
	Deck           []int
	PublicSets     map[string]*PublicSets
	Turn           *TurnTracker
	LastActivityAt time.Time

	rng       *rand.Rand
	closed    bool
	saveTimer *quartz.Timer
}

func newRoom(id string, rng *rand.Rand, now time.Time) *Room {
	return &Room{
		ID:             id,
		Phase:          PhaseLobby,
		Players:        make(map[string]*Player),
		PublicSets:     make(map[string]*PublicSets),
		LastActivityAt: now,
		rng:            rng,
	}
}

func (r *Room) hasConnections() bool {
	if r.HostSocket != "" {
		return true
	}
	for _, p := range r.Players {
		if p.SocketID != "" {
			return true
		}
	}
	return false
}

// nextSeat is one past the highest seat handed out so far.
func (r *Room) nextSeat() int {
	highest := 0
	for _, p := range r.Players {
		if p.Seat > highest {
			highest = p.Seat
		}
	}
	return highest + 1
}

func (r *Room) activeName() string {
	if p, ok := r.Players[r.ActivePlayerID]; ok {
		return p.Name
	}
	return ""
}
