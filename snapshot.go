/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"cmp"
	"maps"
	"slices"
)

// roomView carries the fields every recipient sees.
type roomView struct {
	RoomID         string                `json:"roomId"`
	Phase          Phase                 `json:"phase"`
	TemplateID     string                `json:"templateId"`
	Order          []string              `json:"order"`
	TurnOrder      []string              `json:"turnOrder"`
	ActivePlayerID string                `json:"activePlayerId"`
	DeckCount      int                   `json:"deckCount"`
	PublicSets     map[string]PublicSets `json:"publicSets"`
}

// HostPlayer is a player as the host sees them, hand included.
type HostPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Seat      *int   `json:"seat"`
	Hand      Hand   `json:"hand"`
	HandTotal int    `json:"handTotal"`
	SetsCount int    `json:"setsCount"`
	Online    bool   `json:"online"`
}

// TablePlayer is a player as the other players see them: counts only.
type TablePlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Seat      *int   `json:"seat"`
	HandTotal int    `json:"handTotal"`
	SetsCount int    `json:"setsCount"`
	Online    bool   `json:"online"`
}

type HostView struct {
	roomView
	Players []HostPlayer `json:"players"`
}

type MeView struct {
	ID   string `json:"id"`
	Hand Hand   `json:"hand"`
}

type PlayerView struct {
	roomView
	Players []TablePlayer `json:"players"`
	Me      MeView        `json:"me"`
}

func (r *Room) baseView() roomView {
	sets := make(map[string]PublicSets, len(r.PublicSets))
	for id, info := range r.PublicSets {
		sets[id] = PublicSets{
			SetsCount: info.SetsCount,
			ByType:    maps.Clone(info.ByType),
		}
	}

	return roomView{
		RoomID:         r.ID,
		Phase:          r.Phase,
		TemplateID:     r.TemplateID,
		Order:          append([]string{}, r.Order...),
		TurnOrder:      append([]string{}, r.TurnOrder...),
		ActivePlayerID: r.ActivePlayerID,
		DeckCount:      len(r.Deck),
		PublicSets:     sets,
	}
}

// seated lists players by seat, unseated last, then by name.
func (r *Room) seated() []*Player {
	out := slices.Collect(maps.Values(r.Players))
	slices.SortFunc(out, func(a, b *Player) int {
		if c := cmp.Compare(seatKey(a.Seat), seatKey(b.Seat)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func seatKey(seat int) int {
	if seat == 0 {
		return int(^uint(0) >> 1)
	}
	return seat
}

func seatPtr(seat int) *int {
	if seat == 0 {
		return nil
	}
	return &seat
}

func hostView(r *Room) HostView {
	players := r.seated()
	view := HostView{
		roomView: r.baseView(),
		Players:  make([]HostPlayer, 0, len(players)),
	}

	for _, p := range players {
		view.Players = append(view.Players, HostPlayer{
			ID:        p.ID,
			Name:      p.Name,
			Seat:      seatPtr(p.Seat),
			Hand:      p.Hand.clone(),
			HandTotal: p.Hand.total(),
			SetsCount: p.SetsCount,
			Online:    p.SocketID != "",
		})
	}

	return view
}

// playerView never carries another player's hand.
func playerView(r *Room, playerID string) PlayerView {
	players := r.seated()
	view := PlayerView{
		roomView: r.baseView(),
		Players:  make([]TablePlayer, 0, len(players)),
		Me:       MeView{ID: playerID, Hand: Hand{}},
	}

	for _, p := range players {
		view.Players = append(view.Players, TablePlayer{
			ID:        p.ID,
			Name:      p.Name,
			Seat:      seatPtr(p.Seat),
			HandTotal: p.Hand.total(),
			SetsCount: p.SetsCount,
			Online:    p.SocketID != "",
		})
	}

	if me, ok := r.Players[playerID]; ok {
		view.Me.Hand = me.Hand.clone()
	}

	return view
}
