/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"slices"
	"time"
)

// start moves a lobby into play: seats in random order, a fresh shuffled
// deck, four cards each, and a spinner-picked first player.
func (r *Room) start(templateID string, now time.Time) (Spinner, error) {
	if r.Phase != PhaseLobby {
		return Spinner{}, ErrBadPhase
	}
	if len(r.Players) < 2 {
		return Spinner{}, ErrNeedTwoPlayers
	}

	order := make([]string, 0, len(r.Players))
	for id := range r.Players {
		order = append(order, id)
	}
	slices.Sort(order)
	shuffle(order, r.rng)

	r.TemplateID = templateID
	r.Order = order
	r.TurnOrder = slices.Clone(order)
	for i, id := range r.TurnOrder {
		r.Players[id].Seat = i + 1
	}

	r.PublicSets = make(map[string]*PublicSets)
	for _, p := range r.Players {
		p.Hand = make(Hand)
		p.SetsCount = 0
	}

	r.Deck = buildDeck()
	shuffle(r.Deck, r.rng)
	for _, id := range r.Order {
		for range handSize {
			if !r.drawOne(id) {
				break
			}
		}
	}

	spinner := makeSpinner(r.rng)
	r.TurnIndex = spinnerPickIndex(spinner.Seed, len(r.Order))
	r.ActivePlayerID = r.Order[r.TurnIndex]
	r.StartedAt = now
	r.Phase = PhaseActive

	for _, id := range r.Order {
		r.checkSets(id)
	}
	r.startTurn(now)

	return spinner, nil
}

// give hands every copy of each requested type from sender to the active
// player and returns how many cards moved. Unknown or repeated types are
// skipped; a sender who holds none of them has not given.
func (r *Room) give(senderID string, typeIDs []int) int {
	if senderID == r.ActivePlayerID {
		return 0
	}
	sender, ok := r.Players[senderID]
	if !ok {
		return 0
	}
	active, ok := r.Players[r.ActivePlayerID]
	if !ok {
		return 0
	}

	seen := make(map[int]bool, len(typeIDs))
	moved := 0
	for _, t := range typeIDs {
		if !validType(t) || seen[t] {
			continue
		}
		seen[t] = true

		n := removeAllOfType(sender, t)
		addToHand(active, t, n)
		moved += n
	}

	if moved == 0 {
		return 0
	}

	if r.Turn != nil {
		r.Turn.Gave[senderID] = true
	}

	r.checkSets(active.ID)
	r.checkSets(sender.ID)

	return moved
}

func (r *Room) advanceTurn(now time.Time) {
	r.TurnIndex = (r.TurnIndex + 1) % len(r.Order)
	r.ActivePlayerID = r.Order[r.TurnIndex]
	r.startTurn(now)
}

// endTurn applies the penalty draw, passes the turn on, and deals the round
// draw when the rotation wraps. It reports whether a round completed.
func (r *Room) endTurn(now time.Time) bool {
	if len(r.Order) == 0 {
		return false
	}

	if r.Turn.owed() {
		r.drawOne(r.ActivePlayerID)
	}
	r.checkSets(r.ActivePlayerID)

	r.advanceTurn(now)

	if r.TurnIndex != 0 {
		return false
	}

	r.roundDraw()
	for _, id := range r.Order {
		r.checkSets(id)
	}

	return true
}

// roundDraw gives everyone in the rotation one card. When the deck can't
// cover the table, a random subset the size of the deck draws instead.
func (r *Room) roundDraw() {
	ids := slices.Clone(r.Order)

	if len(r.Deck) < len(ids) {
		shuffle(ids, r.rng)
		ids = ids[:len(r.Deck)]
	}

	for _, id := range ids {
		r.drawOne(id)
	}
}

// removePlayer returns the player's cards to the deck and drops them from the
// rotation. Removing the active player hands the turn to whoever now sits at
// the same index, with a fresh tracker but no penalty or round draw.
func (r *Room) removePlayer(playerID string, now time.Time) (*Player, bool) {
	p, ok := r.Players[playerID]
	if !ok {
		return nil, false
	}

	for t := range cardTypes {
		for range p.Hand[t] {
			r.Deck = append(r.Deck, t)
		}
	}
	shuffle(r.Deck, r.rng)

	delete(r.Players, playerID)

	isPlayer := func(id string) bool { return id == playerID }
	r.Order = slices.DeleteFunc(r.Order, isPlayer)
	r.TurnOrder = slices.DeleteFunc(r.TurnOrder, isPlayer)

	if r.Turn != nil {
		delete(r.Turn.Eligible, playerID)
		delete(r.Turn.Gave, playerID)
	}

	switch {
	case r.Phase == PhaseLobby:
	case len(r.Order) == 0:
		r.TurnIndex = 0
		r.ActivePlayerID = ""
		r.Turn = nil
	case r.ActivePlayerID == playerID:
		r.TurnIndex %= len(r.Order)
		r.ActivePlayerID = r.Order[r.TurnIndex]
		r.startTurn(now)
	default:
		if i := slices.Index(r.Order, r.ActivePlayerID); i >= 0 {
			r.TurnIndex = i
		}
	}

	return p, true
}

// lateJoin seats a player who arrived mid-game at the end of the rotation and
// deals them in. It returns how many cards they received.
func (r *Room) lateJoin(p *Player) int {
	p.Seat = r.nextSeat()
	r.Order = append(r.Order, p.ID)
	r.TurnOrder = append(r.TurnOrder, p.ID)

	dealt := 0
	for range handSize {
		if !r.drawOne(p.ID) {
			break
		}
		dealt++
	}

	r.checkSets(p.ID)

	if r.Turn != nil && r.ActivePlayerID != p.ID && p.Hand.total() > 0 {
		r.Turn.Eligible[p.ID] = true
	}

	return dealt
}

// reset returns the room to the lobby. Players, names and secrets survive.
func (r *Room) reset(templateID string) {
	r.Phase = PhaseLobby
	if templateID != "" {
		r.TemplateID = templateID
	}
	r.Order = nil
	r.TurnOrder = nil
	r.TurnIndex = 0
	r.ActivePlayerID = ""
	r.StartedAt = time.Time{}
	r.Deck = nil
	r.PublicSets = make(map[string]*PublicSets)
	r.Turn = nil

	for _, p := range r.Players {
		p.Hand = make(Hand)
		p.SetsCount = 0
		p.Seat = 0
	}
}
