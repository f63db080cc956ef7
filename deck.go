/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "math/rand/v2"

const (
	cardTypes     = 9
	copiesPerType = 4
	deckSize      = cardTypes * copiesPerType
	handSize      = 4
	winningSets   = cardTypes
)

// Hand maps a card type to how many copies are held. Types with no copies
// are absent, never stored as zero.
type Hand map[int]int

func (h Hand) total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

func (h Hand) clone() Hand {
	out := make(Hand, len(h))
	for t, c := range h {
		out[t] = c
	}
	return out
}

func validType(typeID int) bool {
	return typeID >= 0 && typeID < cardTypes
}

// buildDeck returns the unshuffled deck, type-major.
func buildDeck() []int {
	deck := make([]int, 0, deckSize)
	for t := range cardTypes {
		for range copiesPerType {
			deck = append(deck, t)
		}
	}
	return deck
}

// shuffle is an in-place Fisher-Yates.
func shuffle[T any](s []T, rng *rand.Rand) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func addToHand(p *Player, typeID, n int) {
	if n <= 0 {
		return
	}
	if p.Hand == nil {
		p.Hand = make(Hand)
	}
	p.Hand[typeID] += n
}

// removeAllOfType surrenders every copy of typeID and reports how many left.
func removeAllOfType(p *Player, typeID int) int {
	n := p.Hand[typeID]
	if n > 0 {
		delete(p.Hand, typeID)
	}
	return n
}

// drawOne pops the top of the deck into the player's hand. An empty deck is
// not an error; the draw just doesn't happen.
func (r *Room) drawOne(playerID string) bool {
	p, ok := r.Players[playerID]
	if !ok || len(r.Deck) == 0 {
		return false
	}

	card := r.Deck[len(r.Deck)-1]
	r.Deck = r.Deck[:len(r.Deck)-1]
	addToHand(p, card, 1)

	return true
}

// checkSets converts every group of four same-type cards in the player's hand
// into scored sets and returns how many were completed. Once the room's sets
// cover every type the game is over.
func (r *Room) checkSets(playerID string) int {
	p, ok := r.Players[playerID]
	if !ok {
		return 0
	}

	completed := 0
	for t := range cardTypes {
		count := p.Hand[t]
		if count < copiesPerType {
			continue
		}

		sets := count / copiesPerType
		if rest := count % copiesPerType; rest == 0 {
			delete(p.Hand, t)
		} else {
			p.Hand[t] = rest
		}

		p.SetsCount += sets

		info, ok := r.PublicSets[playerID]
		if !ok {
			info = &PublicSets{ByType: make(map[int]int)}
			r.PublicSets[playerID] = info
		}
		info.SetsCount += sets
		info.ByType[t] += sets

		completed += sets
	}

	if r.Phase == PhaseActive && r.totalSets() >= winningSets {
		r.Phase = PhaseFinished
	}

	return completed
}

func (r *Room) totalSets() int {
	n := 0
	for _, info := range r.PublicSets {
		n += info.SetsCount
	}
	return n
}
