/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "time"

// TurnTracker records who owes the active player a gift this turn.
type TurnTracker struct {
	StartedAt time.Time
	Eligible  map[string]bool
	Gave      map[string]bool
}

// startTurn resets the tracker for the current active player. Only players
// holding cards when the turn begins can be penalised for not giving.
func (r *Room) startTurn(now time.Time) {
	tt := &TurnTracker{
		StartedAt: now,
		Eligible:  make(map[string]bool),
		Gave:      make(map[string]bool),
	}

	for id, p := range r.Players {
		if id == r.ActivePlayerID {
			continue
		}
		if p.Hand.total() > 0 {
			tt.Eligible[id] = true
		}
	}

	r.Turn = tt
}

// owed reports whether some eligible player has not given this turn.
func (tt *TurnTracker) owed() bool {
	if tt == nil {
		return false
	}

	for id := range tt.Eligible {
		if !tt.Gave[id] {
			return true
		}
	}
	return false
}
