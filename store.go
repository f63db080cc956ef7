/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// RoomStore keeps one JSON file per room.
type RoomStore struct {
	fs  afero.Fs
	dir string
}

func newRoomStore(fs afero.Fs, dir string) (*RoomStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create rooms dir: %w", err)
	}
	return &RoomStore{fs: fs, dir: dir}, nil
}

type playerRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Secret    string         `json:"secret"`
	Seat      int            `json:"seat,omitempty"`
	Hand      map[string]int `json:"handCounts"`
	SetsCount int            `json:"setsCount"`
}

type roomRecord struct {
	RoomID         string                `json:"roomId"`
	Phase          Phase                 `json:"phase"`
	TemplateID     string                `json:"templateId,omitempty"`
	Deck           []int                 `json:"deck"`
	Players        []playerRecord        `json:"players"`
	Order          []string              `json:"order"`
	TurnOrder      []string              `json:"turnOrder"`
	TurnIndex      int                   `json:"turnIndex"`
	ActivePlayerID string                `json:"activePlayerId,omitempty"`
	PublicSets     map[string]PublicSets `json:"publicSets"`
	LastActivityAt int64                 `json:"lastActivityAt"`
	StartedAt      int64                 `json:"startedAt,omitempty"`
}

func recordFromRoom(r *Room) roomRecord {
	rec := roomRecord{
		RoomID:         r.ID,
		Phase:          r.Phase,
		TemplateID:     r.TemplateID,
		Deck:           slices.Clone(r.Deck),
		Order:          slices.Clone(r.Order),
		TurnOrder:      slices.Clone(r.TurnOrder),
		TurnIndex:      r.TurnIndex,
		ActivePlayerID: r.ActivePlayerID,
		PublicSets:     make(map[string]PublicSets, len(r.PublicSets)),
		LastActivityAt: r.LastActivityAt.UnixMilli(),
	}
	if !r.StartedAt.IsZero() {
		rec.StartedAt = r.StartedAt.UnixMilli()
	}

	for id, info := range r.PublicSets {
		rec.PublicSets[id] = PublicSets{SetsCount: info.SetsCount, ByType: maps.Clone(info.ByType)}
	}

	for _, p := range r.seated() {
		hand := make(map[string]int, len(p.Hand))
		for t, c := range p.Hand {
			hand[strconv.Itoa(t)] = c
		}
		rec.Players = append(rec.Players, playerRecord{
			ID:        p.ID,
			Name:      p.Name,
			Secret:    p.Secret,
			Seat:      p.Seat,
			Hand:      hand,
			SetsCount: p.SetsCount,
		})
	}

	return rec
}

// room rebuilds a Room from disk. Bindings are not persisted, so everyone
// comes back offline.
func (rec roomRecord) room(rng *rand.Rand) *Room {
	phase := rec.Phase
	if phase == "" {
		phase = PhaseLobby
	}

	r := newRoom(rec.RoomID, rng, time.UnixMilli(rec.LastActivityAt))
	r.Phase = phase
	r.TemplateID = rec.TemplateID
	r.Deck = slices.Clone(rec.Deck)
	r.Order = slices.Clone(rec.Order)
	r.TurnOrder = slices.Clone(rec.TurnOrder)
	r.TurnIndex = rec.TurnIndex
	r.ActivePlayerID = rec.ActivePlayerID
	if rec.StartedAt != 0 {
		r.StartedAt = time.UnixMilli(rec.StartedAt)
	}

	for id, info := range rec.PublicSets {
		byType := maps.Clone(info.ByType)
		if byType == nil {
			byType = make(map[int]int)
		}
		r.PublicSets[id] = &PublicSets{SetsCount: info.SetsCount, ByType: byType}
	}

	for _, pr := range rec.Players {
		hand := make(Hand, len(pr.Hand))
		for k, c := range pr.Hand {
			t, err := strconv.Atoi(k)
			if err != nil || !validType(t) || c <= 0 {
				continue
			}
			hand[t] = c
		}
		r.Players[pr.ID] = &Player{
			ID:        pr.ID,
			Name:      pr.Name,
			Secret:    pr.Secret,
			Seat:      pr.Seat,
			Hand:      hand,
			SetsCount: pr.SetsCount,
		}
	}

	return r
}

func (s *RoomStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *RoomStore) Save(rec roomRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(rec.RoomID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.path(rec.RoomID))
}

func (s *RoomStore) Delete(id string) error {
	err := s.fs.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// LoadAll reads every saved room. Unreadable files are reported in errs and
// skipped.
func (s *RoomStore) LoadAll() (recs []roomRecord, errs []error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, []error{err}
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}

		var rec roomRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		if rec.RoomID == "" {
			continue
		}

		recs = append(recs, rec)
	}

	return recs, errs
}

func (m *RoomManager) scheduleSaveLocked(r *Room) {
	if m.store == nil {
		return
	}
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = m.clock.AfterFunc(m.saveDebounce, func() { m.persist(r) }, "save")
}

// persist snapshots the room under its lock and writes it outside of it.
// saveMu keeps writes ordered and out of the way of Sweep's deletes.
func (m *RoomManager) persist(r *Room) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	rec := recordFromRoom(r)
	r.mu.Unlock()

	if err := m.store.Save(rec); err != nil {
		m.logger.Error("persist_error", "room", rec.RoomID, "err", err)
	}
}

// SaveAll writes every room immediately, for shutdown.
func (m *RoomManager) SaveAll() {
	if m.store == nil {
		return
	}

	m.mu.Lock()
	rooms := slices.Collect(maps.Values(m.rooms))
	m.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.saveTimer != nil {
			r.saveTimer.Stop()
		}
		r.mu.Unlock()

		m.persist(r)
	}
}

// Restore loads saved rooms, dropping any that expired while we were down.
func (m *RoomManager) Restore() error {
	if m.store == nil {
		return nil
	}

	recs, errs := m.store.LoadAll()
	for _, err := range errs {
		m.logger.Error("room_load_error", "err", err)
	}

	now := m.clock.Now()
	for _, rec := range recs {
		if now.Sub(time.UnixMilli(rec.LastActivityAt)) > m.ttl {
			if err := m.store.Delete(rec.RoomID); err != nil {
				m.logger.Error("room_cleanup_error", "room", rec.RoomID, "err", err)
			}
			m.logger.Info("room_cleanup_disk", "room", rec.RoomID, "reason", "ttl_expired")
			continue
		}

		r := rec.room(m.newRoomRNG())
		if r.Phase == PhaseActive && len(r.Order) > 0 {
			r.TurnIndex %= len(r.Order)
			r.ActivePlayerID = r.Order[r.TurnIndex]
			r.startTurn(now)
		}

		m.mu.Lock()
		m.rooms[r.ID] = r
		m.mu.Unlock()

		m.logger.Info("room_loaded", "room", r.ID, "phase", r.Phase, "players", len(r.Players))
	}

	return nil
}
