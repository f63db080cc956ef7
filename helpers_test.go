package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// testRoom returns a lobby with players p1..pN named after names.
func testRoom(t *testing.T, names ...string) *Room {
	t.Helper()

	r := newRoom("TEST01", rand.New(rand.NewPCG(1, 2)), epoch)
	for i, name := range names {
		id := fmt.Sprintf("p%d", i+1)
		r.Players[id] = &Player{ID: id, Name: name, Secret: "secret-" + id, Hand: make(Hand)}
	}
	return r
}

// activeRoom puts r mid-game with the given hands, the rest of a full deck
// shuffled into the draw pile, and p1 to play.
func activeRoom(t *testing.T, r *Room, hands map[string]Hand) {
	t.Helper()

	deck := buildDeck()
	for id, h := range hands {
		r.Players[id].Hand = h
		for typ, n := range h {
			for range n {
				i := slices.Index(deck, typ)
				require.GreaterOrEqual(t, i, 0, "not enough type %d cards", typ)
				deck = slices.Delete(deck, i, i+1)
			}
		}
	}

	shuffle(deck, r.rng)

	r.Deck = deck
	r.Phase = PhaseActive
	r.Order = nil
	for i := range len(r.Players) {
		r.Order = append(r.Order, fmt.Sprintf("p%d", i+1))
	}
	r.TurnOrder = slices.Clone(r.Order)
	for i, id := range r.Order {
		r.Players[id].Seat = i + 1
	}
	r.TurnIndex = 0
	r.ActivePlayerID = r.Order[0]
	r.startTurn(epoch)
}

// cardCount is every card accounted for: hands, deck and scored sets.
func cardCount(r *Room) int {
	n := len(r.Deck) + copiesPerType*r.totalSets()
	for _, p := range r.Players {
		n += p.Hand.total()
	}
	return n
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   map[string][]any
	closed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]any)}
}

func (f *fakeTransport) Send(socketID string, msg any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[socketID] = append(f.sent[socketID], msg)
}

func (f *fakeTransport) Close(socketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, socketID)
}

func (f *fakeTransport) types(socketID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.sent[socketID]))
	for _, msg := range f.sent[socketID] {
		out = append(out, msgType(msg))
	}
	return out
}

func (f *fakeTransport) last(socketID string) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.sent[socketID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = make(map[string][]any)
	f.closed = nil
}

func msgType(msg any) string {
	data, err := json.Marshal(msg)
	if err != nil {
		return ""
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &head)
	return head.Type
}

type fakeTemplates map[string]bool

func (f fakeTemplates) Load(id string) (*Template, error) {
	if !f[id] {
		return nil, ErrTemplateNotFound
	}
	return &Template{ID: id, Grid: defaultGrid()}, nil
}
