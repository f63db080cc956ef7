/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	gridLines         = 4
	maxTemplateName   = 80
	minTileSpacingPx  = 6
	templateSourceImg = "source.png"
)

// Grid holds the normalised 0..1 cut lines of a 3x3 card sheet.
type Grid struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

func defaultGrid() Grid {
	return Grid{
		X: []float64{0.05, 0.35, 0.65, 0.95},
		Y: []float64{0.05, 0.35, 0.65, 0.95},
	}
}

func (g Grid) valid() bool {
	return len(g.X) == gridLines && len(g.Y) == gridLines
}

type templateMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Template is an uploaded sheet plus the grid that cuts it into nine faces.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UpdatedAt int64  `json:"updatedAt"`
	Grid      Grid   `json:"grid"`
}

// TemplateStore lays each template out as <dir>/<id>/{source.png,
// grid.json, meta.json, slices/<n>.png}.
type TemplateStore struct {
	fs    afero.Fs
	dir   string
	clock quartz.Clock

	mu sync.Mutex
}

func newTemplateStore(fs afero.Fs, dir string, clock quartz.Clock) (*TemplateStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	return &TemplateStore{fs: fs, dir: dir, clock: clock}, nil
}

// templateDir refuses anything but a uuid so ids can't walk the filesystem.
func (s *TemplateStore) templateDir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrTemplateNotFound
	}
	return filepath.Join(s.dir, id), nil
}

func (s *TemplateStore) readJSON(path string, v any) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrTemplateNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *TemplateStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0o644)
}

func (s *TemplateStore) loadLocked(id string) (*Template, error) {
	dir, err := s.templateDir(id)
	if err != nil {
		return nil, err
	}

	if ok, _ := afero.Exists(s.fs, filepath.Join(dir, templateSourceImg)); !ok {
		return nil, ErrTemplateNotFound
	}

	var meta templateMeta
	if err := s.readJSON(filepath.Join(dir, "meta.json"), &meta); err != nil {
		return nil, err
	}
	var grid Grid
	if err := s.readJSON(filepath.Join(dir, "grid.json"), &grid); err != nil {
		return nil, err
	}

	return &Template{ID: id, Name: meta.Name, UpdatedAt: meta.UpdatedAt, Grid: grid}, nil
}

func (s *TemplateStore) Load(id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(id)
}

// List returns complete templates, most recently updated first.
func (s *TemplateStore) List() ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, err
	}

	out := make([]Template, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := s.loadLocked(e.Name())
		if err != nil {
			continue
		}
		out = append(out, *t)
	}

	slices.SortFunc(out, func(a, b Template) int {
		return cmp.Compare(b.UpdatedAt, a.UpdatedAt)
	})

	return out, nil
}

func trimTemplateName(name string) string {
	if utf8.RuneCountInString(name) > maxTemplateName {
		name = string([]rune(name)[:maxTemplateName])
	}
	return name
}

// Create stores an uploaded image, normalised to PNG, with the default grid.
func (s *TemplateStore) Create(name string, src io.Reader) (*Template, image.Point, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Point{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	dir := filepath.Join(s.dir, id)
	if err := s.fs.MkdirAll(filepath.Join(dir, "slices"), 0o755); err != nil {
		return nil, image.Point{}, err
	}

	if err := afero.WriteFile(s.fs, filepath.Join(dir, templateSourceImg), buf.Bytes(), 0o644); err != nil {
		return nil, image.Point{}, err
	}

	if name == "" {
		name = "Template"
	}
	now := s.clock.Now().UnixMilli()
	meta := templateMeta{ID: id, Name: trimTemplateName(name), CreatedAt: now, UpdatedAt: now}
	if err := s.writeJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return nil, image.Point{}, err
	}

	grid := defaultGrid()
	if err := s.writeJSON(filepath.Join(dir, "grid.json"), grid); err != nil {
		return nil, image.Point{}, err
	}

	t := &Template{ID: id, Name: meta.Name, UpdatedAt: now, Grid: grid}

	return t, img.Bounds().Size(), nil
}

func (s *TemplateStore) updateMetaLocked(dir string, edit func(*templateMeta)) error {
	path := filepath.Join(dir, "meta.json")

	var meta templateMeta
	if err := s.readJSON(path, &meta); err != nil {
		return err
	}
	edit(&meta)
	meta.UpdatedAt = s.clock.Now().UnixMilli()

	return s.writeJSON(path, meta)
}

func (s *TemplateStore) setGridLocked(id string, grid Grid) error {
	if !grid.valid() {
		return ErrBadGrid
	}
	t, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.dir, t.ID)

	if err := s.writeJSON(filepath.Join(dir, "grid.json"), grid); err != nil {
		return err
	}
	return s.updateMetaLocked(dir, func(*templateMeta) {})
}

func (s *TemplateStore) SetGrid(id string, grid Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setGridLocked(id, grid)
}

func (s *TemplateStore) renameLocked(id, name string) error {
	t, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	return s.updateMetaLocked(filepath.Join(s.dir, t.ID), func(m *templateMeta) {
		if name = trimTemplateName(name); name != "" {
			m.Name = name
		}
	})
}

func (s *TemplateStore) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.renameLocked(id, name)
}

func (s *TemplateStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.templateDir(id)
	if err != nil {
		return err
	}
	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		return ErrTemplateNotFound
	}
	return s.fs.RemoveAll(dir)
}

// pixelCuts turns normalised cut lines into pixel offsets at least
// minTileSpacingPx apart, clamped to the image.
func pixelCuts(lines []float64, size int) []int {
	cuts := make([]int, len(lines))
	for i, v := range lines {
		cuts[i] = int(math.Round(v * float64(size)))
	}
	for i := 1; i < len(cuts); i++ {
		if cuts[i] <= cuts[i-1]+minTileSpacingPx-1 {
			cuts[i] = cuts[i-1] + minTileSpacingPx
		}
	}
	cuts[0] = max(0, cuts[0])
	cuts[len(cuts)-1] = min(size, cuts[len(cuts)-1])
	return cuts
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func (s *TemplateStore) sliceLocked(id string) error {
	t, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	if !t.Grid.valid() {
		return ErrBadGrid
	}
	dir := filepath.Join(s.dir, t.ID)

	f, err := s.fs.Open(filepath.Join(dir, templateSourceImg))
	if err != nil {
		return err
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	sub, ok := img.(subImager)
	if !ok {
		return ErrBadImage
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return ErrBadImage
	}

	xs := pixelCuts(t.Grid.X, w)
	ys := pixelCuts(t.Grid.Y, h)

	norm := Grid{X: make([]float64, gridLines), Y: make([]float64, gridLines)}
	for i := range gridLines {
		norm.X[i] = float64(xs[i]) / float64(w)
		norm.Y[i] = float64(ys[i]) / float64(h)
	}
	if err := s.setGridLocked(id, norm); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Join(dir, "slices"), 0o755); err != nil {
		return err
	}

	for row := range 3 {
		for col := range 3 {
			rect := image.Rect(xs[col], ys[row], xs[col+1], ys[row+1]).Add(b.Min).Intersect(b)
			if rect.Empty() {
				return ErrBadGrid
			}

			var buf bytes.Buffer
			if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
				return err
			}

			name := strconv.Itoa(row*3+col) + ".png"
			if err := afero.WriteFile(s.fs, filepath.Join(dir, "slices", name), buf.Bytes(), 0o644); err != nil {
				return err
			}
		}
	}

	return nil
}

// Slice cuts the source into nine row-major tiles, writing back the grid
// after spacing and clamping adjustments.
func (s *TemplateStore) Slice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sliceLocked(id)
}

// Finalize applies an optional name and grid, then slices.
func (s *TemplateStore) Finalize(id, name string, grid *Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if err := s.renameLocked(id, name); err != nil {
			return err
		}
	}
	if grid != nil {
		if err := s.setGridLocked(id, *grid); err != nil {
			return err
		}
	}
	return s.sliceLocked(id)
}

func (s *TemplateStore) ReadSource(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.templateDir(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, templateSourceImg))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTemplateNotFound
	}
	return data, err
}

func (s *TemplateStore) ReadSlice(id string, idx int) ([]byte, error) {
	if idx < 0 || idx >= cardTypes {
		return nil, ErrTemplateNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.templateDir(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, "slices", strconv.Itoa(idx)+".png"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTemplateNotFound
	}
	return data, err
}
