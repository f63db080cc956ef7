/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	maxJSONBody   = 2 << 20
	maxUploadBody = 32 << 20
	qrSize        = 320
)

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(cfg *Config, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrRoomNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(cfg, w, status, map[string]any{"ok": false, "error": errorCode(err)})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}

func (c *Config) roomURLs(roomID string) (host, player string) {
	q := "?roomId=" + url.QueryEscape(roomID)
	return c.prefix + "/host.html" + q, c.prefix + "/room.html" + q
}

func serveCreateRoom(cfg *Config, rooms *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := rooms.CreateRoom()
		hostURL, playerURL := cfg.roomURLs(id)

		writeJSON(cfg, w, http.StatusOK, map[string]string{
			"roomId":    id,
			"hostUrl":   hostURL,
			"playerUrl": playerURL,
		})
	}
}

func serveRoomSummary(cfg *Config, rooms *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, rooms.Summary(ps.ByName("roomId")))
	}
}

func serveRoomPlayers(cfg *Config, rooms *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := normalizeRoomID(ps.ByName("roomId"))

		phase, players, err := rooms.Players(roomID)
		if err != nil {
			writeJSON(cfg, w, http.StatusNotFound, map[string]any{"roomId": roomID, "exists": false})
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"roomId":  roomID,
			"phase":   phase,
			"players": players,
		})
	}
}

// serveRoomQR renders the player join link as a PNG for sharing on camera.
func serveRoomQR(cfg *Config, rooms *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		summary := rooms.Summary(ps.ByName("roomId"))
		if !summary.Exists {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		_, playerURL := cfg.roomURLs(summary.RoomID)

		png, err := qrcode.Encode(scheme+"://"+r.Host+playerURL, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveClientLog(logger *log.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var payload json.RawMessage
		if err := readJSON(w, r, &payload); err != nil {
			payload = nil
		}

		logger.Info("client", "ip", realIP(r), "payload", string(payload))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true}` + "\n"))
	}
}

func registerRoomRoutes(cfg *Config, logger *log.Logger, rooms *RoomManager, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/api/rooms", serveCreateRoom(cfg, rooms))
	mux.GET(cfg.prefix+"/api/rooms/:roomId/summary", serveRoomSummary(cfg, rooms))
	mux.GET(cfg.prefix+"/api/rooms/:roomId/players", serveRoomPlayers(cfg, rooms))
	mux.GET(cfg.prefix+"/api/rooms/:roomId/qr", serveRoomQR(cfg, rooms))
	mux.POST(cfg.prefix+"/api/client-log", serveClientLog(logger))
}

func serveTemplateList(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		list, err := templates.List()
		if err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"templates": list})
	}
}

func serveTemplateDraft(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]any{"ok": false, "error": "file_required"})
			return
		}
		defer file.Close()

		name := r.FormValue("name")
		if name == "" {
			name = header.Filename
		}

		t, size, err := templates.Create(name, file)
		if err != nil {
			writeFailure(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"ok":     true,
			"id":     t.ID,
			"width":  size.X,
			"height": size.Y,
			"grid":   t.Grid,
		})
	}
}

type templateEdit struct {
	Name string `json:"name"`
	Grid *Grid  `json:"grid"`
}

func serveTemplateGrid(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var body templateEdit
		if err := readJSON(w, r, &body); err != nil || body.Grid == nil {
			writeFailure(cfg, w, ErrBadGrid)
			return
		}
		if err := templates.SetGrid(ps.ByName("id"), *body.Grid); err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"ok": true})
	}
}

func serveTemplateSlice(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := templates.Slice(ps.ByName("id")); err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"ok": true})
	}
}

func serveTemplateFinalize(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var body templateEdit
		if err := readJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeFailure(cfg, w, ErrBadGrid)
			return
		}
		if err := templates.Finalize(ps.ByName("id"), body.Name, body.Grid); err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"ok": true})
	}
}

func serveTemplateRename(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var body templateEdit
		_ = readJSON(w, r, &body)

		if err := templates.Rename(ps.ByName("id"), body.Name); err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"ok": true})
	}
}

func serveTemplateDelete(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := templates.Delete(ps.ByName("id")); err != nil {
			writeFailure(cfg, w, err)
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]any{"ok": true})
	}
}

func servePNG(cfg *Config, w http.ResponseWriter, data []byte, err error) {
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)
	_, _ = w.Write(data)
}

func serveTemplateSource(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		data, err := templates.ReadSource(ps.ByName("id"))
		servePNG(cfg, w, data, err)
	}
}

func serveTemplateTile(cfg *Config, templates *TemplateStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		idx, err := strconv.Atoi(ps.ByName("idx"))
		if err != nil {
			http.Error(w, "no slice", http.StatusNotFound)
			return
		}
		data, err := templates.ReadSlice(ps.ByName("id"), idx)
		servePNG(cfg, w, data, err)
	}
}

func registerTemplateRoutes(cfg *Config, templates *TemplateStore, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/api/templates", serveTemplateList(cfg, templates))
	mux.POST(cfg.prefix+"/api/templates", serveTemplateDraft(cfg, templates))
	mux.POST(cfg.prefix+"/api/templates/:id/grid", serveTemplateGrid(cfg, templates))
	mux.POST(cfg.prefix+"/api/templates/:id/slice", serveTemplateSlice(cfg, templates))
	mux.POST(cfg.prefix+"/api/templates/:id/finalize", serveTemplateFinalize(cfg, templates))
	mux.POST(cfg.prefix+"/api/templates/:id/rename", serveTemplateRename(cfg, templates))
	mux.DELETE(cfg.prefix+"/api/templates/:id", serveTemplateDelete(cfg, templates))
	mux.GET(cfg.prefix+"/api/templates/:id/source", serveTemplateSource(cfg, templates))
	mux.GET(cfg.prefix+"/api/templates/:id/slice/:idx", serveTemplateTile(cfg, templates))
}
