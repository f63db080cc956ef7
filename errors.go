/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// The text of each error is the code sent to clients in error_msg.
var (
	ErrRoomNotFound     = errors.New("room_not_found")
	ErrNotHost          = errors.New("not_host")
	ErrPlayerNotFound   = errors.New("player_not_found")
	ErrBadSecret        = errors.New("bad_secret")
	ErrRoomFull         = errors.New("room_full")
	ErrNeedTwoPlayers   = errors.New("need_2_players")
	ErrBadPhase         = errors.New("bad_phase")
	ErrTemplateNotFound = errors.New("template_not_found")
	ErrBadGrid          = errors.New("bad_grid")
	ErrBadImage         = errors.New("bad_image")

	// errIgnored marks requests dropped without telling the caller why.
	errIgnored = errors.New("ignored")
)

var wireErrors = []error{
	ErrRoomNotFound,
	ErrNotHost,
	ErrPlayerNotFound,
	ErrBadSecret,
	ErrRoomFull,
	ErrNeedTwoPlayers,
	ErrBadPhase,
	ErrTemplateNotFound,
	ErrBadGrid,
	ErrBadImage,
}

// errorCode maps err onto its wire code. Anything unrecognised is
// server_error.
func errorCode(err error) string {
	for _, known := range wireErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "server_error"
}

// newLogger writes to stderr and, when a log file is configured, appends the
// same lines there. The returned func releases the file.
func newLogger(cfg *Config) (*log.Logger, func() error, error) {
	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.logFile != "" {
		f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	level := log.InfoLevel
	if cfg.verbose {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      logDate,
	})

	return logger, closer, nil
}

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}
