// Package site serves the embedded public leaderboard page.
package site

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Error constants
var (
	ErrServe = errors.New("leaderboard page serve failed")
)

// startTime is the modification time reported for embedded files.
var startTime = time.Now()

// Register attaches the leaderboard page routes to mux.
//
//	GET /          -> leaderboard page
//	GET /static/*  -> page assets
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	root := NewRootHandler()
	mux.HandleFunc("GET /{$}", root.HandleRoot)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(FS())))
}

// RootHandler handles root path requests
type RootHandler struct {
	files http.FileSystem
}

// NewRootHandler creates a new root handler
func NewRootHandler() *RootHandler {
	return &RootHandler{files: FS()}
}

// HandleRoot handles GET / requests with the leaderboard page.
func (h *RootHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	f, err := h.files.Open("index.html")
	if err != nil {
		http.Error(w, ErrServe.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", startTime, f)
}
