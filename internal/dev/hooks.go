package dev

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hotrun-dev/hotrun/internal/assets"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/hmr"
)

// MetricsPath serves the orchestrator's Prometheus metrics.
const MetricsPath = "/__hotrun/metrics"

var transformExts = map[string]bool{
	".js":   true,
	".mjs":  true,
	".ts":   true,
	".tsx":  true,
	".jsx":  true,
	".css":  true,
	".scss": true,
	".sass": true,
}

// hooks serves the frontend next to the application routes. A fresh
// hook and not-found handler are attached to every server created.
type hooks struct {
	root        string
	index       string
	indexPrefix string
	assets      assets.Transformer
	hub         *hmr.ClientHub
	metrics     http.Handler
	logger      *slog.Logger
}

func newHooks(root, index string, t assets.Transformer, hub *hmr.ClientHub, m http.Handler, logger *slog.Logger) *hooks {
	prefix := "/"
	if rel, err := filepath.Rel(root, filepath.Dir(index)); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		prefix = "/" + filepath.ToSlash(rel) + "/"
	}
	return &hooks{
		root:        root,
		index:       index,
		indexPrefix: prefix,
		assets:      t,
		hub:         hub,
		metrics:     m,
		logger:      logger,
	}
}

// onRequest handles dev-only paths and frontend assets. It returns false
// for everything the application should route.
func (h *hooks) onRequest(w http.ResponseWriter, r *http.Request) bool {
	p := r.URL.Path
	ext := strings.ToLower(path.Ext(p))

	switch {
	case p == hmr.ClientPath && h.hub != nil:
		h.hub.ServeHTTP(w, r)
		return true
	case p == MetricsPath && h.metrics != nil:
		h.metrics.ServeHTTP(w, r)
		return true
	case strings.HasPrefix(p, "/assets/") && (ext == ".js" || ext == ".css"):
		return false
	case strings.HasPrefix(p, "/view-assets/"):
		return false
	}

	if strings.HasPrefix(p, "/src/") {
		if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" {
			h.serveRaw(w, r)
			return true
		}
	}
	if strings.HasPrefix(p, "/src/") || strings.HasPrefix(p, "/@") || transformExts[ext] {
		h.serveAsset(w, r)
		return true
	}
	return false
}

func (h *hooks) serveRaw(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.root, filepath.FromSlash(path.Clean(r.URL.Path)))
	f, err := os.Open(name)
	if err != nil {
		fileNotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		fileNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", assets.ContentType(name))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *hooks) serveAsset(w http.ResponseWriter, r *http.Request) {
	if h.assets == nil {
		fileNotFound(w, r)
		return
	}
	res, err := h.assets.Transform(r.Context(), r.URL.Path)
	if err != nil {
		if stderrors.Is(err, assets.ErrNotFound) {
			fileNotFound(w, r)
			return
		}
		h.logger.Warn("asset transform failed", "url", r.URL.Path, "error", err)
		msg := err.Error()
		var he *errors.HotrunError
		if stderrors.As(err, &he) {
			msg = he.FormatCompact()
		}
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	if res.ETag != "" {
		w.Header().Set("ETag", res.ETag)
		if r.Header.Get("If-None-Match") == res.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Write(res.Code)
}

func fileNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, fmt.Sprintf("File %s not found", r.URL.Path), http.StatusNotFound)
}

// notFound answers unmatched API routes with JSON and everything else
// with the frontend document.
func (h *hooks) notFound(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("Route %s:%s not found", r.Method, r.URL.RequestURI()),
		})
		return
	}

	data, err := os.ReadFile(h.index)
	if err != nil {
		h.logger.Debug("frontend document unavailable", "path", h.index, "error", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(h.document(string(data))))
}

// document rewrites ./ references to the frontend directory and injects
// the reload client.
func (h *hooks) document(html string) string {
	html = strings.ReplaceAll(html, `"./`, `"`+h.indexPrefix)
	html = strings.ReplaceAll(html, `'./`, `'`+h.indexPrefix)
	if h.hub == nil {
		return html
	}
	if idx := strings.LastIndex(html, "</body>"); idx != -1 {
		return html[:idx] + hmr.ClientScript + html[idx:]
	}
	if idx := strings.LastIndex(html, "</html>"); idx != -1 {
		return html[:idx] + hmr.ClientScript + html[idx:]
	}
	return html + hmr.ClientScript
}
