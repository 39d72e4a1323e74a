package hmr

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientPath is where browsers connect for reload notifications.
const ClientPath = "/__hotrun/reload"

const writeTimeout = 5 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ClientHub manages browser websocket connections for reload notifications.
type ClientHub struct {
	clients  map[*client]struct{}
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewClientHub creates a new hub.
func NewClientHub(logger *slog.Logger) *ClientHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientHub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		logger: logger.With("component", "hmr"),
	}
}

// ServeHTTP upgrades the request and keeps the connection until the
// browser goes away.
func (h *ClientHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	if err := c.write(Encode(Payload{Type: PayloadConnected})); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
}

// NotifyReload tells every browser to reload the page.
func (h *ClientHub) NotifyReload() {
	h.Broadcast(Payload{Type: PayloadFullReload})
}

// NotifyCSS tells every browser to refresh its stylesheets.
func (h *ClientHub) NotifyCSS(paths ...string) {
	ts := time.Now().UnixMilli()
	updates := make([]Update, 0, len(paths))
	for _, p := range paths {
		updates = append(updates, Update{Type: UpdateCSS, Path: p, Timestamp: ts})
	}
	h.Broadcast(Payload{Type: PayloadUpdate, Updates: updates})
}

// NotifyError shows an error overlay in every browser.
func (h *ClientHub) NotifyError(message, module string) {
	h.Broadcast(Payload{Type: PayloadError, Err: &ErrorInfo{Message: message, Module: module}})
}

// ClearError removes the error overlay.
func (h *ClientHub) ClearError() {
	h.Broadcast(Payload{Type: PayloadClear})
}

// Broadcast sends p to all connected clients.
func (h *ClientHub) Broadcast(p Payload) {
	data := Encode(p)

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.remove(c)
		}
	}
}

func (h *ClientHub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *ClientHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *ClientHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ClientScript is injected into served HTML pages. It reloads the page,
// refreshes stylesheets and shows evaluation errors as an overlay.
const ClientScript = `
<script type="module">
(function() {
    'use strict';

    var reconnectDelay = 1000;
    var maxReconnectDelay = 30000;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + '` + ClientPath + `');

        ws.onopen = function() {
            reconnectDelay = 1000;
        };

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }

            switch (msg.type) {
                case 'connected':
                    console.log('[hotrun] connected');
                    clearErrorOverlay();
                    break;

                case 'full-reload':
                    console.log('[hotrun] reloading...');
                    location.reload();
                    break;

                case 'update':
                    var cssOnly = (msg.updates || []).every(function(u) { return u.type === 'css-update'; });
                    if (cssOnly) {
                        reloadCSS();
                    } else {
                        location.reload();
                    }
                    break;

                case 'error':
                    console.error('[hotrun] error:', msg.err && msg.err.message);
                    showErrorOverlay(msg.err || {});
                    break;

                case 'clear':
                    clearErrorOverlay();
                    break;
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
                connect();
            }, reconnectDelay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    function reloadCSS() {
        document.querySelectorAll('link[rel="stylesheet"]').forEach(function(link) {
            var url = new URL(link.href);
            url.searchParams.set('t', Date.now());
            link.href = url.toString();
        });
    }

    function showErrorOverlay(err) {
        clearErrorOverlay();

        var overlay = document.createElement('div');
        overlay.id = 'hotrun-error-overlay';
        overlay.style.cssText = 'position:fixed;inset:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:999999;';

        var title = document.createElement('h2');
        title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
        title.textContent = err.module ? 'Error in ' + err.module : 'Evaluation Error';

        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;word-wrap:break-word;background:#1a1a1a;padding:20px;border-radius:8px;';
        pre.textContent = err.message || '';

        var hint = document.createElement('p');
        hint.style.cssText = 'margin-top:20px;color:#888;';
        hint.textContent = 'Fix the error and save to reload.';

        overlay.appendChild(title);
        overlay.appendChild(pre);
        overlay.appendChild(hint);
        document.body.appendChild(overlay);
    }

    function clearErrorOverlay() {
        var overlay = document.getElementById('hotrun-error-overlay');
        if (overlay) {
            overlay.remove();
        }
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
</script>
`
