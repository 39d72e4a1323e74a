package dev

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hotrun-dev/hotrun/internal/config"
	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/hmr"
	"github.com/hotrun-dev/hotrun/internal/lifecycle"
)

func TestRun_StartupListensOnce(t *testing.T) {
	h := newHarness(t)
	h.start()

	listens, open, _ := h.log.snapshot()
	if len(listens) != 1 || listens[0] != "127.0.0.1:9000" {
		t.Errorf("listens = %v, want one listen on 127.0.0.1:9000", listens)
	}
	if open != 1 {
		t.Errorf("open servers = %d, want 1", open)
	}
	if got := h.o.Active().Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Active().Addr() = %q", got)
	}
	if got := h.activeVersion(); got != "v1" {
		t.Errorf("version = %q, want v1", got)
	}
	if out := h.stdout.String(); !strings.Contains(out, "Server launched on http://127.0.0.1:9000. Launch time: ") {
		t.Errorf("stdout missing launch line:\n%s", out)
	}

	srv := h.log.server(0)
	if len(srv.hooks) != 1 || srv.notFound == nil {
		t.Errorf("server hooks = %d, notFound set = %v", len(srv.hooks), srv.notFound != nil)
	}
}

func TestRun_QuitClosesServer(t *testing.T) {
	h := newHarness(t)
	h.start()
	srv := h.log.server(0)

	if !h.keys.Dispatch('q') {
		t.Fatal("q is not bound")
	}
	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}

	if !srv.isClosed() {
		t.Error("server still open after quit")
	}
	if h.o.Active() != nil {
		t.Error("handle still active after quit")
	}
	if h.o.State() != StateTerminated {
		t.Errorf("state = %v, want terminated", h.o.State())
	}
	if n := h.stream().Subscribers(); n != 0 {
		t.Errorf("stream subscribers = %d after quit", n)
	}
	if h.keys.Len() != 0 {
		t.Errorf("%d key bindings left after quit", h.keys.Len())
	}
}

func TestRun_CyrillicQuit(t *testing.T) {
	h := newHarness(t)
	h.start()
	if !h.keys.Dispatch('й') {
		t.Fatal("й is not bound")
	}
	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestRun_StartupFailure(t *testing.T) {
	h := newHarness(t)
	h.entry.setFail(fmt.Errorf("database unreachable"))

	err := h.o.Run(t.Context())
	var he *errors.HotrunError
	if !stderrors.As(err, &he) || he.Code != "H501" {
		t.Fatalf("Run = %v, want H501", err)
	}
	if !strings.Contains(err.Error(), "database unreachable") {
		t.Errorf("error %q lost its cause", err)
	}
	if got := errors.ModuleOf(err); !strings.HasSuffix(got, "src/backend/app.go") {
		t.Errorf("ModuleOf = %q, want the entry module", got)
	}
	if listens, _, _ := h.log.snapshot(); len(listens) != 0 {
		t.Errorf("listens = %v, want none", listens)
	}
	if n := h.stream().Subscribers(); n != 0 {
		t.Errorf("stream subscribers = %d after failed startup", n)
	}
	if h.o.State() != StateTerminated {
		t.Errorf("state = %v, want terminated", h.o.State())
	}
}

func TestPartialReload_SwapsServer(t *testing.T) {
	h := newHarness(t)
	h.start()
	first := h.log.server(0)

	h.change("v2")
	h.eventually("swap", func() bool { return h.activeVersion() == "v2" })

	if !first.isClosed() {
		t.Error("previous server was not closed")
	}
	listens, open, maxOpen := h.log.snapshot()
	if len(listens) != 2 || open != 1 || maxOpen != 1 {
		t.Errorf("listens=%v open=%d maxOpen=%d", listens, open, maxOpen)
	}
	if h.streamCount() != 1 {
		t.Errorf("partial reload created %d streams, want the warm one", h.streamCount())
	}
	h.eventually("reload line", func() bool {
		return strings.Contains(h.stdout.String(), "Reload time: ")
	})
	if out := h.stdout.String(); !strings.Contains(out, "Changed: src/backend/config.json") {
		t.Errorf("stdout missing change line:\n%s", out)
	}
	h.eventually("metrics", func() bool {
		return strings.Contains(h.metrics(), `hotrun_reloads_total{kind="partial",outcome="success"} 1`)
	})
}

func TestPartialReload_EvaluationErrorKeepsServer(t *testing.T) {
	h := newHarness(t)
	h.start()
	before := h.o.Active()

	h.entry.setFail(fmt.Errorf("syntax error"))
	h.change("v2")
	h.eventually("error report", func() bool {
		return strings.Contains(h.stderr.String(), "Reload failed")
	})

	if h.o.Active() != before {
		t.Error("active handle changed after a failed evaluation")
	}
	if before.State() != lifecycle.StateActive || h.log.server(0).isClosed() {
		t.Error("old server stopped serving")
	}
	if !strings.Contains(h.stderr.String(), "syntax error") {
		t.Errorf("stderr missing cause:\n%s", h.stderr)
	}
	h.eventually("still serving line", func() bool {
		return strings.Contains(h.stdout.String(), "Still serving the previous version on http://127.0.0.1:9000")
	})

	// The failed entry is not cached, so the next change retries it.
	h.entry.setFail(nil)
	h.change("v3")
	h.eventually("recovery", func() bool { return h.activeVersion() == "v3" })
}

func TestPartialReload_EvaluationErrorOldServerResponds(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Server.Port = 0 })
	h.entry.real = true
	h.start()
	addr := h.o.Active().Addr()

	get := func() (string, error) {
		resp, err := http.Get("http://" + addr + "/version")
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return string(body), err
	}
	if got, err := get(); err != nil || got != "v1" {
		t.Fatalf("GET /version = %q, %v before reload", got, err)
	}

	h.entry.setFail(fmt.Errorf("syntax error"))
	h.change("v2")
	h.eventually("error report", func() bool {
		return strings.Contains(h.stderr.String(), "Reload failed")
	})

	if got, err := get(); err != nil || got != "v1" {
		t.Errorf("GET /version = %q, %v after failed reload, want v1", got, err)
	}
	if got := h.o.Active().Addr(); got != addr {
		t.Errorf("active address = %q, want %q", got, addr)
	}
}

func TestPartialReload_LatestChangeWins(t *testing.T) {
	h := newHarness(t)
	h.start()
	<-h.entry.started

	release := h.entry.blockNext()
	defer release()
	h.change("v2")
	select {
	case <-h.entry.started:
	case <-time.After(5 * time.Second):
		t.Fatal("partial reload never started evaluating")
	}

	// The second change arrives while the first reload is still evaluating.
	h.change("v3")
	h.eventually("latest swap", func() bool { return h.activeVersion() == "v3" })

	release()
	h.eventually("first reload discarded", func() bool {
		return strings.Contains(h.metrics(), `hotrun_reloads_total{kind="partial",outcome="superseded"} 1`)
	})
	if got := h.activeVersion(); got != "v3" {
		t.Errorf("version = %q, want v3", got)
	}
	if _, open, maxOpen := h.log.snapshot(); open != 1 || maxOpen != 1 {
		t.Errorf("open=%d maxOpen=%d", open, maxOpen)
	}
}

func TestRun_ChangeDuringStartup(t *testing.T) {
	h := newHarness(t)
	release := h.entry.blockNext()
	defer release()
	h.run()
	select {
	case <-h.entry.started:
	case <-time.After(5 * time.Second):
		t.Fatal("startup never evaluated the entry")
	}

	h.change("v2")
	release()
	h.eventually("reload after startup", func() bool { return h.activeVersion() == "v2" })

	if _, open, maxOpen := h.log.snapshot(); open != 1 || maxOpen != 1 {
		t.Errorf("open=%d maxOpen=%d", open, maxOpen)
	}
}

func TestPartialReload_UnrelatedChange(t *testing.T) {
	h := newHarness(t)
	h.start()
	evals := h.entry.evals.Load()

	h.stream().SendPayload(hmr.Payload{
		Type:    hmr.PayloadUpdate,
		Updates: []hmr.Update{{Type: hmr.UpdateCSS, Path: h.root + "/src/frontend/style.css"}},
	})
	h.eventually("css line", func() bool {
		return strings.Contains(h.stdout.String(), "CSS updated")
	})

	if got := h.entry.evals.Load(); got != evals {
		t.Errorf("entry evaluated %d more times for a stylesheet", got-evals)
	}
	if listens, _, _ := h.log.snapshot(); len(listens) != 1 {
		t.Errorf("listens = %v, want the startup listen only", listens)
	}
}

func TestFullReload_Key(t *testing.T) {
	h := newHarness(t)
	h.start()
	first := h.log.server(0)
	firstStream := h.stream()

	if !h.keys.Dispatch('r') {
		t.Fatal("r is not bound")
	}
	h.eventually("new cycle", func() bool {
		listens, _, _ := h.log.snapshot()
		return len(listens) == 2 && h.o.Active() != nil && h.o.State() == StateRunning
	})

	if !first.isClosed() {
		t.Error("previous server was not closed")
	}
	if h.streamCount() != 2 {
		t.Errorf("streams = %d, want a fresh one", h.streamCount())
	}
	if n := firstStream.Subscribers(); n != 0 {
		t.Errorf("old stream still has %d subscribers", n)
	}
	if _, _, maxOpen := h.log.snapshot(); maxOpen != 1 {
		t.Errorf("maxOpen = %d, want 1", maxOpen)
	}
	// The old cycle's bindings are gone and the new cycle bound its own.
	if got := h.keys.Len(); got != 6 {
		t.Errorf("key bindings = %d, want 6", got)
	}
}

func TestFullReload_Payload(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.stream().SendPayload(hmr.Payload{Type: hmr.PayloadFullReload, Path: h.root + "/hotrun.json"})
	h.eventually("new cycle", func() bool {
		listens, _, _ := h.log.snapshot()
		return len(listens) == 2 && h.o.Active() != nil
	})
	h.eventually("reason line", func() bool {
		return strings.Contains(h.stdout.String(), "Full reload: hotrun.json changed")
	})
}

func TestFullReload_FailureKeepsWatching(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.entry.setFail(fmt.Errorf("broken"))
	h.keys.Dispatch('r')
	h.eventually("error report", func() bool {
		return strings.Contains(h.stderr.String(), "No server is running")
	})
	if h.o.Active() != nil {
		t.Error("a server is active after a failed full reload")
	}

	h.entry.setFail(nil)
	h.change("v2")
	h.eventually("recovery", func() bool { return h.activeVersion() == "v2" })
	if _, _, maxOpen := h.log.snapshot(); maxOpen != 1 {
		t.Errorf("maxOpen = %d, want 1", maxOpen)
	}
}

func TestFullReload_SupersedesPartialInFlight(t *testing.T) {
	h := newHarness(t)
	h.start()
	<-h.entry.started

	release := h.entry.blockNext()
	defer release()
	h.change("v2")
	select {
	case <-h.entry.started:
	case <-time.After(5 * time.Second):
		t.Fatal("partial reload never started evaluating")
	}

	// The full reload runs while the partial reload is blocked.
	h.keys.Dispatch('r')
	h.eventually("full reload", func() bool {
		listens, _, _ := h.log.snapshot()
		return len(listens) == 2 && h.o.Active() != nil
	})
	full := h.o.Active()

	release()
	h.eventually("partial discarded", func() bool {
		return strings.Contains(h.metrics(), `hotrun_reloads_total{kind="partial",outcome="superseded"} 1`)
	})

	if h.o.Active() != full {
		t.Error("superseded partial reload replaced the server")
	}
	listens, open, maxOpen := h.log.snapshot()
	if len(listens) != 2 || open != 1 || maxOpen != 1 {
		t.Errorf("listens=%v open=%d maxOpen=%d", listens, open, maxOpen)
	}
	if got := h.activeVersion(); got != "v2" {
		t.Errorf("version = %q, want the full reload to read v2", got)
	}
}

func TestSingleActiveAcrossTriggers(t *testing.T) {
	h := newHarness(t)
	h.start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				h.keys.Dispatch('r')
				return
			}
			h.stream().SendPayload(hmr.Payload{
				Type:    hmr.PayloadUpdate,
				Updates: []hmr.Update{{Type: hmr.UpdateModule, Path: h.root + "/src/backend/config.json"}},
			})
		}(i)
	}
	wg.Wait()
	h.keys.Wait()

	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	_, open, maxOpen := h.log.snapshot()
	if maxOpen != 1 {
		t.Errorf("maxOpen = %d, want 1", maxOpen)
	}
	if open != 0 {
		t.Errorf("%d servers open after quit", open)
	}
}

func TestOpenKey(t *testing.T) {
	h := newHarness(t)
	h.start()

	if !h.keys.Dispatch('o') {
		t.Fatal("o is not bound")
	}
	select {
	case url := <-h.opened:
		if url != "http://127.0.0.1:9000" {
			t.Errorf("opened %q", url)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("o did not open the browser")
	}
}

func TestBrowserAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:9000", "127.0.0.1:9000"},
		{"0.0.0.0:9000", "localhost:9000"},
		{"[::]:9000", "localhost:9000"},
		{":9000", "localhost:9000"},
		{"example.test:80", "example.test:80"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		if got := browserAddr(tt.addr); got != tt.want {
			t.Errorf("browserAddr(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateReloadingPartial, "reloading-partial"},
		{StateReloadingFull, "reloading-full"},
		{StateTerminating, "terminating"},
		{StateTerminated, "terminated"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
