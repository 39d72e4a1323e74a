package app

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/pkg/module"
)

func TestApp_RoutesAndHooks(t *testing.T) {
	a := New(Options{})
	a.Router().Get("/api/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	var order []string
	a.AddHook(func(w http.ResponseWriter, r *http.Request) bool {
		order = append(order, "first")
		if r.URL.Path == "/hooked" {
			w.Write([]byte("from hook"))
			return true
		}
		return false
	})
	a.AddHook(func(w http.ResponseWriter, r *http.Request) bool {
		order = append(order, "second")
		return false
	})
	a.AddHook(nil)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
		wantHook string
	}{
		{"/api/hello", http.StatusOK, "hello", "first,second"},
		{"/hooked", http.StatusOK, "from hook", "first"},
		{"/missing", http.StatusNotFound, "404 page not found\n", "first,second"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			order = nil
			rec := httptest.NewRecorder()
			a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := strings.Join(order, ","); got != tt.wantHook {
				t.Errorf("hooks ran %q, want %q", got, tt.wantHook)
			}
		})
	}
}

func TestApp_SetNotFoundHandler(t *testing.T) {
	a := New(Options{})
	a.SetNotFoundHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	a.SetNotFoundHandler(nil)
	rec = httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d after reset, want 404", rec.Code)
	}
}

func TestApp_ListenClose(t *testing.T) {
	a := New(Options{})
	a.Router().Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	addr, err := a.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !strings.HasPrefix(addr, "127.0.0.1:") {
		t.Errorf("addr = %q", addr)
	}
	if _, err := a.Listen(context.Background(), "127.0.0.1:0"); err == nil {
		t.Error("second Listen should fail")
	}

	resp, err := http.Get("http://" + addr + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/ping"); err == nil {
		t.Error("server still accepting after Close")
	}
}

func TestApp_CloseWithoutListen(t *testing.T) {
	if err := New(Options{}).Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestApp_ForceCloseConnections(t *testing.T) {
	for _, force := range []bool{false, true} {
		name := "graceful"
		if force {
			name = "force"
		}
		t.Run(name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})
			defer close(release)

			a := New(Options{ForceCloseConnections: force})
			a.Router().Get("/slow", func(w http.ResponseWriter, r *http.Request) {
				close(started)
				<-release
			})
			addr, err := a.Listen(context.Background(), "127.0.0.1:0")
			if err != nil {
				t.Fatal(err)
			}
			go http.Get("http://" + addr + "/slow")
			<-started

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err = a.Close(ctx)
			if force && err != nil {
				t.Errorf("Close with force = %v, want nil", err)
			}
			if !force && !stderrors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Close = %v, want deadline exceeded", err)
			}
		})
	}
}

func TestFactoryFrom(t *testing.T) {
	srv := New(Options{})
	tests := []struct {
		name    string
		exports module.Exports
		wantErr bool
	}{
		{"factory", module.Exports{CreateAppExport: Factory(func(Options) (Server, error) { return srv, nil })}, false},
		{"plain func", module.Exports{CreateAppExport: func(Options) (Server, error) { return srv, nil }}, false},
		{"no error", module.Exports{CreateAppExport: func(Options) Server { return srv }}, false},
		{"concrete", module.Exports{CreateAppExport: func(Options) *App { return srv }}, false},
		{"missing", module.Exports{}, true},
		{"nil", module.Exports{CreateAppExport: nil}, true},
		{"wrong type", module.Exports{CreateAppExport: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FactoryFrom(tt.exports)
			if tt.wantErr {
				var he *errors.HotrunError
				if !stderrors.As(err, &he) || he.Code != "H103" {
					t.Errorf("err = %v, want H103", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FactoryFrom: %v", err)
			}
			got, err := f(Options{})
			if err != nil || got != Server(srv) {
				t.Errorf("factory returned %v, %v", got, err)
			}
		})
	}
}

func TestFactoryFrom_NilApp(t *testing.T) {
	f, err := FactoryFrom(module.Exports{CreateAppExport: func(Options) *App { return nil }})
	if err != nil {
		t.Fatalf("FactoryFrom: %v", err)
	}
	got, err := f(Options{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got != nil {
		t.Errorf("factory returned %#v, want a nil Server", got)
	}
}

var errBoom = stderrors.New("boom")

func TestDisposeFrom(t *testing.T) {
	var calls []string
	tests := []struct {
		name    string
		exports module.Exports
		want    string
		wantErr error
	}{
		{"missing", module.Exports{}, "", nil},
		{"nil", module.Exports{DisposeExport: nil}, "", nil},
		{"dispose", module.Exports{DisposeExport: Dispose(func(context.Context) error {
			calls = append(calls, "dispose")
			return nil
		})}, "dispose", nil},
		{"context func", module.Exports{DisposeExport: func(context.Context) error {
			calls = append(calls, "context func")
			return nil
		}}, "context func", nil},
		{"error func", module.Exports{DisposeExport: func() error {
			calls = append(calls, "error func")
			return errBoom
		}}, "error func", errBoom},
		{"plain func", module.Exports{DisposeExport: func() {
			calls = append(calls, "plain func")
		}}, "plain func", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			d, err := DisposeFrom(tt.exports)
			if err != nil {
				t.Fatalf("DisposeFrom: %v", err)
			}
			if tt.want == "" {
				if d != nil {
					t.Fatal("want a nil Dispose")
				}
				return
			}
			if err := d(context.Background()); !stderrors.Is(err, tt.wantErr) {
				t.Errorf("dispose = %v, want %v", err, tt.wantErr)
			}
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", calls, tt.want)
			}
		})
	}
}

func TestDisposeFrom_WrongType(t *testing.T) {
	_, err := DisposeFrom(module.Exports{DisposeExport: "stop"})
	var he *errors.HotrunError
	if !stderrors.As(err, &he) || he.Code != "H106" {
		t.Fatalf("DisposeFrom = %v, want H106", err)
	}
	if !strings.Contains(he.Detail, "string") {
		t.Errorf("Detail = %q, want the export type", he.Detail)
	}
}
