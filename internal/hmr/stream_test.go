package hmr

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hotrun-dev/hotrun/internal/watch"
)

func TestEmitter(t *testing.T) {
	e := NewEmitter()
	var got []string
	unsubA := e.Subscribe(func(b []byte) { got = append(got, "a:"+string(b)) })
	e.Subscribe(func(b []byte) { got = append(got, "b:"+string(b)) })

	if !e.Send([]byte("1")) {
		t.Fatal("Send on open emitter returned false")
	}
	unsubA()
	unsubA()
	e.Send([]byte("2"))

	want := []string{"a:1", "b:1", "b:2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if e.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1", e.Subscribers())
	}

	e.Close()
	if e.Send([]byte("3")) {
		t.Error("Send after Close returned true")
	}
	e.Subscribe(func([]byte) { t.Error("subscriber after Close called") })()
	if e.Subscribers() != 0 {
		t.Errorf("Subscribers after Close = %d", e.Subscribers())
	}
}

func TestProducer_Payload(t *testing.T) {
	root := filepath.FromSlash("/project")
	p := NewProducer(root, []string{"src/backend/*.go"}, NewEmitter())
	p.now = func() time.Time { return time.UnixMilli(1700) }

	join := func(s string) string { return filepath.Join(root, filepath.FromSlash(s)) }

	tests := []struct {
		name     string
		changes  []watch.Change
		wantType PayloadType
		wantPath string
	}{
		{"data change", []watch.Change{{Path: join("src/data/a.json"), Type: watch.ChangeData}}, PayloadUpdate, ""},
		{"go.mod", []watch.Change{{Path: join("src/x.json")}, {Path: join("go.mod")}}, PayloadFullReload, join("go.mod")},
		{"config", []watch.Change{{Path: join("hotrun.json")}}, PayloadFullReload, join("hotrun.json")},
		{"glob", []watch.Change{{Path: join("src/backend/app.go"), Type: watch.ChangeSource}}, PayloadFullReload, join("src/backend/app.go")},
		{"nested go.mod", []watch.Change{{Path: join("vendor/x/go.mod")}}, PayloadUpdate, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := p.Payload(tt.changes)
			if !ok {
				t.Fatal("no payload")
			}
			if payload.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", payload.Type, tt.wantType)
			}
			if payload.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", payload.Path, tt.wantPath)
			}
		})
	}

	if _, ok := p.Payload(nil); ok {
		t.Error("empty batch produced a payload")
	}

	payload, _ := p.Payload([]watch.Change{
		{Path: join("src/a.css"), Type: watch.ChangeStyle},
		{Path: join("src/b.yaml"), Type: watch.ChangeData},
	})
	if len(payload.Updates) != 2 {
		t.Fatalf("updates = %+v", payload.Updates)
	}
	if payload.Updates[0].Type != UpdateCSS || payload.Updates[1].Type != UpdateModule {
		t.Errorf("update kinds = %+v", payload.Updates)
	}
	if payload.Updates[0].Timestamp != 1700 {
		t.Errorf("timestamp = %d", payload.Updates[0].Timestamp)
	}
}

func TestProducer_Publish(t *testing.T) {
	e := NewEmitter()
	var got []Payload
	e.Subscribe(func(b []byte) {
		p, err := Decode(b)
		if err != nil {
			t.Errorf("Decode: %v", err)
		}
		got = append(got, p)
	})
	p := NewProducer("/project", nil, e)

	p.Publish(nil)
	p.Publish([]watch.Change{{Path: "/project/src/a.txt"}})
	if len(got) != 1 || got[0].Type != PayloadUpdate {
		t.Errorf("published %+v", got)
	}
}
