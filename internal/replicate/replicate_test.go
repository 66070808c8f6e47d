package replicate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/memory"
	"github.com/nidhogg/mer/internal/seedbus"
	"github.com/nidhogg/mer/internal/seedstore"
)

const text = "El protocolo de atribución vincula cada aporte humano. " +
	"La arquitectura distribuida garantiza soberanía del nodo."

func newSystem(t *testing.T) *memory.System {
	t.Helper()
	s := memory.New(memory.Options{NodeID: "node-r"}, nil, zap.NewNop())
	s.Encode(context.Background(), text, "")
	return s
}

type fakeArchive struct {
	mu   sync.Mutex
	recs []seedstore.Record
}

func (f *fakeArchive) Save(_ context.Context, rec seedstore.Record) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return true, nil
}

type fakeBus struct{ msgs []*seedbus.Message }

func (f *fakeBus) Publish(_ context.Context, msg *seedbus.Message) (string, error) {
	f.msgs = append(f.msgs, msg)
	return "1-0", nil
}

type fakeGraph struct{ err error }

func (f *fakeGraph) Sync(context.Context, string, []memory.ConceptNode) error { return f.err }

type fakeIndex struct {
	collection string
	concepts   int
}

func (f *fakeIndex) IndexConcepts(_ context.Context, collection, _ string, concepts []memory.ConceptNode) (int, error) {
	f.collection = collection
	f.concepts = len(concepts)
	return 0, nil
}

func TestRunNoSinks(t *testing.T) {
	r := New(nil, 0, zap.NewNop())
	if _, err := r.Run(context.Background(), &sync.Mutex{}, newSystem(t)); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("got %v, want ErrNoSinks", err)
	}
}

func TestRunFansOut(t *testing.T) {
	archive := &fakeArchive{}
	bus := &fakeBus{}
	index := &fakeIndex{}
	r := New([]Sink{
		ArchiveSink(archive),
		BusSink(bus),
		GraphSink(&fakeGraph{err: errors.New("neo4j down")}),
		VectorSink(index, "mer_concepts"),
	}, time.Second, zap.NewNop())

	sys := newSystem(t)
	report, err := r.Run(context.Background(), &sync.Mutex{}, sys)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Failed() != 1 {
		t.Fatalf("got %d failures, want 1: %+v", report.Failed(), report.Results)
	}
	wantNames := []string{"postgres", "redis", "neo4j", "qdrant"}
	for i, res := range report.Results {
		if res.Sink != wantNames[i] {
			t.Errorf("result %d: got sink %q, want %q", i, res.Sink, wantNames[i])
		}
	}
	if report.Results[2].OK || report.Results[2].Error != "neo4j down" {
		t.Errorf("got graph result %+v", report.Results[2])
	}

	if len(archive.recs) != 1 || archive.recs[0].Digest != report.Digest || archive.recs[0].Concepts != 2 {
		t.Errorf("got archive %+v", archive.recs)
	}
	if len(bus.msgs) != 1 || bus.msgs[0].NodeID != "node-r" {
		t.Errorf("got bus %+v", bus.msgs)
	}
	if index.collection != "mer_concepts" || index.concepts != 2 {
		t.Errorf("got index %+v", index)
	}
	if _, err := memory.VerifyBundle(archive.recs[0].Bundle); err != nil {
		t.Errorf("archived bundle should verify: %v", err)
	}
}

func TestCaptureMatchesSystem(t *testing.T) {
	sys := newSystem(t)
	p, err := Capture(sys)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if p.NodeID != "node-r" || p.SessionID != sys.SessionID() {
		t.Errorf("got %+v", p)
	}
	if p.Info.Concepts != len(p.Concepts) || p.Info.Episodes != 1 {
		t.Errorf("got info %+v with %d concepts", p.Info, len(p.Concepts))
	}
}

type failingSource struct{}

func (failingSource) Export() (string, error)    { return "", errors.New("boom") }
func (failingSource) Snapshot() memory.Snapshot { return memory.Snapshot{} }

func TestRunCaptureError(t *testing.T) {
	r := New([]Sink{GraphSink(&fakeGraph{})}, 0, nil)
	if _, err := r.Run(context.Background(), &sync.Mutex{}, failingSource{}); err == nil {
		t.Fatal("expected capture error")
	}
}

func TestLoopSkipsUnchangedState(t *testing.T) {
	archive := &fakeArchive{}
	r := New([]Sink{ArchiveSink(archive)}, time.Second, zap.NewNop())
	sys := newSystem(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r.Loop(ctx, 20*time.Millisecond, &sync.Mutex{}, sys)

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.recs) != 1 {
		t.Errorf("got %d pushes of an unchanged state, want 1", len(archive.recs))
	}
}

func TestFollowImportsPeerBundles(t *testing.T) {
	peer := newSystem(t)
	raw, err := peer.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	info, err := memory.VerifyBundle(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	feed := make(chan *seedbus.Message, 4)
	feed <- &seedbus.Message{NodeID: "node-r", Digest: info.Digest, Bundle: raw}
	feed <- &seedbus.Message{NodeID: "node-r", Digest: info.Digest, Bundle: raw}
	feed <- &seedbus.Message{NodeID: "node-r", Digest: "forged", Bundle: `{"version":"mer/1"}`}
	close(feed)

	dst := memory.New(memory.Options{NodeID: "node-f"}, nil, zap.NewNop())
	n := Follow(context.Background(), feed, &sync.Mutex{}, dst, zap.NewNop())
	if n != 1 {
		t.Fatalf("got %d imports, want 1", n)
	}
	if dst.Statistics() != peer.Statistics() || dst.SessionID() != peer.SessionID() {
		t.Errorf("got %+v, want %+v", dst.Statistics(), peer.Statistics())
	}
	if dst.NodeID() != "node-f" {
		t.Errorf("follower changed node id to %q", dst.NodeID())
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := memory.New(memory.Options{NodeID: "node-f"}, nil, zap.NewNop())
	if n := Follow(ctx, make(chan *seedbus.Message), &sync.Mutex{}, dst, nil); n != 0 {
		t.Errorf("got %d imports, want 0", n)
	}
}
