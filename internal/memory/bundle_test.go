package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const fourSentences = "Primera oración bastante larga. Segunda oración bastante larga. " +
	"Tercera oración bastante larga. Cuarta oración bastante larga."

func signedBundle(t *testing.T, b bundle) string {
	t.Helper()
	d, err := b.digest()
	if err != nil {
		t.Fatal(err)
	}
	b.Digest = d
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func shortIDs(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func exportedSystem(t *testing.T) (*System, string) {
	t.Helper()
	s := newTestSystem(t, nil)
	s.Encode(context.Background(), fourSentences, strings.Repeat("ab", 32))
	raw, err := s.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	return s, raw
}

func TestExportImportRoundTrip(t *testing.T) {
	src, raw := exportedSystem(t)

	dst := New(Options{NodeID: "node-b"}, nil, zap.NewNop())
	if err := dst.Import(raw); err != nil {
		t.Fatalf("import: %v", err)
	}

	if got, want := shortIDs(dst.ConceptIDs()), shortIDs(src.ConceptIDs()); got != want {
		t.Errorf("concepts: got %s, want %s", got, want)
	}
	if dst.Statistics() != src.Statistics() {
		t.Errorf("stats: got %+v, want %+v", dst.Statistics(), src.Statistics())
	}
	if dst.SessionID() != src.SessionID() || dst.Clock() != src.Clock() {
		t.Errorf("session/clock not adopted: %s %v", dst.SessionID(), dst.Clock())
	}
	if dst.NodeID() != "node-b" {
		t.Errorf("importer should keep its node id, got %q", dst.NodeID())
	}

	var srcTokens, dstTokens []string
	for _, tr := range src.triggers.Sorted() {
		srcTokens = append(srcTokens, tr.Token)
	}
	for _, tr := range dst.triggers.Sorted() {
		dstTokens = append(dstTokens, tr.Token)
	}
	if strings.Join(srcTokens, "|") != strings.Join(dstTokens, "|") {
		t.Errorf("triggers: got %v, want %v", dstTokens, srcTokens)
	}

	ep := dst.Episodes()[0]
	if ep.ID != src.Episodes()[0].ID || ep.AttributionID != strings.Repeat("ab", 32) {
		t.Errorf("got episode %+v", ep)
	}
}

func TestImportedStateReconstructs(t *testing.T) {
	_, raw := exportedSystem(t)
	dst := New(Options{NodeID: "node-b"}, nil, zap.NewNop())
	if err := dst.Import(raw); err != nil {
		t.Fatalf("import: %v", err)
	}
	rec, ok := dst.Reconstruct(context.Background(), "recuerdo la primera oración bastante extensa")
	if !ok || rec.Unavailable {
		t.Fatalf("got %+v, %v", rec, ok)
	}
	if rec.Provenance != strings.Repeat("ab", 32) {
		t.Errorf("got provenance %q", rec.Provenance)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	s, raw := exportedSystem(t)
	again, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	if raw != again {
		t.Error("two exports of the same state differ")
	}
	info, err := VerifyBundle(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if info.Concepts != 4 || info.Triggers != 5 || info.Episodes != 1 || len(info.Attributions) != 1 {
		t.Errorf("got %+v", info)
	}
	if info.NodeID != "node-test" || info.Version != BundleVersion || len(info.Digest) != 64 {
		t.Errorf("got %+v", info)
	}
}

func TestImportRejectsTamperedBundle(t *testing.T) {
	_, raw := exportedSystem(t)
	at := strings.Index(raw, `"c1|`) + 4
	swap := byte('a')
	if raw[at] == 'a' {
		swap = 'b'
	}
	tampered := raw[:at] + string(swap) + raw[at+1:]

	dst := newTestSystem(t, nil)
	dst.Encode(context.Background(), attributionText, "")
	before := dst.Statistics()
	session := dst.SessionID()

	err := dst.Import(tampered)
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("got %v, want ErrIntegrityViolation", err)
	}
	if dst.Statistics() != before || dst.SessionID() != session {
		t.Error("failed import modified the system")
	}
}

func TestImportRejectsRenamedKeys(t *testing.T) {
	_, raw := exportedSystem(t)

	tests := []struct {
		name     string
		old, new string
	}{
		{"node id case", `"node_id"`, `"Node_id"`},
		{"clock case", `"clock"`, `"Clock"`},
		{"concepts case", `"concepts"`, `"Concepts"`},
		{"duplicate key", `"clock"`, `"Clock": 1, "clock"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := newTestSystem(t, nil)
			before := dst.Statistics()

			err := dst.Import(strings.Replace(raw, tt.old, tt.new, 1))
			if !errors.Is(err, ErrIntegrityViolation) {
				t.Fatalf("got %v, want ErrIntegrityViolation", err)
			}
			if dst.Statistics() != before {
				t.Error("failed import modified the system")
			}
		})
	}
}

func TestImportLogsRejectedSeeds(t *testing.T) {
	raw := signedBundle(t, bundle{
		Version:      BundleVersion,
		NodeID:       "node-x",
		SessionID:    "session-x",
		Concepts:     []string{},
		Triggers:     []string{"t1|broken"},
		Episodes:     []string{},
		Attributions: []string{},
	})

	core, logs := observer.New(zap.WarnLevel)
	dst := newTestSystem(t, nil)
	dst.logger = zap.New(core)

	if err := dst.Import(raw); !errors.Is(err, ErrMalformedSeed) {
		t.Fatalf("got %v, want ErrMalformedSeed", err)
	}
	entries := logs.FilterMessage("rejected memory bundle").All()
	if len(entries) != 1 {
		t.Fatalf("got %d rejection logs, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["from_node"]; got != "node-x" {
		t.Errorf("got from_node %v, want node-x", got)
	}
}

// Seeds keep each concept's three strongest edges, so fanout above three
// is not carried across an export.
func TestRoundTripCapsFanoutAtSeedEdges(t *testing.T) {
	src := newTestSystem(t, nil)
	src.Encode(context.Background(), fiveSentences, "")
	raw, err := src.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	dst := newTestSystem(t, nil)
	if err := dst.Import(raw); err != nil {
		t.Fatalf("import: %v", err)
	}

	want, got := src.Statistics(), dst.Statistics()
	if want.AvgFanout <= 3 {
		t.Fatalf("source fanout %v, want above 3", want.AvgFanout)
	}
	if got.AvgFanout != 3 {
		t.Errorf("imported fanout %v, want 3", got.AvgFanout)
	}
	want.AvgFanout, got.AvgFanout = 0, 0
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestImportRejectsMalformedSeedAtomically(t *testing.T) {
	raw := signedBundle(t, bundle{
		Version:      BundleVersion,
		NodeID:       "node-x",
		SessionID:    "session-x",
		Clock:        5,
		Concepts:     []string{"c1|aaaaaaaa|uno|0.00|", "c1|bbbbbbbb|dos|zero|"},
		Triggers:     []string{},
		Episodes:     []string{},
		Attributions: []string{},
	})

	dst := newTestSystem(t, nil)
	dst.Encode(context.Background(), attributionText, "")
	before := dst.Statistics()

	err := dst.Import(raw)
	if !errors.Is(err, ErrMalformedSeed) {
		t.Fatalf("got %v, want ErrMalformedSeed", err)
	}
	if dst.Statistics() != before || dst.SessionID() == "session-x" || dst.Clock() == 5 {
		t.Error("failed import modified the system")
	}
}

func TestVerifyBundleErrors(t *testing.T) {
	_, raw := exportedSystem(t)
	valid := bundle{Version: "mer/0", Concepts: []string{}, Triggers: []string{}, Episodes: []string{}, Attributions: []string{}}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", "seeds please", ErrIntegrityViolation},
		{"trailing data", raw + "{}", ErrIntegrityViolation},
		{"unknown field", strings.Replace(raw, `"version"`, `"extra": 1, "version"`, 1), ErrIntegrityViolation},
		{"missing digest", `{"version":"mer/1","node_id":"n","session_id":"s","clock":1,"concepts":[],"triggers":[],"episodes":[],"attributions":[]}`, ErrIntegrityViolation},
		{"other version", signedBundle(t, valid), ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyBundle(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
