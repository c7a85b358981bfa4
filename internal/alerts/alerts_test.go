package alerts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkendrick/crosswind/internal/correlate"
	"github.com/mkendrick/crosswind/internal/domain"
)

func alert(pairID string, current float64) domain.CorrelationAlert {
	return domain.CorrelationAlert{
		VariablePairID: pairID,
		Previous:       0.5,
		Current:        current,
		Delta:          current - 0.5,
		SampleSize:     40,
		ObservedAt:     time.Now().UTC(),
	}
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}

	sink.Publish(alert("a|b", 0.9))
	sink.Publish(alert("c|d", 0.1))
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var lines []domain.CorrelationAlert
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a domain.CorrelationAlert
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, a)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].VariablePairID != "a|b" || lines[1].VariablePairID != "c|d" {
		t.Errorf("lines out of order: %v", lines)
	}
}

func TestRingSinkNewestFirst(t *testing.T) {
	sink := NewRingSink(3)

	for _, id := range []string{"1", "2", "3", "4"} {
		sink.Publish(alert(id, 0.8))
	}

	// Capacity 3: "1" was overwritten, newest comes first.
	recent := sink.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("got %d alerts, want 3", len(recent))
	}
	for i, want := range []string{"4", "3", "2"} {
		if recent[i].VariablePairID != want {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].VariablePairID, want)
		}
	}

	if got := sink.Recent(1); len(got) != 1 || got[0].VariablePairID != "4" {
		t.Errorf("Recent(1) = %v", got)
	}
}

func TestRingSinkDefaultSize(t *testing.T) {
	sink := NewRingSink(0)
	sink.Publish(alert("x|y", 0.7))
	if len(sink.Recent(5)) != 1 {
		t.Error("default-size ring dropped an alert")
	}
}

func TestFanDuplicates(t *testing.T) {
	a := NewRingSink(4)
	b := NewRingSink(4)

	Fan{a, b}.Publish(alert("p|q", 0.9))

	if len(a.Recent(1)) != 1 || len(b.Recent(1)) != 1 {
		t.Error("fan did not reach every sink")
	}
}

// The monitor publishes through correlate.AlertSink; a Fan mixing file,
// ring and function sinks must slot in directly.
func TestFanServesAsMonitorSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	jl, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	ring := NewRingSink(4)
	var called int

	var sink correlate.AlertSink = Fan{
		jl,
		ring,
		correlate.AlertFunc(func(domain.CorrelationAlert) { called++ }),
	}
	sink.Publish(alert("p|q", 0.9))
	if err := jl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if called != 1 {
		t.Errorf("function sink called %d times, want 1", called)
	}
	if got := ring.Recent(1); len(got) != 1 || got[0].VariablePairID != "p|q" {
		t.Errorf("ring sink missed the alert: %v", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Error("file sink missed the alert")
	}
}
