// Package telemetry records every LLM attempt to an append-only event log
// and keeps rolling aggregate counters next to it.
//
// The event log is appended before the counters snapshot is rewritten. A
// crash between the two leaves an event that is not yet counted; events
// are never lost for the sake of counter consistency.
package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	eventsFile   = "llm_calls.jsonl"
	countersFile = "llm_counters.json"

	// snapshotVersion is the on-disk counters layout version.
	snapshotVersion = 2

	unknownCategory = "unknown"
)

// Outcome values of an Event.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Event is one recorded attempt. Fields are declared in key order so the
// JSON log line has sorted keys.
type Event struct {
	Attempt      int      `json:"attempt"`
	Category     string   `json:"category"`
	CostUSD      *float64 `json:"cost_usd"`
	DurationMS   int64    `json:"duration_ms"`
	ErrorMessage *string  `json:"error_message"`
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Month        string   `json:"month"`
	Operation    string   `json:"operation"`
	Outcome      string   `json:"outcome"`
	Provider     string   `json:"provider"`
	RequestID    string   `json:"request_id,omitempty"`
	Task         string   `json:"task"`
	TS           string   `json:"ts"`
}

// Bucket is one aggregation cell. Attempts always equals Success + Error.
type Bucket struct {
	Attempts int     `json:"attempts"`
	Success  int     `json:"success"`
	Error    int     `json:"error"`
	CostUSD  float64 `json:"cost_usd"`
}

// Period aggregates attempts over one scope (all time or one month).
type Period struct {
	Totals       Bucket                        `json:"totals"`
	Providers    map[string]*Bucket            `json:"providers"`
	Models       map[string]*Bucket            `json:"models"`
	Tasks        map[string]*Bucket            `json:"tasks"`
	Categories   map[string]*Bucket            `json:"categories"`
	ProviderTask map[string]map[string]*Bucket `json:"provider_task"`
}

// Meta describes the counters file itself.
type Meta struct {
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Snapshot is the persisted aggregate: an all-time Period plus one Period
// per calendar month (YYYY-MM, UTC).
type Snapshot struct {
	Period
	Meta    Meta               `json:"meta"`
	Monthly map[string]*Period `json:"monthly"`
}

// Store is the telemetry sink. A single mutex serialises the
// append-read-aggregate-write-rename sequence.
type Store struct {
	enabled      bool
	dir          string
	eventsPath   string
	countersPath string
	now          func() time.Time

	mu sync.Mutex
}

// New creates a Store rooted at dir. A disabled store is a no-op and
// touches nothing on disk.
func New(enabled bool, dir string) (*Store, error) {
	s := &Store{
		enabled:      enabled,
		dir:          dir,
		eventsPath:   filepath.Join(dir, eventsFile),
		countersPath: filepath.Join(dir, countersFile),
		now:          func() time.Time { return time.Now().UTC() },
	}
	if !enabled {
		return s, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFiles(); err != nil {
		return nil, err
	}
	return s, nil
}

// Enabled reports whether the store records anything.
func (s *Store) Enabled() bool { return s.enabled }

// Dir returns the directory holding the telemetry files.
func (s *Store) Dir() string { return s.dir }

// MeasureAndRecord fills DurationMS from start and records ev.
func (s *Store) MeasureAndRecord(start time.Time, ev Event) error {
	ev.DurationMS = time.Since(start).Milliseconds()
	return s.Record(ev)
}

// Record appends ev to the event log and folds it into the counters.
// TS, Month and ID are filled in when empty.
func (s *Store) Record(ev Event) error {
	if !s.enabled {
		return nil
	}

	now := s.now()
	if ev.TS == "" {
		ev.TS = now.Format(time.RFC3339Nano)
	}
	if ev.Month == "" {
		ev.Month = now.Format("2006-01")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Outcome != OutcomeSuccess {
		ev.Outcome = OutcomeError
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFiles(); err != nil {
		return err
	}
	if err := appendLine(s.eventsPath, line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	snap := s.readCounters()
	snap.Period.bump(ev)
	if snap.Monthly == nil {
		snap.Monthly = make(map[string]*Period)
	}
	month, ok := snap.Monthly[ev.Month]
	if !ok || month == nil {
		month = newPeriod()
		snap.Monthly[ev.Month] = month
	}
	month.bump(ev)

	if snap.Meta.CreatedAt == "" {
		snap.Meta.CreatedAt = ev.TS
	}
	snap.Meta.UpdatedAt = ev.TS
	snap.Meta.Version = max(snapshotVersion, snap.Meta.Version)

	return s.writeCounters(snap)
}

// Snapshot returns the current counters. A missing or corrupt file yields
// an empty snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCounters()
}

// Events returns up to limit of the most recent events, oldest first.
// A limit <= 0 returns every event. Malformed lines are skipped.
func (s *Store) Events(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.eventsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (s *Store) ensureFiles() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create telemetry dir: %w", err)
	}
	f, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	f.Close()
	if _, err := os.Stat(s.countersPath); errors.Is(err, fs.ErrNotExist) {
		return s.writeCounters(s.emptySnapshot())
	}
	return nil
}

func (s *Store) readCounters() *Snapshot {
	data, err := os.ReadFile(s.countersPath)
	if err != nil {
		return s.emptySnapshot()
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return s.emptySnapshot()
	}
	snap.Period.ensureMaps()
	for _, p := range snap.Monthly {
		if p != nil {
			p.ensureMaps()
		}
	}
	return snap
}

// writeCounters writes to a temp file and renames it over the snapshot,
// so a crash mid-write leaves the previous snapshot intact.
func (s *Store) writeCounters(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tmp := s.countersPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	if err := os.Rename(tmp, s.countersPath); err != nil {
		return fmt.Errorf("replace counters: %w", err)
	}
	return nil
}

func (s *Store) emptySnapshot() *Snapshot {
	ts := s.now().Format(time.RFC3339Nano)
	return &Snapshot{
		Period:  *newPeriod(),
		Meta:    Meta{Version: snapshotVersion, CreatedAt: ts, UpdatedAt: ts},
		Monthly: make(map[string]*Period),
	}
}

func newPeriod() *Period {
	p := &Period{}
	p.ensureMaps()
	return p
}

func (p *Period) ensureMaps() {
	if p.Providers == nil {
		p.Providers = make(map[string]*Bucket)
	}
	if p.Models == nil {
		p.Models = make(map[string]*Bucket)
	}
	if p.Tasks == nil {
		p.Tasks = make(map[string]*Bucket)
	}
	if p.Categories == nil {
		p.Categories = make(map[string]*Bucket)
	}
	if p.ProviderTask == nil {
		p.ProviderTask = make(map[string]map[string]*Bucket)
	}
}

func (p *Period) bump(ev Event) {
	category := ev.Category
	if category == "" {
		category = unknownCategory
	}
	p.Totals.add(ev)
	bucketOf(p.Providers, ev.Provider).add(ev)
	bucketOf(p.Models, ev.Model).add(ev)
	bucketOf(p.Tasks, ev.Task).add(ev)
	bucketOf(p.Categories, category).add(ev)
	byProvider, ok := p.ProviderTask[ev.Provider]
	if !ok || byProvider == nil {
		byProvider = make(map[string]*Bucket)
		p.ProviderTask[ev.Provider] = byProvider
	}
	bucketOf(byProvider, ev.Task).add(ev)
}

func bucketOf(m map[string]*Bucket, key string) *Bucket {
	b, ok := m[key]
	if !ok || b == nil {
		b = &Bucket{}
		m[key] = b
	}
	return b
}

func (b *Bucket) add(ev Event) {
	b.Attempts++
	if ev.Outcome == OutcomeSuccess {
		b.Success++
	} else {
		b.Error++
	}
	if ev.CostUSD != nil {
		b.CostUSD = roundCost(b.CostUSD + *ev.CostUSD)
	}
}

func roundCost(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
