package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agent-racer/relaybroker/internal/clock"
)

// ErrNotFound is returned by Load, Resume, and Delete when the session file
// does not exist.
var ErrNotFound = errors.New("session not found")

var invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeSessionID replaces every character outside [A-Za-z0-9_-] with "_".
func SanitizeSessionID(id string) string {
	return invalidIDChars.ReplaceAllString(id, "_")
}

// synthesizeSessionID builds a name for a caller that omitted one, of the
// form "scan_<UTC-iso-without-millis>" with ':' and '.' replaced by '-'.
func synthesizeSessionID(now time.Time) string {
	iso := now.UTC().Format("2006-01-02T15:04:05")
	iso = strings.NewReplacer(":", "-", ".", "-").Replace(iso)
	return "scan_" + iso
}

// SaveAction is the caller-specified save mode.
type SaveAction string

const (
	ActionCreate SaveAction = "create"
	ActionMerge  SaveAction = "merge"
)

// SaveRequest is the payload for Save.
type SaveRequest struct {
	SessionID string
	Action    SaveAction
	RunID     *int
	Data      SessionData
	// RunStatus/RunDuration/FilesScanned describe the run entry to
	// append/update in Runs; derived from Data.Session when present.
	RunStatus    string
	RunDuration  float64
	FilesScanned int
}

// Store is the file-per-session persistence layer. Directory creation is
// idempotent; a per-sessionId mutex serializes concurrent merge-saves on the
// same file without serializing unrelated sessions against each other.
type Store struct {
	dir   string
	clock clock.Clock

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Store rooted at dir (created lazily on first Save).
func New(dir string, c clock.Clock) *Store {
	return &Store{
		dir:   dir,
		clock: c,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save creates or merges a session, returning the broker's save summary.
func (s *Store) Save(req SaveRequest) (*SaveResult, error) {
	id := req.SessionID
	if id == "" {
		id = synthesizeSessionID(s.clock.Now())
	}
	id = SanitizeSessionID(id)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.readLocked(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// Treat a parse failure on merge-read as "no prior session"; the
		// caller still gets a fresh session rather than an opaque 500.
		existing = nil
	}

	now := s.clock.Now()
	if req.Action == ActionMerge && existing != nil {
		return s.mergeSave(existing, req, now, id)
	}
	return s.createSave(req, now, id)
}

func (s *Store) createSave(req SaveRequest, now time.Time, id string) (*SaveResult, error) {
	runID := 1
	if req.RunID != nil {
		runID = *req.RunID
	}

	results := mergeFileRecords(nil, req.Data.Results, runID)
	runs := []Run{{
		RunID:        runID,
		Timestamp:    now,
		FilesScanned: req.FilesScanned,
		Duration:     req.RunDuration,
		Status:       statusString(req.RunStatus),
	}}

	session := &Session{
		SessionID:    id,
		Version:      schemaVersion,
		Created:      now,
		LastModified: now,
		Runs:         runs,
		Data: SessionData{
			Results:       results,
			Session:       req.Data.Session,
			Variables:     req.Data.Variables,
			DeferredPaths: req.Data.DeferredPaths,
		},
	}
	session.Metadata = recomputeMetadata(session.Data.Results, session.Runs)

	size, err := s.writeLocked(id, session)
	if err != nil {
		return nil, err
	}

	return &SaveResult{
		SessionID:  id,
		TotalFiles: session.Metadata.TotalFiles,
		NewFiles:   session.Metadata.TotalFiles,
		RunID:      runID,
		Size:       size,
	}, nil
}

func (s *Store) mergeSave(existing *Session, req SaveRequest, now time.Time, id string) (*SaveResult, error) {
	preCount := len(existing.Data.Results)

	runID := len(existing.Runs) + 1
	if req.RunID != nil {
		runID = *req.RunID
	}

	merged := mergeFileRecords(existing.Data.Results, req.Data.Results, runID)

	runEntry := Run{
		RunID:        runID,
		Timestamp:    now,
		FilesScanned: req.FilesScanned,
		Duration:     req.RunDuration,
		Status:       statusString(req.RunStatus),
	}
	runs := upsertRun(existing.Runs, runEntry)

	existing.Data.Results = merged
	existing.Data.DeferredPaths = appendUnion(existing.Data.DeferredPaths, req.Data.DeferredPaths)
	if req.Data.Session != nil {
		existing.Data.Session = req.Data.Session
	}
	if req.Data.Variables != nil {
		existing.Data.Variables = mergeVariables(existing.Data.Variables, req.Data.Variables)
	}
	existing.Runs = runs
	existing.LastModified = now
	existing.Metadata = recomputeMetadata(existing.Data.Results, existing.Runs)

	size, err := s.writeLocked(id, existing)
	if err != nil {
		return nil, err
	}

	return &SaveResult{
		SessionID:  id,
		TotalFiles: existing.Metadata.TotalFiles,
		NewFiles:   len(existing.Data.Results) - preCount,
		RunID:      runID,
		Size:       size,
	}, nil
}

// upsertRun updates the entry with a matching RunID in place, or appends a
// new one, per §4.6's "if currentRunId already appears in runs[], update
// that entry's ... else append" rule.
func upsertRun(runs []Run, entry Run) []Run {
	for i, r := range runs {
		if r.RunID == entry.RunID {
			runs[i] = entry
			return runs
		}
	}
	return append(runs, entry)
}

// mergeVariables overlays incoming onto existing, last-write-wins per key.
func mergeVariables(existing, incoming map[string]any) map[string]any {
	if existing == nil {
		return incoming
	}
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// List enumerates session files, newest-modified first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("reading session dir: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")

		lock := s.lockFor(id)
		lock.Lock()
		sess, err := s.readLocked(id)
		lock.Unlock()
		if err != nil {
			continue
		}

		info, err := os.Stat(s.path(id))
		if err != nil {
			continue
		}

		status := ""
		if sess.Data.Session != nil {
			if v, ok := sess.Data.Session["status"].(string); ok {
				status = v
			}
		}

		summaries = append(summaries, Summary{
			SessionID:    sess.SessionID,
			Name:         sess.SessionID,
			Status:       status,
			TotalFiles:   sess.Metadata.TotalFiles,
			SuccessCount: sess.Metadata.SuccessCount,
			FailedCount:  sess.Metadata.FailedCount,
			TotalRuns:    sess.Metadata.TotalRuns,
			LastModified: sess.LastModified,
			Size:         info.Size(),
			CanResume:    resumableStatus(status),
			CanBrowse:    true,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastModified.After(summaries[j].LastModified)
	})

	return summaries, nil
}

// Load returns the full session envelope, verbatim.
func (s *Store) Load(id string) (*Session, error) {
	id = SanitizeSessionID(id)
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.readLocked(id)
}

// Resume returns the envelope a Controller needs to continue a session.
func (s *Store) Resume(id string) (*ResumeEnvelope, error) {
	sess, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	return &ResumeEnvelope{
		SessionID:     sess.SessionID,
		Session:       sess.Data.Session,
		Results:       sess.Data.Results,
		Variables:     sess.Data.Variables,
		DeferredPaths: sess.Data.DeferredPaths,
		NextRunID:     len(sess.Runs) + 1,
	}, nil
}

// Delete removes the session file. ErrNotFound if it does not exist.
func (s *Store) Delete(id string) error {
	id = SanitizeSessionID(id)
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// readLocked reads and parses the session file. Callers must hold the
// per-id lock.
func (s *Store) readLocked(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &sess, nil
}

// writeLocked serializes sess as minified JSON and writes it using an atomic
// temp-file-then-rename, so a reader never observes a partially written
// file. Callers must hold the per-id lock.
func (s *Store) writeLocked(id string, sess *Session) (int64, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return 0, fmt.Errorf("marshaling session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(id)); err != nil {
		return 0, fmt.Errorf("renaming session file: %w", err)
	}
	committed = true

	return int64(len(data)), nil
}
