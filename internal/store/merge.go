package store

import "time"

// mergeFileRecords merges an incoming batch of FileRecords into the
// existing path-keyed slice, applying the session store's merge invariants:
// path-keyed union, sticky success, appended extracted/generated/ignored/
// variable/debug lists, latched discovery metadata, and binary-content
// stripping. runID drives the per-record scanHistory append-or-update rule.
func mergeFileRecords(existing []FileRecord, incoming []FileRecord, runID int) []FileRecord {
	index := make(map[string]int, len(existing))
	merged := make([]FileRecord, len(existing))
	copy(merged, existing)
	for i, rec := range merged {
		index[rec.Path] = i
	}

	for _, in := range incoming {
		if i, ok := index[in.Path]; ok {
			merged[i] = mergeOneFileRecord(merged[i], in, runID)
			continue
		}
		fresh := mergeOneFileRecord(FileRecord{Path: in.Path}, in, runID)
		index[in.Path] = len(merged)
		merged = append(merged, fresh)
	}

	return merged
}

// mergeOneFileRecord applies the §3 merge invariants to a single path.
func mergeOneFileRecord(prior, incoming FileRecord, runID int) FileRecord {
	out := prior

	out.Size = incoming.Size
	out.Timestamp = incoming.Timestamp

	if incoming.Status == "success" || out.Status == "" {
		out.Status = incoming.Status
	}
	// else: retain prior status (success is sticky unless this update is
	// itself success).

	isBinary := prior.IsBinary || incoming.IsBinary
	out.IsBinary = isBinary
	if isBinary {
		out.Content = nil
	} else if incoming.Content != nil {
		out.Content = incoming.Content
	}

	out.ExtractedPaths = appendUnion(prior.ExtractedPaths, incoming.ExtractedPaths)
	out.GeneratedPaths = appendUnion(prior.GeneratedPaths, incoming.GeneratedPaths)
	out.IgnoredPaths = appendUnion(prior.IgnoredPaths, incoming.IgnoredPaths)
	out.VariableReferences = appendUnion(prior.VariableReferences, incoming.VariableReferences)
	out.DebugLog = append(append([]string{}, prior.DebugLog...), incoming.DebugLog...)

	if prior.DiscoveryMethod == "" {
		out.DiscoveryMethod = incoming.DiscoveryMethod
	}
	if prior.DiscoveredFrom == "" {
		out.DiscoveredFrom = incoming.DiscoveredFrom
	}
	if !prior.IsPlaceholder {
		out.IsPlaceholder = incoming.IsPlaceholder
	}

	out.ScanHistory = appendScanHistory(prior.ScanHistory, runID, out.Status, incoming.Timestamp)

	return out
}

// appendScanHistory appends exactly one entry when runID differs from the
// last entry's runId; within the same run, updates the last entry in place
// if the status changed.
func appendScanHistory(history []ScanHistoryEntry, runID int, status string, timestamp time.Time) []ScanHistoryEntry {
	if len(history) == 0 {
		return append(history, ScanHistoryEntry{RunID: runID, Status: status, Timestamp: timestamp})
	}

	last := history[len(history)-1]
	if last.RunID != runID {
		return append(history, ScanHistoryEntry{RunID: runID, Status: status, Timestamp: timestamp})
	}

	if last.Status != status {
		history[len(history)-1] = ScanHistoryEntry{RunID: runID, Status: status, Timestamp: timestamp}
	}
	return history
}

// appendUnion concatenates b onto a, deduplicating against anything already
// present in a (first-seen order preserved; union semantics per §3).
func appendUnion(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	out := append([]string{}, a...)
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// recomputeMetadata derives the aggregate Metadata from a session's merged
// results and run list, fully recomputed post-merge (never incrementally
// patched, per §4.6).
func recomputeMetadata(results []FileRecord, runs []Run) Metadata {
	m := Metadata{TotalRuns: len(runs)}
	for _, rec := range results {
		m.TotalFiles++
		switch rec.Status {
		case "success":
			m.SuccessCount++
		case "failed":
			m.FailedCount++
		}
		if rec.IsBinary {
			m.BinaryCount++
		} else {
			m.TextCount++
		}
	}
	return m
}
