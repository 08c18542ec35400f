package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agent-racer/relaybroker/internal/apierr"
	"github.com/agent-racer/relaybroker/internal/relay"
	"github.com/agent-racer/relaybroker/internal/store"
)

// --- function registry -----------------------------------------------------

func (s *Server) handleUploadFunctions(w http.ResponseWriter, r *http.Request) {
	var req uploadFunctionsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	now := s.broker.Clock.Now()
	s.broker.Liveness.Touch(clientIP(r), req.DeviceInfo)
	s.broker.Registry.Upload(req.Functions, req.DeviceInfo, now)
	s.metrics.SetDeviceConnected(true)

	writeJSON(w, http.StatusOK, uploadFunctionsResponse{
		Success:   true,
		Message:   "functions uploaded",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleReadFunctions(w http.ResponseWriter, r *http.Request) {
	snap := s.broker.Registry.Read()

	resp := map[string]any{
		"functions":      snap.Functions,
		"deviceInfo":     snap.DeviceInfo,
		"connectionInfo": snap.ConnectionInfo,
	}
	if snap.LastUploadedAt != nil {
		resp["timestamp"] = snap.LastUploadedAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	now := s.broker.Clock.Now()
	s.broker.Liveness.Touch(clientIP(r), nil)
	s.metrics.SetDeviceConnected(true)

	writeJSON(w, http.StatusOK, keepaliveResponse{
		Success:   true,
		Message:   "ok",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

// --- static asset save-out ---------------------------------------------------

func (s *Server) handleSaveToPublic(w http.ResponseWriter, r *http.Request) {
	var req saveToPublicRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := os.MkdirAll(s.publicDir, 0o755); err != nil {
		apierr.Write(w, apierr.Internal("PUBLIC_DIR_UNAVAILABLE", err.Error()))
		return
	}

	saved := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		name := filepath.Base(f.Filename)
		dest := filepath.Join(s.publicDir, name)
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			apierr.Write(w, apierr.Internal("PUBLIC_WRITE_FAILED", err.Error()))
			return
		}
		saved = append(saved, name)
	}

	writeJSON(w, http.StatusOK, saveToPublicResponse{
		Success:  true,
		Saved:    saved,
		Location: s.publicDir,
		Message:  "saved",
	})
}

// --- command relay -----------------------------------------------------------

func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req enqueueCommandRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	id, err := s.broker.Relay.Enqueue(req.ID, req.Function, req.Parameters, req.SourceCode, req.ExecutionMode)
	if err != nil {
		switch err {
		case relay.ErrDeviceUnavailable:
			s.metrics.SetDeviceConnected(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "TV_NOT_CONNECTED"}) // flat sentinel shape, not the structured apierr envelope
		case relay.ErrDuplicateCommandID:
			apierr.Write(w, apierr.ClientInput("DUPLICATE_COMMAND_ID", "commandId already has a live record"))
		default:
			apierr.Write(w, apierr.Internal("ENQUEUE_FAILED", err.Error()))
		}
		return
	}

	s.metrics.ObserveEnqueue(req.Function)
	writeJSON(w, http.StatusOK, enqueueCommandResponse{Success: true, CommandID: id})
}

func toWireCommand(cmd *relay.Command) *relayCommand {
	if cmd == nil {
		return nil
	}
	return &relayCommand{
		ID:            cmd.ID,
		Function:      cmd.Function,
		Parameters:    cmd.Parameters,
		SourceCode:    cmd.SourceCode,
		ExecutionMode: cmd.ExecutionMode,
		Timestamp:     cmd.Timestamp,
	}
}

func (s *Server) handleDispatchSingle(w http.ResponseWriter, r *http.Request) {
	s.broker.Liveness.Touch(clientIP(r), nil)
	s.metrics.SetDeviceConnected(true)

	cmd, ok := s.broker.Relay.DispatchSingle()
	if !ok {
		writeJSON(w, http.StatusOK, dispatchSingleResponse{HasCommand: false})
		return
	}

	s.metrics.ObserveDispatch("single", 1)
	s.metrics.SetQueueDepth(s.broker.Relay.QueueDepth())
	writeJSON(w, http.StatusOK, dispatchSingleResponse{HasCommand: true, Command: toWireCommand(cmd)})
}

func (s *Server) handleDispatchBatch(w http.ResponseWriter, r *http.Request) {
	s.broker.Liveness.Touch(clientIP(r), nil)
	s.metrics.SetDeviceConnected(true)

	batchSize := 0
	if v := r.URL.Query().Get("batchSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			batchSize = n
		}
	}

	cmds, remaining := s.broker.Relay.DispatchBatch(batchSize)

	wire := make([]*relayCommand, 0, len(cmds))
	for _, cmd := range cmds {
		wire = append(wire, toWireCommand(cmd))
	}

	s.metrics.ObserveDispatch("batch", len(cmds))
	s.metrics.SetQueueDepth(remaining)
	writeJSON(w, http.StatusOK, dispatchBatchResponse{
		HasCommands:      len(wire) > 0,
		Commands:         wire,
		RemainingInQueue: remaining,
	})
}

func (s *Server) handlePostResult(w http.ResponseWriter, r *http.Request) {
	var req postResultRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	// Post-before-log: the slot write inside PostResult happens before any
	// metrics/telemetry call below, so a concurrent drain always observes it.
	report := s.broker.Relay.PostResult(relay.CommandResult{
		CommandID:      req.CommandID,
		Success:        req.Success,
		Data:           req.Data,
		Error:          req.Error,
		TVProcessingMs: req.TVProcessingMs,
	})
	s.broker.Liveness.Touch(clientIP(r), nil)
	s.metrics.SetDeviceConnected(true)

	s.metrics.ObserveCompleted(req.Success)
	if report != nil {
		s.metrics.ObserveQueueWaitMs(report.QueueWaitMs)
		s.metrics.ObserveRoundTripMs(report.RoundTripMs)
	}

	writeJSON(w, http.StatusOK, postResultResponse{Success: true})
}

func (s *Server) handleDrainResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome := s.broker.Relay.DrainResult(id)
	if outcome.Waiting {
		s.metrics.ObserveDrain("waiting")
		writeJSON(w, http.StatusOK, drainResultResponse{Waiting: true})
		return
	}

	result := outcome.Result
	if !result.Success && result.Error == "TV_DISCONNECTED" {
		s.metrics.ObserveDrain("disconnected")
		s.metrics.SetDeviceConnected(false)
		writeJSON(w, http.StatusOK, drainResultResponse{
			Success: false,
			Error:   "TV_DISCONNECTED",
		})
		return
	}

	s.metrics.ObserveDrain("delivered")
	writeJSON(w, http.StatusOK, drainResultResponse{
		CommandID:      result.CommandID,
		Success:        result.Success,
		Data:           result.Data,
		Error:          result.Error,
		TVProcessingMs: result.TVProcessingMs,
	})
}

// --- scan session store -------------------------------------------------------

// toFloat narrows a JSON-decoded numeric value (always float64 per
// encoding/json, but defensive against hand-built map[string]any callers).
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// parseSessionTime accepts either an RFC3339 string or an epoch-millis
// number for session.startTime/session.endTime.
func parseSessionTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}

// deriveRunFields reads the run entry's status/duration/filesScanned out of
// the caller-reported session state, per §4.6: duration comes from
// session.startTime/endTime when both are present, else 0; filesScanned
// falls back to the result-batch size when the session doesn't report one.
func deriveRunFields(session map[string]any, fallbackFiles int) (status string, durationMs float64, filesScanned int) {
	filesScanned = fallbackFiles
	if session == nil {
		return
	}
	if v, ok := session["status"].(string); ok {
		status = v
	}
	if v, ok := session["filesScanned"]; ok {
		if n, ok := toFloat(v); ok {
			filesScanned = int(n)
		}
	}
	startRaw, hasStart := session["startTime"]
	endRaw, hasEnd := session["endTime"]
	if hasStart && hasEnd {
		start, ok1 := parseSessionTime(startRaw)
		end, ok2 := parseSessionTime(endRaw)
		if ok1 && ok2 {
			durationMs = end.Sub(start).Seconds() * 1000
		}
	}
	return
}

func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	var req sessionSaveRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	status, duration, filesScanned := deriveRunFields(req.Data.Session, len(req.Data.Results))

	res, err := s.broker.Sessions.Save(store.SaveRequest{
		SessionID: req.SessionID,
		Action:    store.SaveAction(req.Action),
		RunID:     req.RunID,
		Data: store.SessionData{
			Results:       req.Data.Results,
			Session:       req.Data.Session,
			Variables:     req.Data.Variables,
			DeferredPaths: req.Data.DeferredPaths,
		},
		RunStatus:    status,
		RunDuration:  duration,
		FilesScanned: filesScanned,
	})
	if err != nil {
		apierr.Write(w, apierr.Internal("SESSION_SAVE_FAILED", err.Error()))
		return
	}

	s.metrics.ObserveSessionSave(req.Action)
	s.metrics.SetSessionFiles(res.TotalFiles)
	writeJSON(w, http.StatusOK, sessionSaveResponse{
		Success:    true,
		SessionID:  res.SessionID,
		TotalFiles: res.TotalFiles,
		NewFiles:   res.NewFiles,
		RunID:      res.RunID,
		Size:       res.Size,
	})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.broker.Sessions.List()
	if err != nil {
		apierr.Write(w, apierr.Internal("SESSION_LIST_FAILED", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSessionLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.broker.Sessions.Load(id)
	if err != nil {
		if err == store.ErrNotFound {
			apierr.Write(w, apierr.NotFound("SESSION_NOT_FOUND", "no session with that id"))
			return
		}
		apierr.Write(w, apierr.Internal("SESSION_LOAD_FAILED", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, sessionLoadResponse{
		SessionID: sess.SessionID,
		Metadata:  sess.Metadata,
		Data:      sess.Data,
	})
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	env, err := s.broker.Sessions.Resume(id)
	if err != nil {
		if err == store.ErrNotFound {
			apierr.Write(w, apierr.NotFound("SESSION_NOT_FOUND", "no session with that id"))
			return
		}
		apierr.Write(w, apierr.Internal("SESSION_RESUME_FAILED", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.broker.Sessions.Delete(id); err != nil {
		if err == store.ErrNotFound {
			apierr.Write(w, apierr.NotFound("SESSION_NOT_FOUND", "no session with that id"))
			return
		}
		apierr.Write(w, apierr.Internal("SESSION_DELETE_FAILED", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
