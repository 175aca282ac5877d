package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/format/event"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
	"github.com/ailijian/AgentlyFormat/internal/formaterr"
	"github.com/ailijian/AgentlyFormat/pkg/agentlyformat"
)

// writeError maps a formaterr.Error's Kind to an HTTP status, grounded
// on the teacher's routes.go pattern of a single error-writing helper
// shared by every handler instead of each handler picking its own
// status code.
func writeError(c *gin.Context, err error) {
	var fe *formaterr.Error
	if !errors.As(err, &fe) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch fe.Kind {
	case formaterr.KindNotFound:
		status = http.StatusNotFound
	case formaterr.KindBadPath, formaterr.KindParseUnrecoverable:
		status = http.StatusBadRequest
	case formaterr.KindSessionClosed:
		status = http.StatusConflict
	case formaterr.KindCapacityExceeded:
		status = http.StatusTooManyRequests
	case formaterr.KindCancelled:
		status = http.StatusRequestTimeout
	case formaterr.KindSubscriberOverflow:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": fe.Message, "kind": string(fe.Kind), "path": fe.Path})
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

// handleCreateSession opens a new session, optionally seeding it from a
// prior crash-recovery snapshot when the caller names an id that has
// one cached.
func handleCreateSession(core *agentlyformat.Core, cache *snapshotCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		sess, err := core.CreateSession(c.Request.Context(), req.SessionID)
		if err != nil {
			writeError(c, err)
			return
		}

		resumed := false
		if cache != nil && req.SessionID != "" {
			if snapshot, ok, loadErr := cache.load(sess.ID()); loadErr == nil && ok && len(snapshot) > 0 {
				if _, ingestErr := core.Ingest(c.Request.Context(), sess.ID(), snapshot, false); ingestErr != nil {
					slog.Warn("snapshot cache: replay failed", "session_id", sess.ID(), "error", ingestErr)
				} else {
					resumed = true
				}
			}
		}

		c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID(), Resumed: resumed})
	}
}

// handleIngestChunk appends the request body as one chunk. ?final=true
// marks the stream done in the same call, matching spec §3's Ingest
// operation taking an explicit "is this the last chunk" flag.
func handleIngestChunk(core *agentlyformat.Core, cache *snapshotCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		chunk, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		isFinal := c.Query("final") == "true"

		report, err := core.Ingest(c.Request.Context(), sessionID, chunk, isFinal)
		if err != nil {
			writeError(c, err)
			return
		}

		if cache != nil {
			snapshotSession(cache, core, sessionID)
		}

		c.JSON(http.StatusOK, gin.H{
			"bytes_appended": report.BytesAppended,
			"bytes_dropped":  report.BytesDropped,
			"committed":      report.Committed,
			"state":          report.State.String(),
			"events_emitted": report.EventsEmitted,
		})
	}
}

// handleFinalize closes out the stream. It does not touch the
// crash-recovery snapshot cache: a snapshot cached for the session stays
// there after finalize.
func handleFinalize(core *agentlyformat.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		result, err := core.Finalize(c.Request.Context(), sessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":                 result.Valid,
			"confidence":            result.Confidence,
			"strategy":              result.Strategy.String(),
			"suggestions_applied":   result.SuggestionsApplied,
			"repaired_text":         result.RepairedText,
			"historical_success_rate": result.HistoricalSuccessRate,
		})
	}
}

// handleCloseSession tears a session down immediately.
func handleCloseSession(core *agentlyformat.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := core.CloseSession(sessionID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleEventsWebSocket upgrades to a WebSocket and relays every
// DeltaEvent on the session's bus as a wire-shaped JSON frame, grounded
// on the teacher's handlers/websocket.go per-connection loop (upgrade,
// spawn a write goroutine draining a channel, unsubscribe on
// disconnect).
func handleEventsWebSocket(core *agentlyformat.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		sess, ok := core.Session(sessionID)
		if !ok {
			writeError(c, formaterr.ErrNotFound.WithPath(sessionID))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
			return
		}
		defer conn.Close()

		outgoing := make(chan event.Wire, 256)
		sub := sess.SubscribeWire(eventbus.Filter{}, func(w event.Wire) {
			select {
			case outgoing <- w:
			default:
				// Drop rather than block the bus dispatch loop; the
				// socket reader below is the slow consumer here, not
				// the bus (spec §4.6 budget applies to the bus side,
				// this is the edge's own backpressure policy).
			}
		})
		defer sub.Unsubscribe()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case w := <-outgoing:
				if err := conn.WriteJSON(w); err != nil {
					return
				}
				if w.Kind == event.KindComplete.String() {
					return
				}
			}
		}
	}
}

// snapshotSession caches the session's current committed tree, best
// effort: a cache write failure never fails the ingest request it rode
// in on.
func snapshotSession(cache *snapshotCache, core *agentlyformat.Core, sessionID string) {
	sess, ok := core.Session(sessionID)
	if !ok {
		return
	}
	data, err := marshalSnapshot(tree.ToGo(sess.Tree()))
	if err != nil {
		slog.Warn("snapshot cache: marshal failed", "session_id", sessionID, "error", err)
		return
	}
	if err := cache.save(sessionID, data); err != nil {
		slog.Warn("snapshot cache: save failed", "session_id", sessionID, "error", err)
	}
}
