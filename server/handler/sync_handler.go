package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/listsync/listsync/internal/wire"
	"github.com/listsync/listsync/server/cache"
	"github.com/listsync/listsync/server/store"
)

const pullLimit = 500

// SyncHandler implements the four endpoints spec.md §4.9/§6 describe:
// bootstrap, push, pull, reset. It never decodes an envelope's payload —
// only the dedupe tuple and generation bookkeeping ever get read.
type SyncHandler struct {
	ops   *store.OperationRepository
	gens  *store.GenerationRepository
	cache *cache.SyncCacheService
	blobs *store.SnapshotBlobStore
	nats  *nats.Conn
}

func NewSyncHandler(
	ops *store.OperationRepository,
	gens *store.GenerationRepository,
	cacheSvc *cache.SyncCacheService,
	blobs *store.SnapshotBlobStore,
	natsConn *nats.Conn,
) *SyncHandler {
	return &SyncHandler{ops: ops, gens: gens, cache: cacheSvc, blobs: blobs, nats: natsConn}
}

func userID(c *app.RequestContext) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// activeGeneration fetches the user's dataset generation, creating a
// fresh one (no snapshot, server_seq 0) the first time a user is ever
// seen — there is nothing to reset from on a brand new dataset. The
// common case (matching generation, polling for new ops) is served out
// of Redis so a tight poll loop doesn't hit Postgres on every request.
func (h *SyncHandler) activeGeneration(ctx context.Context, uid string) (*store.DatasetGeneration, error) {
	if cached, ok := h.cache.GetGeneration(ctx, uid); ok {
		return &store.DatasetGeneration{
			UserID:          cached.UserID,
			GenerationKey:   cached.DatasetGenerationKey,
			ServerSeq:       cached.ServerSeq,
			SnapshotBlobRef: cached.SnapshotBlobRef,
		}, nil
	}

	gen, err := h.gens.GetActive(ctx, uid)
	if errors.Is(err, store.ErrGenerationNotFound) {
		gen, err = h.gens.StartGeneration(ctx, uid, uuid.New().String(), nil)
	}
	if err != nil {
		return nil, err
	}

	if cacheErr := h.cache.SetGeneration(ctx, cache.Generation{
		UserID:               gen.UserID,
		DatasetGenerationKey: gen.GenerationKey,
		ServerSeq:            gen.ServerSeq,
		SnapshotBlobRef:      gen.SnapshotBlobRef,
	}); cacheErr != nil {
		hlog.CtxErrorf(ctx, "activeGeneration: cache generation: %v", cacheErr)
	}
	return gen, nil
}

// Bootstrap handles GET /sync/bootstrap.
func (h *SyncHandler) Bootstrap(ctx context.Context, c *app.RequestContext) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "not authenticated"})
		return
	}
	clientID := c.Query("clientId")
	requestedKey := c.Query("datasetGenerationKey")

	gen, err := h.activeGeneration(ctx, uid)
	if err != nil {
		hlog.CtxErrorf(ctx, "bootstrap: load generation: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	if requestedKey == "" || requestedKey != gen.GenerationKey {
		var blob json.RawMessage
		if gen.SnapshotBlobRef != nil {
			blob, err = h.blobs.Get(ctx, *gen.SnapshotBlobRef)
			if err != nil {
				hlog.CtxErrorf(ctx, "bootstrap: load snapshot blob: %v", err)
				c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, wire.BootstrapResponse{
			DatasetGenerationKey: gen.GenerationKey,
			ServerSeq:            gen.ServerSeq,
			SnapshotBlob:         blob,
		})
		return
	}

	since, err := h.ops.GetClientCursor(ctx, uid, clientID)
	if err != nil {
		hlog.CtxErrorf(ctx, "bootstrap: load client cursor: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	rows, err := h.ops.GetSince(ctx, uid, since, pullLimit)
	if err != nil {
		hlog.CtxErrorf(ctx, "bootstrap: load operations: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, wire.BootstrapResponse{
		DatasetGenerationKey: gen.GenerationKey,
		ServerSeq:            gen.ServerSeq,
		Ops:                  toEnvelopes(rows),
	})
}

// Push handles POST /sync/push.
func (h *SyncHandler) Push(ctx context.Context, c *app.RequestContext) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "not authenticated"})
		return
	}

	var req wire.PushRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	gen, err := h.activeGeneration(ctx, uid)
	if err != nil {
		hlog.CtxErrorf(ctx, "push: load generation: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	if req.DatasetGenerationKey != gen.GenerationKey {
		c.JSON(http.StatusOK, wire.PushResponse{ServerSeq: gen.ServerSeq, DatasetGenerationKey: gen.GenerationKey})
		return
	}

	newCount := 0
	for _, envelope := range req.Ops {
		seq, err := h.gens.BumpServerSeq(ctx, uid, 1)
		if err != nil {
			hlog.CtxErrorf(ctx, "push: bump server seq: %v", err)
			c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		op := &store.SyncOperation{
			UserID:     uid,
			Scope:      envelope.Scope,
			ResourceID: envelope.ResourceID,
			Actor:      envelope.Actor,
			Clock:      envelope.Clock,
			Payload:    envelope.Payload,
			ServerSeq:  seq,
		}
		if err := h.ops.Create(ctx, op); err != nil {
			if errors.Is(err, store.ErrDuplicateOperation) {
				continue
			}
			hlog.CtxErrorf(ctx, "push: create operation: %v", err)
			c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		newCount++
	}

	gen, err = h.gens.GetActive(ctx, uid)
	if err != nil {
		hlog.CtxErrorf(ctx, "push: reload generation: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	if len(req.Ops) > 0 {
		if cacheErr := h.cache.SetGeneration(ctx, cache.Generation{
			UserID:               gen.UserID,
			DatasetGenerationKey: gen.GenerationKey,
			ServerSeq:            gen.ServerSeq,
			SnapshotBlobRef:      gen.SnapshotBlobRef,
		}); cacheErr != nil {
			hlog.CtxErrorf(ctx, "push: refresh cached generation: %v", cacheErr)
		}
	}
	if err := h.ops.UpsertClientCursor(ctx, uid, req.ClientID, gen.ServerSeq); err != nil {
		hlog.CtxErrorf(ctx, "push: upsert client cursor: %v", err)
	}

	if newCount > 0 && h.nats != nil {
		if err := PublishWake(h.nats, wire.WakePing{UserID: uid, ServerSeq: gen.ServerSeq}); err != nil {
			hlog.CtxErrorf(ctx, "push: publish wake ping: %v", err)
		}
	}

	resp := wire.PushResponse{ServerSeq: gen.ServerSeq, DatasetGenerationKey: gen.GenerationKey}
	if len(req.Ops) > 0 && newCount == 0 {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Pull handles GET /sync/pull.
func (h *SyncHandler) Pull(ctx context.Context, c *app.RequestContext) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "not authenticated"})
		return
	}
	clientID := c.Query("clientId")
	requestedKey := c.Query("datasetGenerationKey")
	since, err := strconv.ParseInt(c.Query("since"), 10, 64)
	if err != nil {
		since = 0
	}

	gen, err := h.activeGeneration(ctx, uid)
	if err != nil {
		hlog.CtxErrorf(ctx, "pull: load generation: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}

	if requestedKey != gen.GenerationKey {
		c.JSON(http.StatusOK, wire.PullResponse{ServerSeq: gen.ServerSeq, DatasetGenerationKey: gen.GenerationKey})
		return
	}

	rows, err := h.ops.GetSince(ctx, uid, since, pullLimit)
	if err != nil {
		hlog.CtxErrorf(ctx, "pull: load operations: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.ops.UpsertClientCursor(ctx, uid, clientID, gen.ServerSeq); err != nil {
		hlog.CtxErrorf(ctx, "pull: upsert client cursor: %v", err)
	}

	c.JSON(http.StatusOK, wire.PullResponse{
		ServerSeq:            gen.ServerSeq,
		DatasetGenerationKey: gen.GenerationKey,
		Ops:                  toEnvelopes(rows),
	})
}

// Reset handles POST /sync/reset: a client-initiated dataset-generation
// reset (distinct from the client reacting to a server-observed
// mismatch in Bootstrap/Push/Pull above).
func (h *SyncHandler) Reset(ctx context.Context, c *app.RequestContext) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, map[string]interface{}{"error": "not authenticated"})
		return
	}

	var req wire.ResetRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	newKey := uuid.New().String()
	var blobRef *string
	if len(req.SnapshotBlob) > 0 {
		key, err := h.blobs.Put(ctx, uid, newKey, req.SnapshotBlob)
		if err != nil {
			hlog.CtxErrorf(ctx, "reset: upload snapshot blob: %v", err)
			c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		blobRef = &key
	}

	gen, err := h.gens.StartGeneration(ctx, uid, newKey, blobRef)
	if err != nil {
		hlog.CtxErrorf(ctx, "reset: start generation: %v", err)
		c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.cache.InvalidateGeneration(ctx, uid); err != nil {
		hlog.CtxErrorf(ctx, "reset: invalidate cache: %v", err)
	}

	if h.nats != nil {
		if err := PublishWake(h.nats, wire.WakePing{UserID: uid, ServerSeq: gen.ServerSeq}); err != nil {
			hlog.CtxErrorf(ctx, "reset: publish wake ping: %v", err)
		}
	}

	c.JSON(http.StatusOK, wire.ResetResponse{DatasetGenerationKey: gen.GenerationKey, ServerSeq: gen.ServerSeq})
}

func toEnvelopes(rows []store.SyncOperation) []wire.Envelope {
	envelopes := make([]wire.Envelope, len(rows))
	for i, row := range rows {
		seq := row.ServerSeq
		envelopes[i] = wire.Envelope{
			Scope:      row.Scope,
			ResourceID: row.ResourceID,
			Actor:      row.Actor,
			Clock:      row.Clock,
			Payload:    row.Payload,
			ServerSeq:  &seq,
		}
	}
	return envelopes
}
