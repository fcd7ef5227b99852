package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/cache"
	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/roomlock"
	"github.com/slotter-org/roomchat-backend/internal/tasks"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	MaxMessageLength    = 4000
)

// IdentityVerifier resolves the caller carried by ctx.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context) (types.Identity, error)
}

// RoomChecker fails with a not-found error for unknown rooms.
type RoomChecker interface {
	EnsureRoom(ctx context.Context, roomID uuid.UUID) error
}

// PartialExchangeError means the user message was stored but its AI reply
// was not.
type PartialExchangeError struct {
	UserMessage types.UserMessage
	Err         error
}

func (e *PartialExchangeError) Error() string {
	return fmt.Sprintf("ai reply for %s not stored: %v", e.UserMessage.CorrelationID, e.Err)
}

func (e *PartialExchangeError) Unwrap() error { return e.Err }

type ExchangeService interface {
	Exchange(ctx context.Context, roomID uuid.UUID, content string) (*types.ExchangeResult, error)
	History(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*types.Message, error)
	GetMessage(ctx context.Context, correlationID string) (*types.Message, error)

	Submit(ctx context.Context, roomID uuid.UUID, content string) (types.UserMessage, error)
	CompleteExchange(ctx context.Context, job tasks.Job) error
}

type exchangeService struct {
	log         *logger.Logger
	messageRepo repos.MessageRepo
	assembler   ContextAssembler
	responder   AIResponder
	identity    IdentityVerifier
	rooms       RoomChecker
	locker      roomlock.Locker
	queue       tasks.Queue
	cache       cache.Cache
	system      string
}

func NewExchangeService(
	log *logger.Logger,
	messageRepo repos.MessageRepo,
	assembler ContextAssembler,
	responder AIResponder,
	identity IdentityVerifier,
	rooms RoomChecker,
	locker roomlock.Locker,
	queue tasks.Queue,
	roomCache cache.Cache,
	systemPrompt string,
) ExchangeService {
	if locker == nil {
		locker = roomlock.NewLocalLocker()
	}
	if roomCache == nil {
		roomCache = cache.NewNoopCache()
	}
	return &exchangeService{
		log:         log.With("service", "ExchangeService"),
		messageRepo: messageRepo,
		assembler:   assembler,
		responder:   responder,
		identity:    identity,
		rooms:       rooms,
		locker:      locker,
		queue:       queue,
		cache:       roomCache,
		system:      systemPrompt,
	}
}

//----------------------------------------------------------------------------------------------------------------------
// Exchange
//----------------------------------------------------------------------------------------------------------------------

// Exchange stores the user message, asks the responder for a reply and stores
// that too. Both writes happen under the room lock so the pair is adjacent.
func (es *exchangeService) Exchange(ctx context.Context, roomID uuid.UUID, content string) (*types.ExchangeResult, error) {
	start := time.Now()
	log := es.log.With("roomID", roomID)
	log.Info("Starting Exchange now...")
	result := &types.ExchangeResult{State: types.ExchangeReceived}

	//1) Received: verify caller and room, nothing written yet
	identity, err := es.admit(ctx, roomID, content)
	if err != nil {
		metrics.ExchangesTotal.WithLabelValues("sync", "rejected").Inc()
		return nil, err
	}

	//2) UserPersisted
	release, err := es.lockRoom(ctx, roomID)
	if err != nil {
		metrics.ExchangesTotal.WithLabelValues("sync", "failed").Inc()
		return nil, err
	}
	defer release()

	userRow, err := es.messageRepo.Append(ctx, nil, types.NewUserDraft(roomID, identity, content))
	if err != nil {
		log.Error("Failed to store user message. Returning error", "error", err)
		metrics.ExchangesTotal.WithLabelValues("sync", "failed").Inc()
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(string(types.MessageTypeUser)).Inc()
	userMsg, err := userRow.AsUser()
	if err != nil {
		return nil, errordata.Store("ExchangeService.Exchange", "stored message has wrong variant", err)
	}
	result.UserMessage = userMsg
	result.State = types.ExchangeUserPersisted
	log = log.With("correlationID", userMsg.CorrelationID)

	// The user message is durable now; finish the pair even if the caller
	// goes away.
	detached := context.WithoutCancel(ctx)

	//3) ContextBuilt and 4) Completed
	aiMsg, err := es.reply(detached, log, userRow, result)
	es.invalidateRoom(detached, roomID)
	if err != nil {
		metrics.ExchangesTotal.WithLabelValues("sync", "partial").Inc()
		return nil, &PartialExchangeError{UserMessage: userMsg, Err: err}
	}
	result.AiMessage = aiMsg
	result.State = types.ExchangeCompleted

	metrics.ExchangesTotal.WithLabelValues("sync", "completed").Inc()
	metrics.ExchangeDuration.Observe(time.Since(start).Seconds())
	log.Info("Exchange completed :)", "userSeq", userMsg.Seq, "aiSeq", aiMsg.Seq, "duration", time.Since(start).String())
	return result, nil
}

// reply runs context assembly, generation and the AI write for a stored user
// message. The caller holds the room lock.
func (es *exchangeService) reply(ctx context.Context, log *logger.Logger, userRow *types.Message, result *types.ExchangeResult) (types.AiMessage, error) {
	convo, err := es.assembler.AssembleUpTo(ctx, userRow.RoomID, userRow.Seq)
	if err != nil {
		log.Warn("Context read failed, answering the new message alone", "error", err)
		convo = types.ConversationContext{System: es.system, Turns: []types.Turn{TurnFor(userRow)}}
	}
	if result != nil {
		result.State = types.ExchangeContextBuilt
	}

	reply := es.responder.Generate(ctx, convo)

	draft, err := types.NewAIDraft(userRow.RoomID, reply.Content, reply.Metadata(userRow.CorrelationID))
	if err != nil {
		return types.AiMessage{}, errordata.Store("ExchangeService.reply", "failed to build ai message", err)
	}
	aiRow, err := es.messageRepo.Append(ctx, nil, draft)
	if err != nil {
		log.Error("Failed to store AI message", "error", err)
		if !errordata.IsStore(err) && !errordata.IsNotFound(err) {
			err = errordata.Store("ExchangeService.reply", "failed to store ai message", err)
		}
		return types.AiMessage{}, err
	}
	metrics.MessagesStored.WithLabelValues(string(types.MessageTypeAI)).Inc()
	return aiRow.AsAI()
}

//----------------------------------------------------------------------------------------------------------------------
// Submit, CompleteExchange (async mode)
//----------------------------------------------------------------------------------------------------------------------

// Submit stores the user message and hands the rest of the exchange to a
// worker. The reply shows up in History with metadata.in_reply_to set.
func (es *exchangeService) Submit(ctx context.Context, roomID uuid.UUID, content string) (types.UserMessage, error) {
	log := es.log.With("roomID", roomID)
	log.Info("Starting Submit now...")
	if es.queue == nil {
		return types.UserMessage{}, errors.New("exchange queue not configured")
	}

	identity, err := es.admit(ctx, roomID, content)
	if err != nil {
		metrics.ExchangesTotal.WithLabelValues("async", "rejected").Inc()
		return types.UserMessage{}, err
	}

	release, err := es.lockRoom(ctx, roomID)
	if err != nil {
		return types.UserMessage{}, err
	}
	userRow, err := es.messageRepo.Append(ctx, nil, types.NewUserDraft(roomID, identity, content))
	release()
	if err != nil {
		log.Error("Failed to store user message. Returning error", "error", err)
		metrics.ExchangesTotal.WithLabelValues("async", "failed").Inc()
		return types.UserMessage{}, err
	}
	metrics.MessagesStored.WithLabelValues(string(types.MessageTypeUser)).Inc()
	userMsg, err := userRow.AsUser()
	if err != nil {
		return types.UserMessage{}, errordata.Store("ExchangeService.Submit", "stored message has wrong variant", err)
	}

	detached := context.WithoutCancel(ctx)
	es.invalidateRoom(detached, roomID)

	job := tasks.Job{CorrelationID: userMsg.CorrelationID, RoomID: roomID, EnqueuedAt: time.Now().UTC()}
	if err := es.queue.Enqueue(detached, job); err != nil {
		log.Error("Failed to enqueue exchange job", "correlationID", userMsg.CorrelationID, "error", err)
		metrics.ExchangesTotal.WithLabelValues("async", "partial").Inc()
		return types.UserMessage{}, &PartialExchangeError{
			UserMessage: userMsg,
			Err:         errordata.Store("ExchangeService.Submit", "failed to queue reply", err),
		}
	}
	metrics.ExchangesTotal.WithLabelValues("async", "submitted").Inc()
	log.Info("Exchange submitted :)", "correlationID", userMsg.CorrelationID)
	return userMsg, nil
}

// CompleteExchange is the worker side of Submit. It is safe to run more than
// once for the same job.
func (es *exchangeService) CompleteExchange(ctx context.Context, job tasks.Job) error {
	start := time.Now()
	log := es.log.With("roomID", job.RoomID, "correlationID", job.CorrelationID)

	//1) Reload the user message
	userRow, err := es.messageRepo.GetByCorrelationID(ctx, nil, job.CorrelationID)
	if err != nil {
		if errordata.IsNotFound(err) {
			return tasks.Permanent(err)
		}
		return err
	}
	if _, err := userRow.AsUser(); err != nil {
		return tasks.Permanent(err)
	}
	if userRow.RoomID != job.RoomID {
		return tasks.Permanent(fmt.Errorf("job room %s does not match message room %s", job.RoomID, userRow.RoomID))
	}

	//2) Lock, then skip if already answered
	release, err := es.lockRoom(ctx, userRow.RoomID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := es.messageRepo.GetReplyTo(ctx, nil, userRow.RoomID, userRow.CorrelationID); err == nil {
		log.Info("Reply already stored, skipping job")
		return nil
	} else if !errordata.IsNotFound(err) {
		return err
	}

	//3) Earlier messages still waiting are answered first, so replies land
	// in the order of the messages they answer whatever order jobs run in
	pending, err := es.messageRepo.PendingUpTo(ctx, nil, userRow.RoomID, userRow.Seq)
	if err != nil {
		return err
	}
	if len(pending) == 0 || pending[len(pending)-1].ID != userRow.ID {
		log.Warn("A later message is already answered, dropping job")
		return tasks.Permanent(fmt.Errorf("message %s was passed over by a later reply", userRow.CorrelationID))
	}

	//4) Context, generation, AI write
	var aiMsg types.AiMessage
	for _, p := range pending {
		if p.ID != userRow.ID {
			log.Info("Answering earlier pending message first", "pendingCorrelationID", p.CorrelationID, "pendingSeq", p.Seq)
		}
		aiMsg, err = es.reply(ctx, log, p, nil)
		if err != nil {
			break
		}
		if p.ID != userRow.ID {
			metrics.ExchangesTotal.WithLabelValues("async", "completed").Inc()
		}
	}
	es.invalidateRoom(context.WithoutCancel(ctx), userRow.RoomID)
	if err != nil {
		if errordata.IsNotFound(err) {
			// room was cleared while the job waited
			return tasks.Permanent(err)
		}
		metrics.ExchangesTotal.WithLabelValues("async", "partial").Inc()
		return err
	}
	metrics.ExchangesTotal.WithLabelValues("async", "completed").Inc()
	metrics.ExchangeDuration.Observe(time.Since(job.EnqueuedAt).Seconds())
	log.Info("Exchange completed by worker :)", "aiSeq", aiMsg.Seq, "duration", time.Since(start).String())
	return nil
}

//----------------------------------------------------------------------------------------------------------------------
// History, GetMessage
//----------------------------------------------------------------------------------------------------------------------

// History pages a room's messages in ascending order. Without intervening
// writes the same call returns the same messages.
func (es *exchangeService) History(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	if _, err := es.identity.VerifyIdentity(ctx); err != nil {
		return nil, err
	}
	if err := es.rooms.EnsureRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		return nil, errordata.Invalid("ExchangeService.History", "offset must not be negative", nil)
	}

	// only the default first page is cached
	cacheable := offset == 0 && limit == DefaultHistoryLimit
	if cacheable {
		var cached []*types.Message
		if es.cache.Get(ctx, cache.RoomMessagesKey(roomID), &cached) {
			return cached, nil
		}
	}

	msgs, err := es.messageRepo.Page(ctx, nil, roomID, offset, limit)
	if err != nil {
		return nil, err
	}
	// A full page never changes since appends only extend the tail. A
	// shorter one may miss a reply written while it was read.
	if cacheable && len(msgs) == limit {
		es.cache.Set(ctx, cache.RoomMessagesKey(roomID), msgs)
	}
	return msgs, nil
}

func (es *exchangeService) GetMessage(ctx context.Context, correlationID string) (*types.Message, error) {
	if _, err := es.identity.VerifyIdentity(ctx); err != nil {
		return nil, err
	}
	return es.messageRepo.GetByCorrelationID(ctx, nil, correlationID)
}

//----------------------------------------------------------------------------------------------------------------------
// helpers
//----------------------------------------------------------------------------------------------------------------------

func (es *exchangeService) admit(ctx context.Context, roomID uuid.UUID, content string) (types.Identity, error) {
	identity, err := es.identity.VerifyIdentity(ctx)
	if err != nil {
		es.log.Warn("Identity verification failed, Cannot proceed further. Returning error", "error", err)
		return types.Identity{}, err
	}
	if strings.TrimSpace(content) == "" {
		return types.Identity{}, errordata.Invalid("ExchangeService", "content must not be empty", nil)
	}
	if len(content) > MaxMessageLength {
		return types.Identity{}, errordata.Invalid("ExchangeService", fmt.Sprintf("content exceeds %d bytes", MaxMessageLength), nil)
	}
	if err := es.rooms.EnsureRoom(ctx, roomID); err != nil {
		es.log.Warn("Room check failed, Cannot proceed further. Returning error", "roomID", roomID, "error", err)
		return types.Identity{}, err
	}
	return identity, nil
}

func (es *exchangeService) lockRoom(ctx context.Context, roomID uuid.UUID) (func(), error) {
	release, err := es.locker.Lock(ctx, roomID)
	if err != nil {
		es.log.Error("Failed to acquire room lock", "roomID", roomID, "error", err)
		return nil, errordata.Store("ExchangeService.lockRoom", "room is busy", err)
	}
	return release, nil
}

func (es *exchangeService) invalidateRoom(ctx context.Context, roomID uuid.UUID) {
	es.cache.Delete(ctx, cache.RoomKey(roomID), cache.RoomMessagesKey(roomID), cache.RoomsListKey)
}
