package streamkit

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/pkg/timestamp"
	"github.com/c360/streamkit/pkg/worker"
)

const (
	formatJSON     = "application/json"
	formatProtobuf = "application/x-protobuf"
)

// StateChangedFunc observes a Subscription's state machine transitions.
type StateChangedFunc func(old, new SubscriptionState)

// Subscription is a single streaming subscription's client-side state
// machine: it owns the HTTP lifecycle (subscribe/modify/unsubscribe),
// routes incoming frames to the caller, and resynchronizes on error.
//
// A Subscription is single-threaded by convention (see the package
// docs): every exported method and every Transport callback must run
// serially for one instance. It carries no internal lock; Runner, if
// set, is the seam a host uses to funnel callbacks back onto that
// single logical thread instead of the raw goroutine a timer or an
// HTTP client callback would otherwise fire on.
type Subscription struct {
	ServicePath string
	URL         string
	Args        SubscriptionArgs

	ReferenceID               string
	StreamingContextID        string
	CurrentStreamingContextID string

	State SubscriptionState
	Queue *ActionQueue

	Transport Transport
	Parsers   ParserFacade
	Parser    Parser

	format     string
	SchemaName string

	InactivityTimeout int // seconds; 0 means "never orphan" per the server
	LatestActivity    int64

	UpdatesBeforeSubscribed []StreamingMessage

	ConnectionAvailable bool
	IsDisposed          bool

	// Runner, when set, marshals an async callback onto the caller's
	// single logical thread (a host's serialized dispatch loop). Nil
	// means "call directly" — fine for tests and for callers that
	// already serialize on their own.
	Runner func(fn func())

	// ReferenceIDChanged, when set, fires every time executeSubscribe
	// assigns a fresh ReferenceID — not just the ones a caller-invoked
	// Host method kicked off directly, but also the ones a reconnect
	// (OnConnectionAvailable draining a queued SUBSCRIBE) or a Reset
	// (orphan sweep, parse-failure resync) trigger on their own. A host
	// uses this to keep its reference-id index current no matter which
	// path minted the new id.
	ReferenceIDChanged func(old, new string)

	// OnUpdate delivers a parsed snapshot or delta.
	OnUpdate func(data any, kind UpdateKind)
	// OnError delivers a non-retryable server error that the caller
	// may want to surface; fires at most once per failed subscribe.
	OnError func(ErrorResponse)
	// OnQueueEmpty fires whenever the action queue drains to empty
	// while the subscription is idle (not mid-transition).
	OnQueueEmpty func()
	// OnSubscriptionCreated fires once, the first time this
	// subscription ever reaches SUBSCRIBED.
	OnSubscriptionCreated func()
	// OnNetworkError fires every time a subscribe attempt fails with a
	// network-classified error, after the automatic retry is armed (no
	// retry is armed when an unsubscribe is next in the queue).
	OnNetworkError func()

	subscriptionCreatedFired bool
	networkErrorTimer        *time.Timer

	// actionGen increments every time a SUBSCRIBE, UNSUBSCRIBE, or
	// MODIFY_PATCH is actually dispatched to the transport. A patch
	// response's captured generation is compared against the current
	// one to detect a patch abandoned by a later action (most often
	// Reset's forced unsubscribe/resubscribe) — the reference id alone
	// can't tell, since a patch never changes it.
	actionGen uint64

	stateChangedCallbacks []StateChangedFunc

	cleanupPool *worker.Pool[cleanupDelete]

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

type cleanupDelete struct {
	req DeleteRequest
}

// NewSubscription builds a Subscription in the UNSUBSCRIBED state,
// ready for OnSubscribe. transport and parsers are required
// collaborators; cleanupPool may be nil, in which case cleanup
// DELETEs (duplicate-key recovery) fire inline instead of on a
// worker goroutine.
func NewSubscription(servicePath, url string, args SubscriptionArgs, transport Transport, parsers ParserFacade, cleanupPool *worker.Pool[cleanupDelete]) *Subscription {
	format := args.Format
	if format == "" {
		format = formatJSON
	}
	s := &Subscription{
		ServicePath: servicePath,
		URL:         url,
		Args:        args,
		State:       StateUnsubscribed,
		Queue:       NewActionQueue(),
		Transport:   transport,
		Parsers:     parsers,
		format:      format,
		cleanupPool: cleanupPool,
		Logger:      slog.Default(),
	}
	s.Parser = parsers.Get(format)
	return s
}

func (s *Subscription) run(fn func()) {
	if s.Runner != nil {
		s.Runner(fn)
		return
	}
	fn()
}

func (s *Subscription) setState(next SubscriptionState) {
	prev := s.State
	if prev == next {
		return
	}
	s.State = next
	if s.Metrics != nil {
		s.Metrics.RecordSubscriptionState(s.ReferenceID, s.Args.Tag, int(next))
	}
	for _, cb := range s.stateChangedCallbacks {
		cb(prev, next)
	}
}

// AddStateChangedCallback registers fn to observe transitions. A
// pointer-identical fn already registered is ignored.
func (s *Subscription) AddStateChangedCallback(fn StateChangedFunc) {
	p := reflect.ValueOf(fn).Pointer()
	for _, existing := range s.stateChangedCallbacks {
		if reflect.ValueOf(existing).Pointer() == p {
			return
		}
	}
	s.stateChangedCallbacks = append(s.stateChangedCallbacks, fn)
}

// RemoveStateChangedCallback unregisters a pointer-identical fn, if present.
func (s *Subscription) RemoveStateChangedCallback(fn StateChangedFunc) {
	p := reflect.ValueOf(fn).Pointer()
	for i, existing := range s.stateChangedCallbacks {
		if reflect.ValueOf(existing).Pointer() == p {
			s.stateChangedCallbacks = append(s.stateChangedCallbacks[:i], s.stateChangedCallbacks[i+1:]...)
			return
		}
	}
}

// OnSubscribe requests a (re)subscribe.
func (s *Subscription) OnSubscribe() error {
	if s.IsDisposed {
		return errors.WrapInvalid(errors.ErrDisposed, "Subscription", "OnSubscribe", "subscription is disposed")
	}
	s.tryPerform(ActionQueueItem{Action: ActionSubscribe})
	return nil
}

// OnModify replaces the subscribe arguments. If isPatch, it enqueues a
// MODIFY_PATCH carrying patchArgsDelta (which must be non-nil).
// Otherwise it enqueues a forced UNSUBSCRIBE followed by a SUBSCRIBE.
func (s *Subscription) OnModify(newArgs map[string]any, isPatch bool, patchArgsDelta any) error {
	s.Args.Arguments = newArgs
	if isPatch {
		if patchArgsDelta == nil {
			return errors.WrapInvalid(errors.ErrInvalidAction, "Subscription", "OnModify", "patchArgsDelta is required when isPatch is true")
		}
		s.tryPerform(ActionQueueItem{Action: ActionModifyPatch, PatchArgsDelta: patchArgsDelta})
		return nil
	}
	s.tryPerform(ActionQueueItem{Action: ActionUnsubscribe, Force: true})
	s.tryPerform(ActionQueueItem{Action: ActionSubscribe})
	return nil
}

// OnUnsubscribe enqueues an UNSUBSCRIBE. It still enqueues on a
// disposed subscription (logging a warning) rather than erroring —
// disposal must not strand an in-flight subscribe without a way to
// tear it down.
func (s *Subscription) OnUnsubscribe(force bool) {
	if s.IsDisposed {
		s.Logger.Warn("unsubscribe requested on disposed subscription", "reference_id", s.ReferenceID)
	}
	s.tryPerform(ActionQueueItem{Action: ActionUnsubscribe, Force: force})
}

// Dispose marks the subscription as no longer usable for new
// subscribes; in-flight work and queued unsubscribes still complete.
func (s *Subscription) Dispose() {
	s.IsDisposed = true
}

// tryPerform is the single entry point actions funnel through: cancel
// any pending network-error retry, then either dispatch immediately
// (connection available and not mid-transition) or queue for later.
func (s *Subscription) tryPerform(item ActionQueueItem) {
	if s.networkErrorTimer != nil {
		s.networkErrorTimer.Stop()
		s.networkErrorTimer = nil
	}
	if !s.ConnectionAvailable || s.State.isTransitioning() {
		_ = s.Queue.Enqueue(item)
		return
	}
	s.dispatch(item)
}

// dispatch runs the state/action table: each combination either
// no-ops, executes an HTTP call, or flips straight to
// READY_FOR_UNSUBSCRIBE_BY_TAG. Anything else is logged and leaves
// state unchanged.
func (s *Subscription) dispatch(item ActionQueueItem) {
	switch {
	case item.Action == ActionSubscribe && s.State == StateSubscribed:
		// Already subscribed; nothing to do.
	case item.Action == ActionSubscribe && s.State == StateUnsubscribed:
		s.Queue.ClearPatches()
		s.executeSubscribe()
		return
	case item.Action == ActionModifyPatch && s.State == StateSubscribed:
		s.executePatch(item.PatchArgsDelta)
		return
	case item.Action == ActionUnsubscribe && s.State == StateSubscribed:
		s.executeUnsubscribe()
		return
	case item.Action == ActionUnsubscribe && s.State == StateUnsubscribed:
		// Already unsubscribed; nothing to do.
	case item.Action == ActionUnsubscribeByTagPending && (s.State == StateSubscribed || s.State == StateUnsubscribed):
		s.setState(StateReadyForUnsubscribeByTag)
	default:
		s.Logger.Error("no dispatch rule for action in this state",
			"action", item.Action.String(), "state", s.State.String(), "reference_id", s.ReferenceID)
	}
	s.drainIfIdle()
}

// drainIfIdle pulls and dispatches the next queued action once the
// subscription is connected and not mid-transition, and fires
// OnQueueEmpty when nothing is left.
func (s *Subscription) drainIfIdle() {
	if s.State.isTransitioning() || !s.ConnectionAvailable {
		return
	}
	item, ok := s.Queue.Dequeue()
	if !ok {
		if s.OnQueueEmpty != nil {
			s.OnQueueEmpty()
		}
		return
	}
	s.dispatch(item)
}

// OnConnectionAvailable marks the transport as usable and resumes
// draining any queued actions.
func (s *Subscription) OnConnectionAvailable() {
	s.ConnectionAvailable = true
	if !s.State.isTransitioning() {
		s.drainIfIdle()
	}
}

// OnConnectionUnavailable marks the transport as unusable. New
// actions queue until connectivity returns.
func (s *Subscription) OnConnectionUnavailable() {
	s.ConnectionAvailable = false
	if s.networkErrorTimer != nil {
		s.networkErrorTimer.Stop()
		s.networkErrorTimer = nil
	}
}

func (s *Subscription) downgradeToJSON() {
	s.format = formatJSON
	s.Parser = s.Parsers.Get(formatJSON)
	s.SchemaName = ""
}

func (s *Subscription) bumpActionGen() uint64 {
	s.actionGen++
	return s.actionGen
}

func (s *Subscription) executeSubscribe() {
	s.bumpActionGen()
	refID := nextReferenceID()
	oldRefID := s.ReferenceID
	s.ReferenceID = refID
	if s.ReferenceIDChanged != nil {
		s.ReferenceIDChanged(oldRefID, refID)
	}
	s.UpdatesBeforeSubscribed = nil
	s.CurrentStreamingContextID = s.StreamingContextID
	capturedContextID := s.CurrentStreamingContextID

	body := map[string]any{
		"Format":       s.format,
		"RefreshRate":  s.Args.normalizedRefreshRate(),
		"Arguments":    s.Args.Arguments,
		"ContextId":    capturedContextID,
		"ReferenceId":  refID,
		"KnownSchemas": s.Parser.SchemaNames(),
	}
	if s.Args.Tag != "" {
		body["Tag"] = s.Args.Tag
	}

	s.setState(StateSubscribeRequested)
	if s.Metrics != nil {
		s.Metrics.RecordActionEnqueued("subscribe")
	}

	req := PostRequest{ServicePath: s.ServicePath, URL: s.URL, Top: s.Args.Top, Body: body}
	s.Transport.Post(req, func(resp SubscribeResponse, errResp *ErrorResponse) {
		s.run(func() { s.handleSubscribeResponse(refID, capturedContextID, resp, errResp) })
	})
}

func (s *Subscription) handleSubscribeResponse(capturedRefID, capturedContextID string, resp SubscribeResponse, errResp *ErrorResponse) {
	if capturedRefID != s.ReferenceID {
		if errResp != nil && errResp.Message == errMsgDuplicateKey {
			s.fireCleanupDelete(capturedContextID, capturedRefID)
		}
		if s.Metrics != nil {
			s.Metrics.RecordStaleResponse("subscribe")
		}
		s.Logger.Debug("discarding stale subscribe response", "reference_id", capturedRefID, "current", s.ReferenceID)
		return
	}
	if errResp == nil {
		s.handleSubscribeSuccess(resp)
		return
	}
	s.handleSubscribeError(capturedContextID, capturedRefID, errResp)
}

func (s *Subscription) handleSubscribeSuccess(resp SubscribeResponse) {
	s.setState(StateSubscribed)

	if resp.InactivityTimeout == 0 {
		s.Logger.Warn("subscribe response carries a zero inactivity timeout; this subscription will never be treated as orphaned",
			"reference_id", s.ReferenceID)
	}
	s.InactivityTimeout = resp.InactivityTimeout
	s.LatestActivity = timestamp.Now()

	if !s.subscriptionCreatedFired {
		s.subscriptionCreatedFired = true
		if s.OnSubscriptionCreated != nil {
			s.OnSubscriptionCreated()
		}
	}

	if head, ok := s.Queue.PeekAction(); !ok || head != ActionUnsubscribe {
		s.processSnapshot(resp)
		buffered := s.UpdatesBeforeSubscribed
		s.UpdatesBeforeSubscribed = nil
		for _, msg := range buffered {
			s.OnStreamingData(msg)
		}
	}
	s.UpdatesBeforeSubscribed = nil
	s.drainIfIdle()
}

func (s *Subscription) processSnapshot(resp SubscribeResponse) {
	switch {
	case resp.SchemaName != "":
		s.SchemaName = resp.SchemaName
		if len(resp.Schema) > 0 {
			if err := s.Parser.AddSchema(resp.SchemaName, resp.Schema); err != nil {
				s.Logger.Error("failed to register schema", "schema", resp.SchemaName, "error", err)
			}
		}
	case s.format == formatProtobuf && s.SchemaName == "":
		s.downgradeToJSON()
	}
	s.deliverUpdate(resp.Snapshot, UpdateSnapshot)
}

func (s *Subscription) deliverUpdate(data any, kind UpdateKind) {
	if s.OnUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("OnUpdate panicked", "reference_id", s.ReferenceID, "recovered", r)
		}
	}()
	s.OnUpdate(data, kind)
}

func (s *Subscription) handleSubscribeError(capturedContextID, capturedRefID string, errResp *ErrorResponse) {
	willUnsubscribe := false
	if a, ok := s.Queue.PeekAction(); ok && a == ActionUnsubscribe {
		willUnsubscribe = true
	}
	s.setState(StateUnsubscribed)

	switch {
	case errResp.Message == errMsgDuplicateKey:
		s.fireCleanupDelete(capturedContextID, capturedRefID)
		if !willUnsubscribe {
			s.tryPerform(ActionQueueItem{Action: ActionSubscribe})
		}
		return

	case errResp.ErrorCode == errCodeUnsupportedFormat && s.format == formatProtobuf:
		s.downgradeToJSON()
		if !willUnsubscribe {
			s.tryPerform(ActionQueueItem{Action: ActionSubscribe})
		}
		return

	case errResp.IsNetworkError:
		if !willUnsubscribe {
			s.armNetworkErrorTimer()
		}
		if s.OnNetworkError != nil {
			s.OnNetworkError()
		}
		return

	default:
		s.Logger.Error("subscribe failed", "reference_id", capturedRefID, "error_code", errResp.ErrorCode, "message", errResp.Message)
		if !willUnsubscribe && s.OnError != nil {
			s.OnError(*errResp)
		}
		s.drainIfIdle()
	}
}

func (s *Subscription) armNetworkErrorTimer() {
	s.networkErrorTimer = time.AfterFunc(networkErrorRetryDelay, func() {
		s.run(func() {
			s.networkErrorTimer = nil
			s.tryPerform(ActionQueueItem{Action: ActionSubscribe})
		})
	})
}

func (s *Subscription) fireCleanupDelete(contextID, refID string) {
	req := DeleteRequest{ServicePath: s.ServicePath, URL: s.URL, ContextID: contextID, ReferenceID: refID}
	if s.cleanupPool != nil {
		if err := s.cleanupPool.Submit(cleanupDelete{req: req}); err == nil {
			return
		}
	}
	s.Transport.Delete(req, func(*ErrorResponse) {})
}

func (s *Subscription) executeUnsubscribe() {
	s.bumpActionGen()
	contextID := s.CurrentStreamingContextID
	refID := s.ReferenceID
	s.setState(StateUnsubscribeRequested)

	req := DeleteRequest{ServicePath: s.ServicePath, URL: s.URL, ContextID: contextID, ReferenceID: refID}
	s.Transport.Delete(req, func(errResp *ErrorResponse) {
		s.run(func() { s.handleUnsubscribeResponse(refID, errResp) })
	})
}

func (s *Subscription) handleUnsubscribeResponse(capturedRefID string, errResp *ErrorResponse) {
	if capturedRefID != s.ReferenceID {
		s.Logger.Debug("discarding stale unsubscribe response", "reference_id", capturedRefID, "current", s.ReferenceID)
		return
	}
	s.setState(StateUnsubscribed)
	if errResp != nil {
		s.Logger.Info("unsubscribe returned an error; treating the subscription as gone server-side anyway",
			"reference_id", capturedRefID, "error_code", errResp.ErrorCode)
	}
	s.drainIfIdle()
}

func (s *Subscription) executePatch(delta any) {
	contextID := s.CurrentStreamingContextID
	refID := s.ReferenceID
	gen := s.bumpActionGen()
	s.setState(StatePatchRequested)

	req := PatchRequest{ServicePath: s.ServicePath, URL: s.URL, ContextID: contextID, ReferenceID: refID, Body: delta}
	s.Transport.Patch(req, func(errResp *ErrorResponse) {
		s.run(func() { s.handlePatchResponse(refID, gen, errResp) })
	})
}

// handlePatchResponse discards a response whose reference id was
// superseded, or — since a patch never changes the reference id — one
// whose action generation was superseded, which is what actually
// happens when Reset abandons an in-flight patch for a forced
// unsubscribe/resubscribe.
func (s *Subscription) handlePatchResponse(capturedRefID string, capturedGen uint64, errResp *ErrorResponse) {
	if capturedRefID != s.ReferenceID || capturedGen != s.actionGen {
		s.Logger.Debug("discarding stale patch response", "reference_id", capturedRefID, "current", s.ReferenceID)
		return
	}
	s.setState(StateSubscribed)
	if errResp != nil {
		s.Logger.Error("patch failed", "reference_id", capturedRefID, "error_code", errResp.ErrorCode, "message", errResp.Message)
	}
	s.drainIfIdle()
}

// OnStreamingData routes one inbound frame by current state. It
// returns false when the frame is not for this subscription to
// consume (already unsubscribed) so a host can account for it as an
// orphan instead.
func (s *Subscription) OnStreamingData(msg StreamingMessage) bool {
	s.LatestActivity = timestamp.Now()

	switch s.State {
	case StateUnsubscribeRequested:
		return true
	case StateUnsubscribed:
		return false
	case StateSubscribeRequested:
		s.UpdatesBeforeSubscribed = append(s.UpdatesBeforeSubscribed, msg)
		return true
	case StateSubscribed, StatePatchRequested:
		parsed, err := s.Parser.Parse(msg.Data, s.SchemaName)
		if err != nil {
			s.Logger.Error("failed to parse streaming delta; resubscribing to resynchronize",
				"reference_id", s.ReferenceID, "error", err)
			s.Reset()
			return true
		}
		s.deliverUpdate(parsed, UpdateDelta)
		return true
	default:
		s.Logger.Error("streaming data arrived in an unexpected state", "state", s.State.String(), "reference_id", s.ReferenceID)
		return true
	}
}

// OnHeartbeat refreshes the activity clock without delivering data.
func (s *Subscription) OnHeartbeat() {
	s.LatestActivity = timestamp.Now()
}

// Reset tears down and re-establishes the subscription in place. It
// does nothing when UNSUBSCRIBED, UNSUBSCRIBE_REQUESTED or
// READY_FOR_UNSUBSCRIBE_BY_TAG, or when SUBSCRIBE_REQUESTED or
// SUBSCRIBED with an UNSUBSCRIBE at the head of the queue. A
// PATCH_REQUESTED subscription always resets, abandoning the patch.
func (s *Subscription) Reset() {
	switch s.State {
	case StateUnsubscribed, StateUnsubscribeRequested, StateReadyForUnsubscribeByTag:
		return
	case StateSubscribeRequested, StateSubscribed:
		if a, ok := s.Queue.PeekAction(); ok && a == ActionUnsubscribe {
			return
		}
		s.OnUnsubscribe(true)
		_ = s.OnSubscribe()
	case StatePatchRequested:
		s.setState(StateSubscribed)
		s.OnUnsubscribe(true)
		_ = s.OnSubscribe()
	}
}

// OnUnsubscribeByTagPending enqueues the transition that parks this
// subscription for a host-driven bulk unsubscribe-by-tag.
func (s *Subscription) OnUnsubscribeByTagPending() {
	s.tryPerform(ActionQueueItem{Action: ActionUnsubscribeByTagPending})
}

// OnUnsubscribeByTagComplete finishes a bulk unsubscribe-by-tag,
// returning the subscription to UNSUBSCRIBED.
func (s *Subscription) OnUnsubscribeByTagComplete() {
	if s.State != StateReadyForUnsubscribeByTag {
		return
	}
	s.setState(StateUnsubscribed)
	s.drainIfIdle()
}

// IsReadyForUnsubscribeByTag reports whether a pending bulk
// unsubscribe-by-tag may now issue the DELETE for this subscription.
func (s *Subscription) IsReadyForUnsubscribeByTag() bool {
	return s.State == StateReadyForUnsubscribeByTag
}

// TimeTillOrphaned reports how long until this subscription should be
// considered orphaned (no activity within InactivityTimeout), given
// nowMs. An unavailable connection, a zero timeout, or any state where
// activity isn't yet meaningful all report "never" as math.MaxInt64.
func (s *Subscription) TimeTillOrphaned(nowMs int64) time.Duration {
	if !s.ConnectionAvailable || s.InactivityTimeout == 0 {
		return time.Duration(math.MaxInt64)
	}
	switch s.State {
	case StateUnsubscribed, StateUnsubscribeRequested, StateSubscribeRequested:
		return time.Duration(math.MaxInt64)
	}
	deadlineMs := int64(s.InactivityTimeout)*1000 - (nowMs - s.LatestActivity)
	return time.Duration(deadlineMs) * time.Millisecond
}

// NewCleanupPool builds the worker pool used for fire-and-forget
// cleanup DELETEs issued when the server reports a duplicate
// subscription key. ctx bounds the pool's own lifetime, not any one
// task.
func NewCleanupPool(ctx context.Context, transport Transport, workers, queueSize int) *worker.Pool[cleanupDelete] {
	pool := worker.NewPool(workers, queueSize, func(_ context.Context, task cleanupDelete) error {
		transport.Delete(task.req, func(*ErrorResponse) {})
		return nil
	})
	_ = pool.Start(ctx)
	return pool
}
