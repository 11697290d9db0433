package streamkit

import (
	"github.com/c360/streamkit/errors"
)

// Action identifies the kind of work an ActionQueue item represents.
type Action int

const (
	ActionSubscribe Action = iota
	ActionUnsubscribe
	ActionModifyPatch
	ActionUnsubscribeByTagPending
)

func (a Action) String() string {
	switch a {
	case ActionSubscribe:
		return "subscribe"
	case ActionUnsubscribe:
		return "unsubscribe"
	case ActionModifyPatch:
		return "modify_patch"
	case ActionUnsubscribeByTagPending:
		return "unsubscribe_by_tag_pending"
	default:
		return "unknown"
	}
}

// ActionQueueItem is one pending entry in an ActionQueue.
type ActionQueueItem struct {
	Action Action

	// Force applies to ActionUnsubscribe: a forced unsubscribe is never
	// dropped by coalescing even when a subscribe follows it.
	Force bool

	// PatchArgsDelta carries the delta payload for ActionModifyPatch.
	PatchArgsDelta any
}

func (i ActionQueueItem) sameAction(other ActionQueueItem) bool {
	return i.Action == other.Action
}

// ActionQueue is a small coalescing FIFO owned exclusively by one
// Subscription. It is not safe for concurrent use — the owning
// subscription is itself single-threaded (see package docs) and the
// queue relies on that discipline rather than an internal lock.
type ActionQueue struct {
	items []ActionQueueItem
}

// NewActionQueue returns an empty ActionQueue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{}
}

// Len returns the number of items currently queued.
func (q *ActionQueue) Len() int {
	return len(q.items)
}

// PeekAction returns the action of the head item, or false if empty.
func (q *ActionQueue) PeekAction() (Action, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].Action, true
}

// Peek returns the head item itself, or false if empty.
func (q *ActionQueue) Peek() (ActionQueueItem, bool) {
	if len(q.items) == 0 {
		return ActionQueueItem{}, false
	}
	return q.items[0], true
}

// Enqueue appends item after applying the coalescing rules against the
// current tail, recursively, until a fixed point is reached. Fails with
// errors.ErrInvalidAction when the action is outside the defined range
// (the zero Action is ActionSubscribe, so it is accepted).
func (q *ActionQueue) Enqueue(item ActionQueueItem) error {
	if item.Action < ActionSubscribe || item.Action > ActionUnsubscribeByTagPending {
		return errors.WrapInvalid(errors.ErrInvalidAction, "ActionQueue", "Enqueue", "action absent or out of range")
	}
	q.coalesceAndAppend(item)
	return nil
}

// coalesceAndAppend applies the coalescing rules against the current
// tail and repeats the check until no further collapse applies, so a
// burst of calls settles to its minimal equivalent sequence in one
// Enqueue.
func (q *ActionQueue) coalesceAndAppend(item ActionQueueItem) {
	for {
		if len(q.items) == 0 {
			q.items = append(q.items, item)
			return
		}

		tail := q.items[len(q.items)-1]

		switch {
		case tail.sameAction(item) && item.Action != ActionModifyPatch:
			// Same action, not MODIFY_PATCH: drop new; OR-merge force for UNSUBSCRIBE.
			if item.Action == ActionUnsubscribe {
				q.items[len(q.items)-1].Force = tail.Force || item.Force
			}
			return

		case tail.Action == ActionUnsubscribe && !tail.Force && item.Action == ActionSubscribe:
			// Unforced UNSUBSCRIBE followed by SUBSCRIBE: remove tail, re-enqueue new.
			q.items = q.items[:len(q.items)-1]
			continue

		case tail.Action == ActionSubscribe &&
			(item.Action == ActionUnsubscribe || item.Action == ActionUnsubscribeByTagPending):
			// SUBSCRIBE followed by UNSUBSCRIBE or UNSUBSCRIBE_BY_TAG_PENDING: remove tail, re-enqueue new.
			q.items = q.items[:len(q.items)-1]
			continue

		case tail.Action == ActionModifyPatch &&
			((item.Action == ActionUnsubscribe && item.Force) || item.Action == ActionUnsubscribeByTagPending):
			// MODIFY_PATCH followed by forced UNSUBSCRIBE or UNSUBSCRIBE_BY_TAG_PENDING: remove tail, re-enqueue new.
			q.items = q.items[:len(q.items)-1]
			continue

		case tail.Action == ActionUnsubscribe && item.Action == ActionUnsubscribeByTagPending:
			// UNSUBSCRIBE (any) followed by UNSUBSCRIBE_BY_TAG_PENDING: remove tail, re-enqueue new.
			q.items = q.items[:len(q.items)-1]
			continue

		default:
			q.items = append(q.items, item)
			return
		}
	}
}

// Dequeue removes and returns the head item. If the remaining queue
// contains any UNSUBSCRIBE or UNSUBSCRIBE_BY_TAG_PENDING, it skips
// forward to the last such item, discarding everything strictly before
// it — obsolete work behind a pending unsubscribe is never executed.
func (q *ActionQueue) Dequeue() (ActionQueueItem, bool) {
	if len(q.items) == 0 {
		return ActionQueueItem{}, false
	}

	head := q.items[0]
	q.items = q.items[1:]

	lastUnsub := -1
	for i, it := range q.items {
		if it.Action == ActionUnsubscribe || it.Action == ActionUnsubscribeByTagPending {
			lastUnsub = i
		}
	}
	if lastUnsub > 0 {
		q.items = q.items[lastUnsub:]
	}

	return head, true
}

// ClearPatches is invoked at the moment of an actual subscribe: it
// retains the first non-SUBSCRIBE, non-MODIFY_PATCH item (if any) and
// drops everything else. Once we're about to subscribe, queued
// subscribes/patches are redundant; only a terminal unsubscribe still
// matters.
//
// Post-condition (defensive invariant, not exercised by current
// scenarios): after ClearPatches, the queue holds at most one item, and
// that item is neither SUBSCRIBE nor MODIFY_PATCH.
func (q *ActionQueue) ClearPatches() {
	for _, it := range q.items {
		if it.Action != ActionSubscribe && it.Action != ActionModifyPatch {
			q.items = []ActionQueueItem{it}
			return
		}
	}
	q.items = nil
}

// Reset empties the queue.
func (q *ActionQueue) Reset() {
	q.items = nil
}
