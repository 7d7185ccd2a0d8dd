package notify

import (
	"fmt"

	"github.com/chris-arsenault/the-canonry-sub014/internal/event"
)

// Subscribe wires a notifier to the event bus: batch-ready, run-failed,
// and run-finalized events become notifications. Returns the
// subscription ids for teardown.
func Subscribe(bus *event.Bus, notifier Notifier) []int {
	batchSub := bus.Subscribe(event.TypeBatchReady, func(e event.Event) {
		ev, ok := e.(event.BatchReadyEvent)
		if !ok {
			return
		}
		_ = notifier.Send(Notification{
			Title:   "Batch ready for review",
			Message: fmt.Sprintf("Batch %d (%s) has %d patches waiting", ev.BatchIndex+1, ev.Culture, ev.PatchCount),
			Type:    NotifyInfo,
			RunID:   ev.RunID,
			Culture: ev.Culture,
			Patches: ev.PatchCount,
		})
	})

	failSub := bus.Subscribe(event.TypeRunFailed, func(e event.Event) {
		ev, ok := e.(event.RunFailedEvent)
		if !ok {
			return
		}
		_ = notifier.Send(Notification{
			Title:    "Revision run failed",
			Message:  ev.Reason,
			Type:     NotifyError,
			RunID:    ev.RunID,
			Workflow: string(ev.Kind),
		})
	})

	doneSub := bus.Subscribe(event.TypeRunFinalized, func(e event.Event) {
		ev, ok := e.(event.RunFinalizedEvent)
		if !ok {
			return
		}
		_ = notifier.Send(Notification{
			Title:    "Revision run applied",
			Message:  fmt.Sprintf("%d patches applied, %d rejected", ev.Applied, ev.Rejected),
			Type:     NotifySuccess,
			RunID:    ev.RunID,
			Workflow: string(ev.Kind),
			Patches:  ev.Applied,
		})
	})

	return []int{batchSub, failSub, doneSub}
}
