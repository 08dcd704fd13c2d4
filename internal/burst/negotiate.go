package burst

import (
	"context"
	"fmt"
	"time"

	"github.com/afdcore/afd/internal/ssa"
)

// WatchSlot polls one FSA slot's handshake register and forwards the first
// non-ArmedWaiting state it observes to the returned channel. It is the
// poll-based bridge between Negotiate's signal-driven wait and this
// redesign's shared-memory segment, which has no wakeup primitive of its
// own. The channel receives at most one value; WatchSlot exits once it
// sends or once ctx is done.
func WatchSlot(ctx context.Context, seg *ssa.Segment, hostAlias string, slotIdx int, interval time.Duration) <-chan HandshakeRegister {
	out := make(chan HandshakeRegister)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			host, err := seg.Host(hostAlias)
			if err != nil || slotIdx < 0 || slotIdx >= len(host.Slots) {
				continue
			}
			reg := DecodeRaw(host.Slots[slotIdx].UniqueName)
			if reg.Kind == ArmedWaiting {
				continue
			}
			select {
			case out <- reg:
			case <-ctx.Done():
			}
			return
		}
	}()
	return out
}

// NegotiateSlot runs one burst negotiation against a live FSA slot: it
// arms the slot, watches it for the scheduler's hand-off, runs it through
// coord.Negotiate, then persists the handler flag and handshake byte that
// Negotiate left in coord.Slot back to the segment; the handshake byte is
// written back as is, not cleared.
func NegotiateSlot(ctx context.Context, seg *ssa.Segment, hostAlias string, slotIdx int, pollInterval time.Duration, coord *Coordinator) (Decision, ValuesChanged, error) {
	host, err := seg.Host(hostAlias)
	if err != nil {
		return No, 0, fmt.Errorf("burst: loading host %q for negotiation: %w", hostAlias, err)
	}
	if slotIdx < 0 || slotIdx >= len(host.Slots) {
		return No, 0, fmt.Errorf("burst: slot %d out of range for host %q", slotIdx, hostAlias)
	}
	coord.Slot = &host.Slots[slotIdx]
	coord.Slot.SetHandshake(ssa.HandshakeArmedWaiting)
	coord.Slot.HandlerFlag = ssa.HandlerReady
	if err := seg.PutHost(host); err != nil {
		return No, 0, fmt.Errorf("burst: arming slot %d for host %q: %w", slotIdx, hostAlias, err)
	}

	resultCh := WatchSlot(ctx, seg, hostAlias, slotIdx, pollInterval)
	decision, changed, nerr := coord.Negotiate(ctx, resultCh)

	host, err = seg.Host(hostAlias)
	if err == nil && slotIdx < len(host.Slots) {
		host.Slots[slotIdx].HandlerFlag = coord.Slot.HandlerFlag
		host.Slots[slotIdx].SetHandshake(coord.Slot.Handshake())
		_ = seg.PutHost(host)
	}
	return decision, changed, nerr
}
