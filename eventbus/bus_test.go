// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package eventbus

import "testing"

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(Event{Kind: KindLinkStatus, LinkStatus: LinkStatus{Side: SideClient, Connected: true}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != KindLinkStatus || !got.LinkStatus.Connected {
				t.Fatalf("unexpected event: %+v", got)
			}
		default:
			t.Fatal("expected a buffered event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	h, ch := b.Subscribe()
	b.Unsubscribe(h)

	b.Publish(Event{Kind: KindLinkStatus})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed with no pending events")
	}
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	b := New()
	_, ch := b.Subscribe()

	for i := 0; i < subscriberQueueDepth+10; i++ {
		b.Publish(Event{Kind: KindTelegram})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained != subscriberQueueDepth {
				t.Fatalf("drained %d events, want exactly %d (queue depth)", drained, subscriberQueueDepth)
			}
			return
		}
	}
}

func TestUnsubscribeUnknownHandleIsNoop(t *testing.T) {
	b := New()
	b.Unsubscribe(Handle(999))
}
