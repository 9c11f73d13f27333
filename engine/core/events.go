package core

import "sync"

type EventContext struct {
	Data struct {
		U32 [4]uint32
		U64 [2]uint64
		C   [2]string
	}
	Err error
}

// System internal event codes.
type SystemEventCode int

const (
	// The host device reported loss and a reset was started.
	/* Context usage:
	 * u32 context_id = data.U32[0];
	 */
	EVENT_CODE_DEVICE_LOST SystemEventCode = 0x01

	// Host display mode changed and every context was reset.
	/* Context usage:
	 * u32 reset_contexts = data.U32[0];
	 */
	EVENT_CODE_MODE_CHANGED SystemEventCode = 0x02

	// A surface was created with the fallback usage set.
	/* Context usage:
	 * u32 sid = data.U32[0];
	 * u32 cid = data.U32[1];
	 */
	EVENT_CODE_SURFACE_DEGRADED SystemEventCode = 0x03

	// A context was destroyed.
	/* Context usage:
	 * u32 cid = data.U32[0];
	 */
	EVENT_CODE_CONTEXT_DESTROYED SystemEventCode = 0x04

	// Configuration file was reloaded.
	/* Context usage:
	 * string path = data.C[0];
	 */
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x05

	// A surface dump was written.
	/* Context usage:
	 * u32 sid = data.U32[0];
	 * string path = data.C[0];
	 */
	EVENT_CODE_SURFACE_DUMPED SystemEventCode = 0x06

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

// EventBus dispatches synchronously on the goroutine that fires.
type EventBus struct {
	mu         sync.RWMutex
	registered [MAX_EVENT_CODE + 1][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return false.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Can be nil.
 * @param onEvent The callback function to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code > MAX_EVENT_CODE || onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code.
 * @returns true if the event is successfully unregistered; otherwise false.
 */
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	if code < 0 || code > MAX_EVENT_CODE {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	if code < 0 || code > MAX_EVENT_CODE {
		return false
	}
	b.mu.RLock()
	events := make([]*registeredEvent, len(b.registered[code]))
	copy(events, b.registered[code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}
