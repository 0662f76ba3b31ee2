package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01

	// Keyboard key pressed.
	// Data: *KeyEvent
	EVENT_CODE_KEY_PRESSED EventCode = 0x02

	// Keyboard key released.
	// Data: *KeyEvent
	EVENT_CODE_KEY_RELEASED EventCode = 0x03

	// Resized/resolution changed from the OS.
	// Data: *SystemEvent
	EVENT_CODE_RESIZED EventCode = 0x08

	// The configuration file changed on disk and was reloaded.
	// Data: the new configuration value
	EVENT_CODE_CONFIG_RELOADED EventCode = 0x09

	MAX_EVENT_CODE EventCode = 0xFF
)

// KeyCode is the platform-independent key identifier carried by key events.
type KeyCode uint16

const (
	KEY_ESCAPE KeyCode = 0x1B
	KEY_V      KeyCode = 0x56
)

type KeyEvent struct {
	KeyCode KeyCode
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

type EventContext struct {
	Type EventCode
	Data interface{}
}

// FnOnEvent is invoked for every fired event of the registered code.
type FnOnEvent func(context EventContext)

const eventQueueSize = 256

type eventSystemState struct {
	mu         sync.RWMutex
	registered map[EventCode][]FnOnEvent
	queue      chan EventContext
	closed     bool
}

var onceEvent sync.Once
var eventState *eventSystemState = nil

func EventSystemInitialize() bool {
	initialized := false
	onceEvent.Do(func() {
		eventState = &eventSystemState{
			registered: make(map[EventCode][]FnOnEvent),
			queue:      make(chan EventContext, eventQueueSize),
		}
		initialized = true
	})
	return initialized
}

func EventSystemShutdown() error {
	if eventState == nil {
		return nil
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()
	eventState.closed = true
	eventState.registered = make(map[EventCode][]FnOnEvent)
	for {
		select {
		case <-eventState.queue:
		default:
			return nil
		}
	}
}

// EventRegister adds a listener for the code. Listeners are called in
// registration order.
func EventRegister(code EventCode, onEvent FnOnEvent) bool {
	if eventState == nil || onEvent == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()
	eventState.registered[code] = append(eventState.registered[code], onEvent)
	return true
}

// EventFire queues an event for DispatchPending. It never blocks: when the
// queue is full the event is dropped and false is returned.
func EventFire(context EventContext) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.RLock()
	closed := eventState.closed
	eventState.mu.RUnlock()
	if closed {
		return false
	}
	select {
	case eventState.queue <- context:
		return true
	default:
		LogWarn("event queue full, dropping event code `%d`", context.Type)
		return false
	}
}

// DispatchPending delivers every event currently queued and returns how many
// were delivered.
func DispatchPending() int {
	if eventState == nil {
		return 0
	}
	n := 0
	for {
		select {
		case ev := <-eventState.queue:
			dispatch(ev)
			n++
		default:
			return n
		}
	}
}

func dispatch(ev EventContext) {
	eventState.mu.RLock()
	listeners := eventState.registered[ev.Type]
	eventState.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
