package trust

import (
	"os"
	"sync"
)

// IDEWorkspaceTrustEnv carries the IDE's workspace trust decision ("true" / "false").
const IDEWorkspaceTrustEnv = "MCPCREDS_IDE_WORKSPACE_TRUST"

// LookupEnvFunc matches the signature of os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// EnvOverride reads IDEWorkspaceTrustEnv. Anything other than "true" or "false" is Unset.
func EnvOverride(lookup LookupEnvFunc) Verdict {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, _ := lookup(IDEWorkspaceTrustEnv)
	switch value {
	case "true":
		return Trusted
	case "false":
		return Untrusted
	}
	return Unset
}

// IDEOverride combines the live IDE notifications with the environment. A value
// published on n wins over the environment variable.
func IDEOverride(n *Notifier, lookup LookupEnvFunc) OverrideFunc {
	return func() Verdict {
		if n != nil {
			if v := n.Current(); v != Unset {
				return v
			}
		}
		return EnvOverride(lookup)
	}
}

// Notifier fans out IDE trust changes to subscribers and remembers the latest one.
type Notifier struct {
	mu        sync.Mutex
	listeners map[uint64]func(trusted bool)
	nextID    uint64
	current   Verdict
}

// NewNotifier creates a Notifier without a published value.
func NewNotifier() *Notifier {
	return &Notifier{listeners: map[uint64]func(bool){}}
}

// Subscribe registers fn for every subsequent Publish. The returned function
// removes the registration and is safe to call more than once.
func (n *Notifier) Subscribe(fn func(trusted bool)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

// Publish records trusted and calls every subscriber. Subscribers run on the
// caller's goroutine, outside the lock.
func (n *Notifier) Publish(trusted bool) {
	n.mu.Lock()
	n.current = VerdictOf(trusted)
	listeners := make([]func(bool), 0, len(n.listeners))
	for _, fn := range n.listeners {
		listeners = append(listeners, fn)
	}
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(trusted)
	}
}

// Current returns the last published value, or Unset.
func (n *Notifier) Current() Verdict {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
