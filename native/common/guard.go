package common

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrModulePaused is returned when an operation targets an
	// administratively paused module.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when an entry point is invoked while
	// another guarded operation is still executing.
	ErrReentrantCall = errors.New("reentrant call rejected")
)

// PauseView reports the administrative pause state per module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallGuard is the shared re-entrancy flag covering the settlement and farming
// entry points. It is a backstop behind the checks-effects-interactions
// ordering those engines already follow: while one guarded operation runs, any
// nested call back into a guarded entry point fails with ErrReentrantCall.
type CallGuard struct {
	mu     sync.Mutex
	active string
}

// NewCallGuard returns an idle guard.
func NewCallGuard() *CallGuard {
	return &CallGuard{}
}

// Enter marks the guard as held by the named operation. It fails if another
// operation already holds it.
func (g *CallGuard) Enter(op string) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != "" {
		return fmt.Errorf("%w: %s blocked by %s", ErrReentrantCall, op, g.active)
	}
	g.active = op
	return nil
}

// Exit releases the guard. Calling Exit without a matching Enter is a no-op.
func (g *CallGuard) Exit() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = ""
}
