package process

import (
	"context"
	"sync"
)

// Fake is an in-memory Runner. Handler decides the outcome of each call;
// every command is recorded in Calls.
type Fake struct {
	Handler func(cmd Command) (Output, error)

	mu    sync.Mutex
	calls []Command
}

func (f *Fake) Run(_ context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.Handler == nil {
		return Output{}, nil
	}
	return f.Handler(cmd)
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}
