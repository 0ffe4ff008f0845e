package testutil

import (
	"sync"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// RecordingSink keeps every published render command.
type RecordingSink struct {
	mu       sync.Mutex
	commands []domain.RenderCommand
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Publish records cmd.
func (s *RecordingSink) Publish(cmd domain.RenderCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

// Commands returns a copy of everything published so far.
func (s *RecordingSink) Commands() []domain.RenderCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RenderCommand(nil), s.commands...)
}

// Last returns the most recent command.
func (s *RecordingSink) Last() (domain.RenderCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return domain.RenderCommand{}, false
	}
	return s.commands[len(s.commands)-1], true
}

// Presented returns only present commands.
func (s *RecordingSink) Presented() []domain.RenderCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RenderCommand
	for _, c := range s.commands {
		if c.Type == domain.RenderPresent {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded commands.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}
