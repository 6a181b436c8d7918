package agent

import (
	"context"
	"sync"

	"github.com/dkeye/Interview/internal/domain"
	"github.com/rs/zerolog/log"
)

type Runner interface {
	Run(ctx context.Context) error
}

// Launcher keeps at most one agent per room alive.
type Launcher struct {
	ctx      context.Context
	cancel   context.CancelFunc
	newAgent func(domain.RoomID) (Runner, error)

	mu      sync.Mutex
	running map[domain.RoomID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewLauncher(ctx context.Context, newAgent func(domain.RoomID) (Runner, error)) *Launcher {
	ctx, cancel := context.WithCancel(ctx)
	return &Launcher{
		ctx:      ctx,
		cancel:   cancel,
		newAgent: newAgent,
		running:  make(map[domain.RoomID]context.CancelFunc),
	}
}

// LauncherFor builds agents for any room from a template config.
func LauncherFor(ctx context.Context, tmpl Config, opts ...Option) *Launcher {
	return NewLauncher(ctx, func(room domain.RoomID) (Runner, error) {
		cfg := tmpl
		cfg.Room = room
		return New(cfg, opts...)
	})
}

// Launch starts an agent for room unless one is already running. It does
// not block.
func (l *Launcher) Launch(room domain.RoomID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	if _, ok := l.running[room]; ok {
		return false
	}
	a, err := l.newAgent(room)
	if err != nil {
		log.Error().Str("module", "agent.launcher").Str("room", string(room)).Err(err).Msg("create agent")
		return false
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.running[room] = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		log.Info().Str("module", "agent.launcher").Str("room", string(room)).Msg("agent started")
		if err := a.Run(ctx); err != nil {
			log.Warn().Str("module", "agent.launcher").Str("room", string(room)).Err(err).Msg("agent stopped")
		} else {
			log.Info().Str("module", "agent.launcher").Str("room", string(room)).Msg("agent stopped")
		}
		l.mu.Lock()
		delete(l.running, room)
		l.mu.Unlock()
	}()
	return true
}

func (l *Launcher) Running(room domain.RoomID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[room]
	return ok
}

// Stop cancels every agent and waits for them to leave their rooms.
func (l *Launcher) Stop() {
	l.mu.Lock()
	l.cancel()
	l.mu.Unlock()
	l.wg.Wait()
}
