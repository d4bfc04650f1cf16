package player

import (
	"context"
	"sync"

	"github.com/cafu47/streamwall/wall"
)

// Memory is a handle whose state is whatever was last reported to it. It
// serves pages that observe their own player and tests.
type Memory struct {
	platform wall.Platform

	mu        sync.Mutex
	id        string
	pb        wall.Playback
	initErr   error
	destroyed bool
}

// NewMemory returns a Memory handle for p.
func NewMemory(p wall.Platform) *Memory {
	return &Memory{platform: p}
}

// FailInit makes the next Init return err.
func (m *Memory) FailInit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// ReportPlayback records the player's state as observed by the page.
func (m *Memory) ReportPlayback(pb wall.Playback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pb = pb
}

// ID returns the id passed to Init.
func (m *Memory) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Destroyed reports whether Destroy was called.
func (m *Memory) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Platform implements wall.Handle.
func (m *Memory) Platform() wall.Platform { return m.platform }

// Init implements wall.Handle.
func (m *Memory) Init(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		err := m.initErr
		m.initErr = nil
		return err
	}
	if m.destroyed {
		return ErrDestroyed
	}
	m.id = id
	return ctx.Err()
}

// Destroy implements wall.Handle.
func (m *Memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
}

// Playback implements wall.Handle.
func (m *Memory) Playback(context.Context) (wall.Playback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return wall.Playback{}, ErrDestroyed
	}
	return m.pb, nil
}

// Play implements wall.Handle.
func (m *Memory) Play(context.Context) error { return m.setPaused(false) }

// Pause implements wall.Handle.
func (m *Memory) Pause(context.Context) error { return m.setPaused(true) }

func (m *Memory) setPaused(p bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.pb.Paused = p
	return nil
}
