package wall

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// fakePlatforms is a controllable stand-in for the real players: channels
// are live or not, and Init can be made to fail per id.
type fakePlatforms struct {
	mu       sync.Mutex
	live     map[string]bool
	initErr  map[string]error
	created  []*fakeHandle
	queryErr error
}

func newFakePlatforms(live ...string) *fakePlatforms {
	f := &fakePlatforms{live: map[string]bool{}, initErr: map[string]error{}}
	for _, l := range live {
		f.live[l] = true
	}
	return f
}

func (f *fakePlatforms) setLive(id string, live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = live
}

func (f *fakePlatforms) isLive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

func (f *fakePlatforms) handles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.created...)
}

func (f *fakePlatforms) factory(p Platform) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{platform: p, owner: f}
	f.created = append(f.created, h)
	return h, nil
}

type fakeHandle struct {
	platform Platform
	owner    *fakePlatforms

	mu        sync.Mutex
	id        string
	paused    bool
	destroyed bool
}

func (h *fakeHandle) Platform() Platform { return h.platform }

func (h *fakeHandle) Init(ctx context.Context, id string) error {
	h.owner.mu.Lock()
	err := h.owner.initErr[id]
	h.owner.mu.Unlock()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
	return ctx.Err()
}

func (h *fakeHandle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
}

func (h *fakeHandle) isDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func (h *fakeHandle) Playback(context.Context) (Playback, error) {
	h.owner.mu.Lock()
	qerr := h.owner.queryErr
	h.owner.mu.Unlock()
	if qerr != nil {
		return Playback{}, qerr
	}
	h.mu.Lock()
	id, paused, destroyed := h.id, h.paused, h.destroyed
	h.mu.Unlock()
	if destroyed {
		return Playback{}, errors.New("query on destroyed handle")
	}
	live := h.owner.isLive(id)
	return Playback{Paused: paused || !live, Ended: !live}, nil
}

func (h *fakeHandle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *fakeHandle) Pause(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

// liveResolver answers from a fakePlatforms, the way the proxy would.
type liveResolver struct {
	platforms   *fakePlatforms
	suggestions []Suggestion

	mu          sync.Mutex
	familyCalls int
	hostCalls   int
}

func (r *liveResolver) CheckMainAndFamily(_ context.Context, main string, family []string) FamilyCheck {
	r.mu.Lock()
	r.familyCalls++
	r.mu.Unlock()
	res := FamilyCheck{OK: true, MainLive: r.platforms.isLive(main), Suggestions: r.suggestions}
	if !res.MainLive {
		for _, f := range family {
			if r.platforms.isLive(strings.ToLower(f)) {
				res.LiveFamilyMember = &FamilyMember{Channel: f, DisplayName: f}
				break
			}
		}
	}
	return res
}

func (r *liveResolver) CheckHost(_ context.Context, main, host string) HostCheck {
	r.mu.Lock()
	r.hostCalls++
	r.mu.Unlock()
	return HostCheck{OK: true, MainLive: r.platforms.isLive(main), HostLive: r.platforms.isLive(host)}
}

// gatedResolver hands every family check to the test, which decides when and
// how it completes.
type gatedResolver struct {
	calls chan chan FamilyCheck
}

func (r *gatedResolver) CheckMainAndFamily(ctx context.Context, _ string, _ []string) FamilyCheck {
	reply := make(chan FamilyCheck, 1)
	select {
	case r.calls <- reply:
	case <-ctx.Done():
		return FamilyCheck{}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return FamilyCheck{}
	}
}

func (r *gatedResolver) CheckHost(context.Context, string, string) HostCheck { return HostCheck{} }

// hostLeftResolver offers bobstream for auto-hosting once; afterwards the
// hosted channel and the family are reported gone.
type hostLeftResolver struct {
	suggestions []Suggestion

	mu          sync.Mutex
	familyCalls int
	hostCalls   int
}

func (r *hostLeftResolver) CheckMainAndFamily(context.Context, string, []string) FamilyCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.familyCalls++
	if r.familyCalls == 1 {
		return FamilyCheck{OK: true, LiveFamilyMember: &FamilyMember{Channel: "bobstream", DisplayName: "Bob"}}
	}
	return FamilyCheck{OK: true, Suggestions: r.suggestions}
}

func (r *hostLeftResolver) CheckHost(context.Context, string, string) HostCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostCalls++
	return HostCheck{OK: true}
}

func (r *hostLeftResolver) calls() (family, host int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.familyCalls, r.hostCalls
}
