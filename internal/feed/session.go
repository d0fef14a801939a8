package feed

import (
	"log/slog"
	"sync"

	"reelfeed/internal/cache"
	"reelfeed/internal/config"
	"reelfeed/internal/controller"
	"reelfeed/internal/download"
	"reelfeed/internal/logging"
	"reelfeed/internal/render"
	"reelfeed/internal/selector"
	"reelfeed/internal/services"
	"reelfeed/internal/transcode"
)

// ItemRef is one entry of the scrolling feed: a stable asset identifier, the
// remote reference it was derived from, and a display title.
type ItemRef struct {
	AssetID   string
	RemoteRef string
	Title     string
}

// Deps carries the collaborators shared by every slot controller of a
// session. CurrentUserID is the opaque identity getter consumed as-is.
type Deps struct {
	Store    *cache.Store
	Resolver download.Resolver
	Fetcher  *download.Fetcher
	Pipeline *transcode.Pipeline
	Factory  render.Factory
	Logger   *slog.Logger

	OnReady       func(slot int, assetID string)
	OnFailed      func(slot int, assetID string, err error)
	CurrentUserID func() string
}

// Session maps an ordered item list onto a fixed pool of recyclable slot
// controllers. The pool holds the frontmost item plus a resolution window of
// neighbors on each side; scrolling recycles the slot that falls out of the
// window for the item entering it.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger
	sel    *selector.Selector
	coord  *download.Coordinator
	pool   []*controller.Controller
	window int
	userID func() string

	mu        sync.Mutex
	items     []ItemRef
	frontmost int
	closed    bool
}

// NewSession builds the controller pool. Pool size is one slot per window
// position: the frontmost item plus WindowSize neighbors on each side.
func NewSession(cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Pipeline == nil || deps.Factory == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feed", "new session", "missing collaborator", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = download.IdentityResolver()
	}

	s := &Session{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "feed"),
		sel:    selector.New(cfg.Playback.StartMuted),
		coord:  download.NewCoordinator(),
		window: cfg.Playback.WindowSize,
		userID: deps.CurrentUserID,
	}

	poolSize := s.window*2 + 1
	s.pool = make([]*controller.Controller, poolSize)
	for slot := 0; slot < poolSize; slot++ {
		slot := slot
		var onReady func(string)
		if deps.OnReady != nil {
			onReady = func(assetID string) { deps.OnReady(slot, assetID) }
		}
		var onFailed func(string, error)
		if deps.OnFailed != nil {
			onFailed = func(assetID string, err error) { deps.OnFailed(slot, assetID, err) }
		}
		s.pool[slot] = controller.New(slot, cfg, controller.Deps{
			Store:       deps.Store,
			Coordinator: s.coord,
			Resolver:    resolver,
			Fetcher:     deps.Fetcher,
			Pipeline:    deps.Pipeline,
			Selector:    s.sel,
			Factory:     deps.Factory,
			Logger:      logger,
			OnReady:     onReady,
			OnFailed:    onFailed,
		})
	}
	return s, nil
}

// Selector exposes the session's playback selector for mute and play/pause
// controls.
func (s *Session) Selector() *selector.Selector { return s.sel }

// CurrentUserID returns the identity of the viewing user, or the empty
// string when no identity getter was supplied.
func (s *Session) CurrentUserID() string {
	if s.userID == nil {
		return ""
	}
	return s.userID()
}

// Items returns the current item list.
func (s *Session) Items() []ItemRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ItemRef, len(s.items))
	copy(out, s.items)
	return out
}

// Frontmost returns the index of the item currently intended to play.
func (s *Session) Frontmost() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontmost
}

// SetItems replaces the feed content and re-applies the resolution window
// around the current frontmost position.
func (s *Session) SetItems(items []ItemRef) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.items = make([]ItemRef, len(items))
	copy(s.items, items)
	index := s.frontmost
	s.mu.Unlock()
	s.OnFrontmostSlotChanged(index)
}

// OnFrontmostSlotChanged is the viewport tracker entry point. It records the
// new frontmost index, points the selector at that item's asset, binds every
// slot inside the window, and unbinds slots that fell out of it.
func (s *Session) OnFrontmostSlotChanged(index int) {
	s.mu.Lock()
	if s.closed || len(s.items) == 0 {
		s.mu.Unlock()
		return
	}
	if index < 0 {
		index = 0
	}
	if index >= len(s.items) {
		index = len(s.items) - 1
	}
	s.frontmost = index
	items := s.items
	s.mu.Unlock()

	current := items[index]
	s.sel.SetCurrentAsset(current.AssetID, index)
	s.logger.Info("frontmost item changed",
		logging.Int("index", index),
		logging.String(logging.FieldAssetID, current.AssetID),
		logging.String("title", current.Title))

	poolSize := len(s.pool)
	desired := make(map[int]ItemRef, poolSize)
	order := make([]int, 0, poolSize)
	// Center first so the frontmost item resolves before its neighbors.
	for offset := 0; offset <= s.window; offset++ {
		for _, i := range []int{index + offset, index - offset} {
			if i < 0 || i >= len(items) {
				continue
			}
			slot := i % poolSize
			if _, seen := desired[slot]; seen {
				continue
			}
			desired[slot] = items[i]
			order = append(order, slot)
		}
	}

	for _, slot := range order {
		item := desired[slot]
		if err := s.pool[slot].Bind(item.AssetID, item.RemoteRef); err != nil {
			s.logger.Warn("slot bind failed",
				logging.Int(logging.FieldSlot, slot),
				logging.String(logging.FieldAssetID, item.AssetID),
				logging.Error(err))
		}
	}
	for slot, c := range s.pool {
		if _, keep := desired[slot]; keep {
			continue
		}
		if err := c.Unbind(); err != nil {
			s.logger.Warn("slot unbind failed",
				logging.Int(logging.FieldSlot, slot), logging.Error(err))
		}
	}
}

// SetMuted toggles the process-wide mute flag.
func (s *Session) SetMuted(muted bool) { s.sel.SetMuted(muted) }

// SetPlaying toggles the process-wide play intent.
func (s *Session) SetPlaying(playing bool) { s.sel.SetPlaying(playing) }

// ControllerForItem returns the controller serving the given item index, or
// nil when the index maps outside the pool.
func (s *Session) ControllerForItem(index int) *controller.Controller {
	if index < 0 || len(s.pool) == 0 {
		return nil
	}
	return s.pool[index%len(s.pool)]
}

// Close tears down every slot and releases their cached files. Safe to call
// repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, c := range s.pool {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
