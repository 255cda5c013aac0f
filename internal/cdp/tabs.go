package cdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// TabContext is an attached page target.
type TabContext struct {
	ID      target.ID
	URL     string
	Shadow  bool
	Context tracking.ContextHandle

	ctx    context.Context
	cancel context.CancelFunc
}

// TabRegistry maps CDP target IDs to attached tabs and shadow contexts.
type TabRegistry struct {
	tabs    map[target.ID]*TabContext
	shadows map[tracking.ContextHandle]*TabContext
	mu      sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		tabs:    make(map[target.ID]*TabContext),
		shadows: make(map[tracking.ContextHandle]*TabContext),
	}
}

// Register stores tab unless its id is already attached. It reports whether
// the tab was added.
func (r *TabRegistry) Register(tab *TabContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tabs[tab.ID]; ok {
		return false
	}
	r.tabs[tab.ID] = tab
	if tab.Shadow {
		r.shadows[tab.Context] = tab
	}
	return true
}

func (r *TabRegistry) Get(targetID target.ID) (*TabContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[targetID]
	return tab, ok
}

func (r *TabRegistry) GetByStringID(tabID string) (*TabContext, bool) {
	return r.Get(target.ID(tabID))
}

func (r *TabRegistry) Shadow(handle tracking.ContextHandle) (*TabContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.shadows[handle]
	return tab, ok
}

func (r *TabRegistry) SetURL(targetID target.ID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tab, ok := r.tabs[targetID]; ok {
		tab.URL = url
	}
}

// Remove detaches the tab and returns it.
func (r *TabRegistry) Remove(targetID target.ID) (*TabContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[targetID]
	if !ok {
		return nil, false
	}
	delete(r.tabs, targetID)
	if tab.Shadow {
		delete(r.shadows, tab.Context)
	}
	return tab, true
}

// Drain removes every tab, for shutdown.
func (r *TabRegistry) Drain() []*TabContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TabContext, 0, len(r.tabs))
	for _, tab := range r.tabs {
		out = append(out, tab)
	}
	r.tabs = make(map[target.ID]*TabContext)
	r.shadows = make(map[tracking.ContextHandle]*TabContext)
	return out
}

func (r *TabRegistry) Count() (origins, shadows int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs) - len(r.shadows), len(r.shadows)
}
