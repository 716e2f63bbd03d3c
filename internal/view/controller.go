package view

import (
	"sync"

	"runview/internal/feed"
	"runview/internal/model"
	"runview/internal/store"
)

// FilterPatch is a partial filter update. A nil axis leaves the current
// selection on that axis untouched; a present axis replaces it wholesale.
// Levels are given as display strings ("INFO", "ERROR").
type FilterPatch struct {
	Levels *[]string `json:"levels,omitempty"`
	Tasks  *[]string `json:"tasks,omitempty"`
}

// Controller owns the filter selection and the feed subscription for one
// run's view session, and exposes the final filtered, derived sequence.
type Controller struct {
	runID    string
	pipeline model.Pipeline
	store    *store.Store
	colors   TaskColorMap

	mu     sync.Mutex
	filter FilterState
	status model.RunStatus
	sub    feed.Subscription
	closed bool
}

// NewController builds the session: colors are assigned once from the
// pipeline definition, and every payload the feed delivers for the run's
// topic is forwarded to the store.
func NewController(runID string, pipeline model.Pipeline, st *store.Store, f feed.Feed) (*Controller, error) {
	c := &Controller{
		runID:    runID,
		pipeline: pipeline,
		store:    st,
		colors:   AssignColors(pipeline.Tasks),
	}

	sub, err := f.Subscribe(feed.Topic(runID), st.Append)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

// RunID returns the run this session views.
func (c *Controller) RunID() string { return c.runID }

// Pipeline returns the owning pipeline definition (filter option source).
func (c *Controller) Pipeline() model.Pipeline { return c.pipeline }

// Store returns the session's reconciliation store.
func (c *Controller) Store() *store.Store { return c.store }

// SetFilter shallow-merges the patch into the current filter state:
// each present axis is replaced, each absent axis is preserved.
func (c *Controller) SetFilter(patch FilterPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if patch.Levels != nil {
		levels := make(map[uint8]struct{}, len(*patch.Levels))
		for _, l := range *patch.Levels {
			levels[model.EncodeLevel(l)] = struct{}{}
		}
		c.filter.Levels = levels
	}
	if patch.Tasks != nil {
		tasks := make(map[string]struct{}, len(*patch.Tasks))
		for _, id := range *patch.Tasks {
			tasks[id] = struct{}{}
		}
		c.filter.Tasks = tasks
	}
}

// Filter returns the active filter state.
func (c *Controller) Filter() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Rows returns the filtered, derived sequence, or the store's fetch
// failure. The canonical collection is never mutated on this path.
func (c *Controller) Rows() ([]Row, error) {
	records, err := c.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return Derive(Apply(records, c.Filter()), c.colors), nil
}

// SetStatus records the run's externally reported status.
func (c *Controller) SetStatus(status model.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Status returns the last reported run status.
func (c *Controller) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Live reports whether the live indicator should show: true only while
// the run status is in the in-progress set.
func (c *Controller) Live() bool {
	return c.Status().InProgress()
}

// Close tears the session down: the subscription is released
// unconditionally and the store stops honoring appends. Safe to call
// more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.store.Close()
}
