package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"cogentcore.org/core/math32"
	"github.com/samber/lo"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/chazu/stepcraft/pkg/camera"
	"github.com/chazu/stepcraft/pkg/config"
	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/engine"
	"github.com/chazu/stepcraft/pkg/kernel"
	"github.com/chazu/stepcraft/pkg/kernel/sdfx"
	"github.com/chazu/stepcraft/pkg/persist"
	"github.com/chazu/stepcraft/pkg/scene"
	"github.com/chazu/stepcraft/pkg/session"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// EventStateChanged is emitted to the webview after every successful edit.
const EventStateChanged = "state:changed"

// App is the Wails backend. Its exported methods are the frontend bindings.
type App struct {
	ctx context.Context // set by startup; nil outside Wails
	log *slog.Logger

	mu        sync.Mutex
	session   *session.Session
	models    persist.Gateway
	engine    *engine.Engine
	projector *scene.Projector
	camera    *camera.Controller
}

// NavData drives the step counter and the previous/next buttons.
type NavData struct {
	Current     int  `json:"current"`
	Total       int  `json:"total"`
	CanPrevious bool `json:"canPrevious"`
	CanNext     bool `json:"canNext"`
}

// StateData is everything the side panels show.
type StateData struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Steps       []stepgraph.StepNode   `json:"steps"`
	Connections []stepgraph.Connection `json:"connections"`
	SelectedID  stepgraph.NodeID       `json:"selectedId"`
	ViewerMode  bool                   `json:"viewerMode"`
	Nav         NavData                `json:"nav"`
}

// ModelSummary is one row of the saved-models list.
type ModelSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Steps       int       `json:"steps"`
	SavedAt     time.Time `json:"savedAt"`
}

// EvalResult is returned by Evaluate. On success Scene holds the new
// document; otherwise Errors explains why the document was kept.
type EvalResult struct {
	Scene  scene.Frame        `json:"scene"`
	Errors []engine.EvalError `json:"errors"`
}

// NewApp wires a session, script engine, projector and camera from cfg.
// models may be nil, in which case save and load report an error.
func NewApp(cfg config.Config, models persist.Gateway, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	storeOpts := []stepgraph.Option{
		stepgraph.WithLayout(cfg.Layout),
		stepgraph.WithMaxDepth(cfg.MaxDepth),
	}

	var k kernel.Kernel
	if cfg.Render.Meshes {
		k = sdfx.New(sdfx.WithMeshCells(cfg.Render.MeshCells))
	}

	store := stepgraph.NewStore(append(storeOpts, stepgraph.WithLogger(logger))...)
	return &App{
		log:     logger,
		session: session.New(store, models),
		models:  models,
		engine: engine.NewEngine(
			engine.WithTimeout(cfg.Script.Timeout()),
			engine.WithStoreOptions(storeOpts...),
		),
		projector: scene.NewProjector(k),
		camera:    camera.NewController(cfg.Camera.Offset, cfg.Camera.Damping),
	}
}

// startup is called by Wails on app startup. The context is kept for
// runtime events.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctxlog.WithLogger(ctx, a.log)
	a.log.Info("stepcraft started")
}

// shutdown is called by Wails when the window closes.
func (a *App) shutdown(ctx context.Context) {
	if c, ok := a.models.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Error("close saved models", "err", err)
		}
	}
}

// requestCtx returns the context handed to storage and the engine.
func (a *App) requestCtx() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return ctxlog.WithLogger(context.Background(), a.log)
}

// emit notifies the webview. Outside Wails there is no runtime to call.
func (a *App) emit(st StateData) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, EventStateChanged, st)
}

// mutate runs fn under the lock and announces the new state on success.
func (a *App) mutate(op string, fn func() error) error {
	a.mu.Lock()
	err := fn()
	var st StateData
	if err == nil {
		st = a.stateLocked()
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Debug("edit rejected", "op", op, "err", err)
		return err
	}
	a.emit(st)
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// State returns the document, selection, mode and step counter.
func (a *App) State() StateData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *App) stateLocked() StateData {
	store := a.session.Store()
	doc := store.Snapshot()
	order := store.StepIDs()
	sel := store.Selected()
	current, total := store.Position()
	nav := stepgraph.Navigator{}
	return StateData{
		Title:       a.session.Title(),
		Description: a.session.Description(),
		Steps:       doc.Steps,
		Connections: doc.Connections,
		SelectedID:  sel,
		ViewerMode:  store.ViewerMode(),
		Nav: NavData{
			Current:     current,
			Total:       total,
			CanPrevious: nav.CanPrevious(order, sel),
			CanNext:     nav.CanNext(order, sel),
		},
	}
}

// Scene returns the drawable shapes and links, with meshes when rendering
// is enabled.
func (a *App) Scene() (scene.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := a.projector.Project(a.session.Store())
	if err != nil {
		a.log.Error("scene projection failed", "err", err)
		return scene.Frame{}, err
	}
	return f, nil
}

// CameraFrame advances the follow camera by one tick. The webview calls it
// from its animation loop.
func (a *App) CameraFrame() camera.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.camera.Tick(a.session.Store())
}

// SyncCamera reports the orbit camera's pose while viewer mode is off, so
// that following starts from it. It reports false in viewer mode.
func (a *App) SyncCamera(position, lookAt math32.Vector3) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.camera.Sync(a.session.Store(), position, lookAt)
}

// ---------------------------------------------------------------------------
// Editing
// ---------------------------------------------------------------------------

func (a *App) UpdateMetadata(title, description string) error {
	return a.mutate("update metadata", func() error { return a.session.UpdateMetadata(title, description) })
}

func (a *App) AddStep() (stepgraph.NodeID, error) {
	var id stepgraph.NodeID
	err := a.mutate("add step", func() (err error) {
		id, err = a.session.AddStep()
		return err
	})
	return id, err
}

func (a *App) UpdateStep(id stepgraph.NodeID, patch stepgraph.NodePatch) error {
	return a.mutate("update step", func() error { return a.session.UpdateStep(id, patch) })
}

func (a *App) DeleteStep(id stepgraph.NodeID) error {
	return a.mutate("delete step", func() error { return a.session.DeleteStep(id) })
}

func (a *App) AddSubStep(parentID stepgraph.NodeID) (stepgraph.NodeID, error) {
	var id stepgraph.NodeID
	err := a.mutate("add substep", func() (err error) {
		id, err = a.session.AddSubStep(parentID)
		return err
	})
	return id, err
}

func (a *App) UpdateSubStep(parentID, id stepgraph.NodeID, patch stepgraph.NodePatch) error {
	return a.mutate("update substep", func() error { return a.session.UpdateSubStep(parentID, id, patch) })
}

func (a *App) DeleteSubStep(parentID, id stepgraph.NodeID) error {
	return a.mutate("delete substep", func() error { return a.session.DeleteSubStep(parentID, id) })
}

// DeleteNode deletes the step or sub-step with the given id.
func (a *App) DeleteNode(id stepgraph.NodeID) error {
	return a.mutate("delete node", func() error { return a.session.DeleteNode(id) })
}

func (a *App) AddConnection(from, to stepgraph.NodeID, description string) (stepgraph.ConnectionID, error) {
	var id stepgraph.ConnectionID
	err := a.mutate("add connection", func() (err error) {
		id, err = a.session.AddConnection(from, to, description)
		return err
	})
	return id, err
}

func (a *App) UpdateConnection(id stepgraph.ConnectionID, patch stepgraph.ConnectionPatch) error {
	return a.mutate("update connection", func() error { return a.session.UpdateConnection(id, patch) })
}

func (a *App) DeleteConnection(id stepgraph.ConnectionID) error {
	return a.mutate("delete connection", func() error { return a.session.DeleteConnection(id) })
}

// ClearModel discards the document and resets the metadata.
func (a *App) ClearModel() error {
	return a.mutate("clear", a.session.ClearModel)
}

// ---------------------------------------------------------------------------
// Selection and viewing
// ---------------------------------------------------------------------------

// SelectStep selects a step or sub-step and reports whether it exists.
func (a *App) SelectStep(id stepgraph.NodeID) bool {
	var ok bool
	_ = a.mutate("select", func() error {
		ok = a.session.SelectStep(id)
		return nil
	})
	return ok
}

func (a *App) NextStep() bool {
	var ok bool
	_ = a.mutate("next", func() error {
		ok = a.session.NextStep()
		return nil
	})
	return ok
}

func (a *App) PreviousStep() bool {
	var ok bool
	_ = a.mutate("previous", func() error {
		ok = a.session.PreviousStep()
		return nil
	})
	return ok
}

func (a *App) ClearSelection() {
	_ = a.mutate("clear selection", func() error {
		a.session.ClearSelection()
		return nil
	})
}

func (a *App) SetViewerMode(on bool) {
	_ = a.mutate("viewer mode", func() error {
		a.session.SetViewerMode(on)
		return nil
	})
}

// ToggleViewerMode flips viewer mode and returns the new value.
func (a *App) ToggleViewerMode() bool {
	var on bool
	_ = a.mutate("viewer mode", func() error {
		on = a.session.ToggleViewerMode()
		return nil
	})
	return on
}

// ---------------------------------------------------------------------------
// Saved models
// ---------------------------------------------------------------------------

// SaveModel stores the current document and returns the new model id.
func (a *App) SaveModel() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, err := a.session.SaveModel(a.requestCtx())
	if err != nil {
		a.log.Warn("save model failed", "err", err)
	}
	return id, err
}

// LoadModel replaces the document with a saved model.
func (a *App) LoadModel(id string) error {
	return a.mutate("load model", func() error {
		if err := a.session.LoadModel(a.requestCtx(), id); err != nil {
			a.log.Warn("load model failed", "id", id, "err", err)
			return err
		}
		return nil
	})
}

// DeleteModel removes a saved model; the open document is untouched.
func (a *App) DeleteModel(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.DeleteModel(a.requestCtx(), id)
}

// ListModels returns the saved models in save order.
func (a *App) ListModels() ([]ModelSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	models, err := a.session.ListModels(a.requestCtx())
	if err != nil {
		return nil, err
	}
	return lo.Map(models, func(m persist.SavedModel, _ int) ModelSummary {
		return ModelSummary{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Steps:       len(m.Steps),
			SavedAt:     m.SavedAt,
		}
	}), nil
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// Evaluate runs an authoring script and, when it succeeds, replaces the
// open document with the result. Metadata is kept. Script errors leave the
// document unchanged.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Scene:  scene.Frame{Shapes: []scene.Shape{}, Links: []scene.Link{}},
		Errors: []engine.EvalError{},
	}

	// Evaluation runs outside the lock; it can take up to the timeout.
	doc, evalErrs, err := a.engine.Evaluate(a.requestCtx(), source)
	if err != nil {
		a.log.Error("evaluate fatal error", "err", err)
		result.Errors = append(result.Errors, engine.EvalError{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		result.Errors = append(result.Errors, evalErrs...)
		return result
	}

	err = a.mutate("evaluate", func() error {
		return a.session.ReplaceDocument(a.session.Title(), a.session.Description(), *doc)
	})
	if err != nil {
		result.Errors = append(result.Errors, engine.EvalError{Message: err.Error()})
		return result
	}

	frame, err := a.Scene()
	if err != nil {
		result.Errors = append(result.Errors, engine.EvalError{Message: "scene failed: " + err.Error()})
		return result
	}
	result.Scene = frame
	return result
}
