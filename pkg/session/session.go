// Package session is the authoring layer above the step store. It owns the
// model metadata, refuses edits while viewer mode is on, and moves documents
// in and out of saved-model storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/persist"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// DefaultTitle is the title of a new or cleared model.
const DefaultTitle = "Untitled Model"

// ErrViewerMode is returned by edits attempted while viewer mode is on.
var ErrViewerMode = errors.New("model is in viewer mode")

// Session is not safe for concurrent use.
type Session struct {
	store  *stepgraph.Store
	models persist.Gateway

	title       string
	description string
}

// New wraps store. models may be nil, in which case the save/load
// operations report an error.
func New(store *stepgraph.Store, models persist.Gateway) *Session {
	return &Session{
		store:  store,
		models: models,
		title:  DefaultTitle,
	}
}

// Store exposes the underlying store for reads. Mutating it directly
// bypasses the viewer-mode gate.
func (s *Session) Store() *stepgraph.Store {
	return s.store
}

// Title returns the model title.
func (s *Session) Title() string { return s.title }

// Description returns the model description.
func (s *Session) Description() string { return s.description }

// ViewerMode reports whether edits are currently refused.
func (s *Session) ViewerMode() bool { return s.store.ViewerMode() }

func (s *Session) editable() error {
	if s.store.ViewerMode() {
		return ErrViewerMode
	}
	return nil
}

// UpdateMetadata sets the title and description.
func (s *Session) UpdateMetadata(title, description string) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.title = title
	s.description = description
	return nil
}

func (s *Session) AddStep() (stepgraph.NodeID, error) {
	if err := s.editable(); err != nil {
		return "", err
	}
	return s.store.AddStep(), nil
}

func (s *Session) UpdateStep(id stepgraph.NodeID, patch stepgraph.NodePatch) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.store.UpdateStep(id, patch)
}

func (s *Session) DeleteStep(id stepgraph.NodeID) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.store.DeleteStep(id)
	return nil
}

func (s *Session) AddSubStep(parentID stepgraph.NodeID) (stepgraph.NodeID, error) {
	if err := s.editable(); err != nil {
		return "", err
	}
	return s.store.AddSubStep(parentID)
}

func (s *Session) UpdateSubStep(parentID, id stepgraph.NodeID, patch stepgraph.NodePatch) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.store.UpdateSubStep(parentID, id, patch)
}

func (s *Session) DeleteSubStep(parentID, id stepgraph.NodeID) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.store.DeleteSubStep(parentID, id)
	return nil
}

// DeleteNode deletes a step or a sub-step, whichever id names.
func (s *Session) DeleteNode(id stepgraph.NodeID) error {
	if err := s.editable(); err != nil {
		return err
	}
	n, ok := s.store.Node(id)
	if !ok {
		return nil
	}
	if n.IsStep() {
		s.store.DeleteStep(id)
	} else {
		s.store.DeleteSubStep(n.ParentID, id)
	}
	return nil
}

func (s *Session) AddConnection(from, to stepgraph.NodeID, description string) (stepgraph.ConnectionID, error) {
	if err := s.editable(); err != nil {
		return "", err
	}
	return s.store.AddConnection(from, to, description)
}

func (s *Session) UpdateConnection(id stepgraph.ConnectionID, patch stepgraph.ConnectionPatch) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.store.UpdateConnection(id, patch)
}

func (s *Session) DeleteConnection(id stepgraph.ConnectionID) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.store.DeleteConnection(id)
	return nil
}

// SelectStep, NextStep and PreviousStep stay available in viewer mode;
// they are how a reader walks through the instructions.

func (s *Session) SelectStep(id stepgraph.NodeID) bool { return s.store.SelectStep(id) }
func (s *Session) NextStep() bool                      { return s.store.NextStep() }
func (s *Session) PreviousStep() bool                  { return s.store.PreviousStep() }
func (s *Session) ClearSelection()                     { s.store.ClearSelection() }

// SetViewerMode switches between authoring and viewing.
func (s *Session) SetViewerMode(on bool) {
	s.store.SetViewerMode(on)
}

// ToggleViewerMode flips viewer mode and returns the new value.
func (s *Session) ToggleViewerMode() bool {
	on := !s.store.ViewerMode()
	s.store.SetViewerMode(on)
	return on
}

// ClearModel discards the document and resets the metadata.
func (s *Session) ClearModel() error {
	if err := s.editable(); err != nil {
		return err
	}
	s.store.Clear()
	s.title = DefaultTitle
	s.description = ""
	return nil
}

// ReplaceDocument swaps in doc (for example one produced by a script) and
// sets the metadata. Selection and cursor follow Store.Load.
func (s *Session) ReplaceDocument(title, description string, doc stepgraph.Document) error {
	if err := s.editable(); err != nil {
		return err
	}
	if err := s.store.Load(doc); err != nil {
		return err
	}
	s.title = title
	s.description = description
	return nil
}

func (s *Session) gateway() (persist.Gateway, error) {
	if s.models == nil {
		return nil, errors.New("no saved-model storage configured")
	}
	return s.models, nil
}

// SaveModel stores the current document as a new saved model and returns
// its id. The title must not be blank and there must be at least one step.
// Saving is an edit and is refused in viewer mode.
func (s *Session) SaveModel(ctx context.Context) (string, error) {
	if err := s.editable(); err != nil {
		return "", err
	}
	if strings.TrimSpace(s.title) == "" {
		return "", stepgraph.ValidationError{Field: "title", Message: "enter a model title before saving"}
	}
	if len(s.store.StepIDs()) == 0 {
		return "", stepgraph.ValidationError{Field: "steps", Message: "add at least one step before saving"}
	}
	gw, err := s.gateway()
	if err != nil {
		return "", err
	}
	doc := s.store.Snapshot()
	id, err := gw.Save(ctx, persist.SavedModel{
		Title:       s.title,
		Description: s.description,
		Steps:       doc.Steps,
		Connections: doc.Connections,
	})
	if err != nil {
		return "", fmt.Errorf("save model: %w", err)
	}
	ctxlog.FromContext(ctx).Info("model saved", "id", id, "title", s.title, "steps", len(doc.Steps))
	return id, nil
}

// LoadModel replaces the document with a saved model. The first step is
// selected, new steps continue after the last one and viewer mode is
// turned off. An unknown id returns persist.ErrNotFound and changes
// nothing.
func (s *Session) LoadModel(ctx context.Context, id string) error {
	gw, err := s.gateway()
	if err != nil {
		return err
	}
	m, err := gw.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Load(m.Document()); err != nil {
		return fmt.Errorf("load model %s: %w", id, err)
	}
	s.title = m.Title
	s.description = m.Description
	ctxlog.FromContext(ctx).Info("model loaded", "model", m)
	return nil
}

// DeleteModel removes a saved model. The open document is not affected.
func (s *Session) DeleteModel(ctx context.Context, id string) error {
	gw, err := s.gateway()
	if err != nil {
		return err
	}
	return gw.Delete(ctx, id)
}

// ListModels returns the saved models in save order.
func (s *Session) ListModels(ctx context.Context) ([]persist.SavedModel, error) {
	gw, err := s.gateway()
	if err != nil {
		return nil, err
	}
	return gw.List(ctx)
}
