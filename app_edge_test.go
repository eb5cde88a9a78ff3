package main

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"cogentcore.org/core/math32"

	"github.com/chazu/stepcraft/pkg/config"
	"github.com/chazu/stepcraft/pkg/persist"
	"github.com/chazu/stepcraft/pkg/session"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// ---------------------------------------------------------------------------
// 1. Empty state: slices are non-nil so JSON carries [] rather than null.
// ---------------------------------------------------------------------------

func TestEmptyStateExtended(t *testing.T) {
	app := newTestApp(t, false)

	st := app.State()
	if st.Title != session.DefaultTitle {
		t.Errorf("title = %q, want %q", st.Title, session.DefaultTitle)
	}
	if st.Steps == nil || st.Connections == nil {
		t.Error("Steps and Connections should be non-nil empty slices")
	}
	if st.Nav != (NavData{}) {
		t.Errorf("expected zero nav, got %+v", st.Nav)
	}

	result := app.Evaluate("")
	if result.Errors == nil || result.Scene.Shapes == nil || result.Scene.Links == nil {
		t.Error("EvalResult slices should be non-nil")
	}
}

// ---------------------------------------------------------------------------
// 2. Script errors carry a message and, for parse errors, ideally a line.
// ---------------------------------------------------------------------------

func TestSyntaxErrorWithLineInfo(t *testing.T) {
	app := newTestApp(t, false)

	// Valid code on line 1, broken code on line 2 so line info is meaningful.
	result := app.Evaluate("(step)\n(step :title \"x\"")
	if len(result.Errors) == 0 {
		t.Fatal("expected at least one eval error for unmatched parens")
	}
	e := result.Errors[0]
	if e.Message == "" {
		t.Error("syntax error should have a non-empty message")
	}
	if e.Line > 0 {
		t.Logf("extracted line info: line=%d, message=%q", e.Line, e.Message)
	}
}

func TestBuiltinErrorReported(t *testing.T) {
	app := newTestApp(t, false)
	result := app.Evaluate(`(step :color "not-a-color")`)
	if len(result.Errors) == 0 {
		t.Fatal("expected an error for an invalid color")
	}
	if !strings.Contains(result.Errors[0].Message, "color") {
		t.Errorf("unexpected message %q", result.Errors[0].Message)
	}
}

func TestCommentsOnly(t *testing.T) {
	app := newTestApp(t, false)
	result := app.Evaluate(";; nothing here\n; still nothing\n")
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(result.Scene.Shapes) != 0 {
		t.Errorf("expected no shapes, got %d", len(result.Scene.Shapes))
	}
}

// ---------------------------------------------------------------------------
// 3. Rapid evaluation (debounce simulation): no panics, last good script wins.
// ---------------------------------------------------------------------------

func TestRapidEvaluationAlternating(t *testing.T) {
	// zygomys keeps global state that is not safe for concurrent sandbox
	// creation, so calls are sequential as they are in the editor.
	app := newTestApp(t, false)

	sources := []string{
		`(step)`,
		`(step :title "broken"`,
		``,
		`(connect 1 2)`,
		`(step) (step)`,
		`(+ 1 2)`,
		`;; just a comment`,
		`(undefined-func 1 2 3)`,
		`(step :title "a") (step :title "b") (step :title "c")`,
	}
	for i, source := range sources {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("iteration %d panicked on source %q: %v", i, source, r)
				}
			}()
			_ = app.Evaluate(source)
		}()
	}

	st := app.State()
	if len(st.Steps) != 3 || st.Steps[2].Title != "c" {
		t.Errorf("expected the last good script to win, got %+v", st.Steps)
	}
}

// ---------------------------------------------------------------------------
// 4. Viewer mode refuses edits but allows navigation.
// ---------------------------------------------------------------------------

func TestViewerModeGate(t *testing.T) {
	app := newTestApp(t, false)
	a, _ := app.AddStep()
	b, _ := app.AddStep()

	if !app.ToggleViewerMode() {
		t.Fatal("toggle should turn viewer mode on")
	}

	if _, err := app.AddStep(); !errors.Is(err, session.ErrViewerMode) {
		t.Errorf("AddStep in viewer mode: err = %v", err)
	}
	if err := app.DeleteStep(a); !errors.Is(err, session.ErrViewerMode) {
		t.Errorf("DeleteStep in viewer mode: err = %v", err)
	}
	if _, err := app.SaveModel(); !errors.Is(err, session.ErrViewerMode) {
		t.Errorf("SaveModel in viewer mode: err = %v", err)
	}
	if res := app.Evaluate(`(step)`); len(res.Errors) == 0 {
		t.Error("Evaluate in viewer mode should report an error")
	}

	if !app.PreviousStep() {
		t.Error("PreviousStep should work in viewer mode")
	}
	if got := app.State().SelectedID; got != a {
		t.Errorf("selected = %s, want %s", got, a)
	}
	if !app.NextStep() || app.State().SelectedID != b {
		t.Error("NextStep should move back to the second step")
	}
	if app.NextStep() {
		t.Error("NextStep at the last step should report false")
	}
	if len(app.State().Steps) != 2 {
		t.Error("viewer mode must not change the document")
	}
}

// ---------------------------------------------------------------------------
// 5. Camera follows the selection only in viewer mode.
// ---------------------------------------------------------------------------

func TestCameraFollowsSelection(t *testing.T) {
	app := newTestApp(t, false)
	app.AddStep()
	app.AddStep()

	before := app.CameraFrame()
	if before.Following {
		t.Error("camera should be inert outside viewer mode")
	}

	app.SetViewerMode(true)
	var last float32 = -1
	for i := 0; i < 200; i++ {
		f := app.CameraFrame()
		if !f.Following {
			t.Fatal("camera should follow in viewer mode")
		}
		last = f.Position.X
	}
	// Second step sits at x = 3; the resting point is offset by 5.
	if last < 7.9 || last > 8.1 {
		t.Errorf("camera x = %f, expected to settle near 8", last)
	}

	app.ClearSelection()
	held := app.CameraFrame()
	if held.Following || held.Position.X != last {
		t.Errorf("camera should hold with no selection, got %+v", held)
	}
}

func TestCameraFollowStartsFromOrbitPose(t *testing.T) {
	app := newTestApp(t, false)
	app.AddStep()
	app.UpdateMetadata("Shelf", "")
	id, err := app.SaveModel()
	if err != nil {
		t.Fatal(err)
	}

	orbit := math32.Vec3(50, 0, 0)
	if !app.SyncCamera(orbit, math32.Vec3(50, 0, -5)) {
		t.Fatal("SyncCamera should be accepted outside viewer mode")
	}
	if err := app.LoadModel(id); err != nil {
		t.Fatal(err)
	}
	if got := app.CameraFrame().Position; got != orbit {
		t.Errorf("loading moved the camera to %+v", got)
	}

	app.SetViewerMode(true)
	f := app.CameraFrame()
	if !f.Following {
		t.Fatal("camera should follow in viewer mode")
	}
	if d := f.Position.DistanceTo(orbit); d > 3 {
		t.Errorf("first followed frame jumped %f from the orbit pose", d)
	}
	if app.SyncCamera(math32.Vec3(0, 0, 0), math32.Vector3{}) {
		t.Error("SyncCamera should be refused in viewer mode")
	}
}

// ---------------------------------------------------------------------------
// 6. Saved models round trip through the bindings.
// ---------------------------------------------------------------------------

func TestSaveListLoadDelete(t *testing.T) {
	app := newTestApp(t, false)

	if _, err := app.SaveModel(); err == nil {
		t.Error("saving an empty model should fail")
	}

	if err := app.UpdateMetadata("Shelf", "two boards"); err != nil {
		t.Fatal(err)
	}
	a, _ := app.AddStep()
	b, _ := app.AddStep()
	if _, err := app.AddConnection(a, b, "then"); err != nil {
		t.Fatal(err)
	}
	id, err := app.SaveModel()
	if err != nil {
		t.Fatalf("SaveModel: %v", err)
	}

	models, err := app.ListModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].ID != id || models[0].Steps != 2 || models[0].Title != "Shelf" {
		t.Fatalf("unexpected list %+v", models)
	}

	if err := app.ClearModel(); err != nil {
		t.Fatal(err)
	}
	if st := app.State(); len(st.Steps) != 0 || st.Title != session.DefaultTitle {
		t.Fatalf("clear did not reset: %+v", st)
	}

	app.SetViewerMode(true)
	if err := app.LoadModel(id); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	st := app.State()
	if st.Title != "Shelf" || len(st.Steps) != 2 || len(st.Connections) != 1 {
		t.Errorf("unexpected loaded state %+v", st)
	}
	if st.ViewerMode {
		t.Error("loading should turn viewer mode off")
	}
	if st.SelectedID != a {
		t.Errorf("loading should select the first step, got %s", st.SelectedID)
	}

	// New steps continue after the last loaded one.
	c, err := app.AddStep()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range app.State().Steps {
		if s.ID == c && s.Position.X != 6 {
			t.Errorf("new step x = %f, want 6", s.Position.X)
		}
	}

	if err := app.LoadModel("missing"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("LoadModel(missing) err = %v", err)
	}

	if err := app.DeleteModel(id); err != nil {
		t.Fatal(err)
	}
	if models, _ := app.ListModels(); len(models) != 0 {
		t.Errorf("expected empty list after delete, got %d", len(models))
	}
}

func TestNoStorage(t *testing.T) {
	app := NewApp(config.Default(), nil, nil)
	app.AddStep()
	if _, err := app.SaveModel(); err == nil {
		t.Error("SaveModel without storage should fail")
	}
	if _, err := app.ListModels(); err == nil {
		t.Error("ListModels without storage should fail")
	}
}

// ---------------------------------------------------------------------------
// 7. Deleting a step rewires connections through the bindings.
// ---------------------------------------------------------------------------

func TestDeleteStepRewiresConnections(t *testing.T) {
	app := newTestApp(t, false)
	a, _ := app.AddStep()
	b, _ := app.AddStep()
	c, _ := app.AddStep()
	app.AddConnection(a, b, "first")
	app.AddConnection(b, c, "second")

	if err := app.DeleteStep(b); err != nil {
		t.Fatal(err)
	}
	st := app.State()
	if len(st.Connections) != 1 {
		t.Fatalf("expected 1 connection after rewire, got %d", len(st.Connections))
	}
	if conn := st.Connections[0]; conn.From != a || conn.To != c {
		t.Errorf("expected %s -> %s, got %s -> %s", a, c, conn.From, conn.To)
	}
}

func TestDeleteSelectedSubStep(t *testing.T) {
	app := newTestApp(t, false)
	a, _ := app.AddStep()
	sub, err := app.AddSubStep(a)
	if err != nil {
		t.Fatal(err)
	}
	app.SelectStep(sub)

	if err := app.DeleteNode(app.State().SelectedID); err != nil {
		t.Fatal(err)
	}
	st := app.State()
	if len(st.Steps) != 1 || len(st.Steps[0].Children) != 0 {
		t.Fatalf("sub-step not removed: %+v", st.Steps)
	}
	if st.SelectedID != a {
		t.Errorf("selection should move to the parent, got %s", st.SelectedID)
	}
}

func TestUpdateStepValidation(t *testing.T) {
	app := newTestApp(t, false)
	id, _ := app.AddStep()

	bad := "blue"
	err := app.UpdateStep(id, stepgraph.NodePatch{Color: &bad})
	if !stepgraph.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}

	good := "#123abc"
	shape := stepgraph.ShapeSphere
	if err := app.UpdateStep(id, stepgraph.NodePatch{Color: &good, Shape: &shape}); err != nil {
		t.Fatal(err)
	}
	f, err := app.Scene()
	if err != nil {
		t.Fatal(err)
	}
	if f.Shapes[0].Color != good || f.Shapes[0].Kind != stepgraph.ShapeSphere {
		t.Errorf("unexpected shape %+v", f.Shapes[0])
	}
}

// ---------------------------------------------------------------------------
// 8. Concurrent binding calls are serialized by the app lock.
// ---------------------------------------------------------------------------

func TestConcurrentBindings(t *testing.T) {
	app := newTestApp(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				app.AddStep()
				app.State()
				app.CameraFrame()
				app.NextStep()
			}
		}()
	}
	wg.Wait()

	st := app.State()
	if st.Nav.Total != 80 {
		t.Fatalf("expected 80 steps, got %d", st.Nav.Total)
	}
	seen := make(map[float64]bool)
	for _, s := range st.Steps {
		if seen[s.Position.X] {
			t.Errorf("two steps share x = %f", s.Position.X)
		}
		seen[s.Position.X] = true
	}
}
