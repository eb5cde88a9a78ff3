package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// newTestEngine returns an engine whose stores hand out n1, n2, ... ids.
func newTestEngine() *Engine {
	n := 0
	return NewEngine(WithStoreOptions(stepgraph.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	})))
}

func mustEvaluate(t *testing.T, source string) *stepgraph.Document {
	t.Helper()
	doc, evalErrs, err := newTestEngine().Evaluate(context.Background(), source)
	if err != nil {
		t.Fatalf("fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("eval errors: %v", evalErrs)
	}
	if doc == nil {
		t.Fatal("expected non-nil document")
	}
	return doc
}

// evalMessages returns the joined eval error messages, failing the test if
// the script evaluated cleanly.
func evalMessages(t *testing.T, source string) string {
	t.Helper()
	doc, evalErrs, err := newTestEngine().Evaluate(context.Background(), source)
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if doc != nil {
		t.Fatal("expected nil document on eval error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected eval errors")
	}
	msgs := make([]string, len(evalErrs))
	for i, e := range evalErrs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// ---------------------------------------------------------------------------
// Preprocessing tests
// ---------------------------------------------------------------------------

func TestPreprocessKeywords(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "simple keyword",
			input:  `(step :title "Base")`,
			expect: `(step "__kw_title" "Base")`,
		},
		{
			name:   "keyword value",
			input:  `(step :shape :cone :size 2)`,
			expect: `(step "__kw_shape" "__kw_cone" "__kw_size" 2)`,
		},
		{
			name:   "keyword in string preserved",
			input:  `"glue the :top face"`,
			expect: `"glue the :top face"`,
		},
		{
			name:   "escaped quote in string",
			input:  `"say \":hi\"" :x`,
			expect: `"say \":hi\"" "__kw_x"`,
		},
		{
			name:   "assignment operator preserved",
			input:  `(def x := 10)`,
			expect: `(def x := 10)`,
		},
		{
			name:   "kebab-case identifier",
			input:  `(def base-plate (step))`,
			expect: `(def base_plate (step))`,
		},
		{
			name:   "minus operator preserved",
			input:  `(- 10 5)`,
			expect: `(- 10 5)`,
		},
		{
			name:   "comment converted to // style",
			input:  `;; comment with :keyword`,
			expect: `// comment with :keyword`,
		},
		{
			name:   "single semicolon comment",
			input:  `; simple comment`,
			expect: `// simple comment`,
		},
		{
			name:   "hyphen in keyword preserved",
			input:  `:sub-title`,
			expect: `"__kw_sub-title"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := preprocessSource(tt.input)
			if got != tt.expect {
				t.Errorf("preprocessSource(%q) = %q, want %q", tt.input, got, tt.expect)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// step
// ---------------------------------------------------------------------------

func TestStepDefaults(t *testing.T) {
	doc := mustEvaluate(t, `(step) (step) (step)`)

	if len(doc.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(doc.Steps))
	}
	for i, s := range doc.Steps {
		if want := fmt.Sprintf("Step %d", i+1); s.Title != want {
			t.Errorf("step %d: title = %q, want %q", i, s.Title, want)
		}
		if want := float64(3 * i); s.Position.X != want {
			t.Errorf("step %d: x = %f, want %f", i, s.Position.X, want)
		}
		if s.Shape != stepgraph.ShapeCube {
			t.Errorf("step %d: shape = %s, want cube", i, s.Shape)
		}
		if !stepgraph.ValidColor(s.Color) {
			t.Errorf("step %d: invalid color %q", i, s.Color)
		}
	}
	if doc.Steps[0].ID != "n1" {
		t.Errorf("expected store-allocated id n1, got %q", doc.Steps[0].ID)
	}
}

func TestStepKeywords(t *testing.T) {
	doc := mustEvaluate(t, `
(def height 2.5)
(step :title "Base" :description "Lay it flat" :shape :cylinder
      :color "#4a90e2" :size height :at (vec3 1 4 -2))
`)
	if len(doc.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(doc.Steps))
	}
	s := doc.Steps[0]
	if s.Title != "Base" || s.Description != "Lay it flat" {
		t.Errorf("unexpected text: %q / %q", s.Title, s.Description)
	}
	if s.Shape != stepgraph.ShapeCylinder {
		t.Errorf("shape = %s, want cylinder", s.Shape)
	}
	if s.Color != "#4a90e2" {
		t.Errorf("color = %q", s.Color)
	}
	if s.Size != 2.5 {
		t.Errorf("size = %f, want 2.5 (from variable)", s.Size)
	}
	if want := (stepgraph.Vec3{X: 1, Y: 4, Z: -2}); s.Position != want {
		t.Errorf("position = %+v, want %+v", s.Position, want)
	}
}

func TestStepAtDoesNotMoveCursor(t *testing.T) {
	doc := mustEvaluate(t, `
(step :at (vec3 10 10 10))
(step)
`)
	if doc.Steps[1].Position != (stepgraph.Vec3{X: 3}) {
		t.Errorf("second step should use the allocator, got %+v", doc.Steps[1].Position)
	}
}

func TestShapeAsString(t *testing.T) {
	doc := mustEvaluate(t, `(step :shape "sphere")`)
	if doc.Steps[0].Shape != stepgraph.ShapeSphere {
		t.Errorf("shape = %s, want sphere", doc.Steps[0].Shape)
	}
}

// ---------------------------------------------------------------------------
// substep
// ---------------------------------------------------------------------------

func TestNestedSubSteps(t *testing.T) {
	doc := mustEvaluate(t, `
(step :title "Base"
  (substep :title "Glue" :shape :cylinder)
  (substep :title "Press"))
`)
	base := doc.Steps[0]
	if len(base.Children) != 2 {
		t.Fatalf("expected 2 sub-steps, got %d", len(base.Children))
	}
	glue, press := base.Children[0], base.Children[1]
	if glue.Title != "Glue" || glue.Shape != stepgraph.ShapeCylinder {
		t.Errorf("unexpected first sub-step %+v", glue)
	}
	if press.Title != "Press" {
		t.Errorf("unexpected second sub-step %+v", press)
	}
	if want := (stepgraph.Vec3{Y: -2}); glue.Position != want {
		t.Errorf("glue position = %+v, want %+v", glue.Position, want)
	}
	if want := (stepgraph.Vec3{Y: -2, Z: 2}); press.Position != want {
		t.Errorf("press position = %+v, want %+v", press.Position, want)
	}
}

func TestSubStepsFollowMovedParent(t *testing.T) {
	doc := mustEvaluate(t, `(step :at (vec3 0 5 0) (substep))`)
	if got := doc.Steps[0].Children[0].Position; got != (stepgraph.Vec3{Y: 3}) {
		t.Errorf("sub-step position = %+v, want (0,3,0)", got)
	}
}

func TestSubStepAttachedToExistingStep(t *testing.T) {
	doc := mustEvaluate(t, `
(def base (step :title "Base"))
(step :title "Top")
(substep base :title "Late")
`)
	if len(doc.Steps[0].Children) != 1 || doc.Steps[0].Children[0].Title != "Late" {
		t.Fatalf("expected late sub-step under Base, got %+v", doc.Steps[0].Children)
	}
	if len(doc.Steps[1].Children) != 0 {
		t.Errorf("Top should have no sub-steps")
	}
}

func TestLooseSubStepIsIgnored(t *testing.T) {
	doc := mustEvaluate(t, `(substep :title "Orphan")`)
	if doc.NodeCount() != 0 {
		t.Errorf("expected no nodes, got %d", doc.NodeCount())
	}
}

func TestSubStepDepthLimit(t *testing.T) {
	msg := evalMessages(t, `(step (substep (substep)))`)
	if !strings.Contains(msg, "nested") {
		t.Errorf("expected depth error, got %q", msg)
	}

	deep := NewEngine(WithStoreOptions(stepgraph.WithMaxDepth(2)))
	doc, evalErrs, err := deep.Evaluate(context.Background(), `(step (substep (substep)))`)
	if err != nil || len(evalErrs) > 0 {
		t.Fatalf("unexpected errors: %v %v", err, evalErrs)
	}
	if doc.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", doc.NodeCount())
	}
}

// ---------------------------------------------------------------------------
// connect
// ---------------------------------------------------------------------------

func TestConnect(t *testing.T) {
	doc := mustEvaluate(t, `
(def base (step :title "Base" :shape :cube :color "#4a90e2"
  (substep :title "Glue" :shape :cylinder)))
(def top (step :title "Top" :shape :sphere :at (vec3 0 4 0)))
(connect base top "rests on")
(connect top base)
`)
	if len(doc.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(doc.Connections))
	}
	c := doc.Connections[0]
	if c.From != doc.Steps[0].ID || c.To != doc.Steps[1].ID {
		t.Errorf("unexpected endpoints %s -> %s", c.From, c.To)
	}
	if c.Description != "rests on" {
		t.Errorf("description = %q", c.Description)
	}
	if doc.Connections[1].Description != "" {
		t.Errorf("expected empty description, got %q", doc.Connections[1].Description)
	}
}

func TestConnectSubStep(t *testing.T) {
	doc := mustEvaluate(t, `
(def a (step))
(def b (step))
(def glue (substep a :title "Glue"))
(connect glue b "then")
`)
	if doc.Connections[0].From != doc.Steps[0].Children[0].ID {
		t.Errorf("expected connection from the sub-step, got %s", doc.Connections[0].From)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestBuiltinErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"bad color", `(step :color "red")`, "color"},
		{"bad size", `(step :size 0)`, "size"},
		{"unknown shape", `(step :shape :pyramid)`, "unknown shape"},
		{"title not a string", `(step :title 5)`, "expected string"},
		{"at not a vec3", `(step :at 5)`, "expected vec3"},
		{"vec3 arity", `(vec3 1 2)`, "exactly 3"},
		{"vec3 not a number", `(vec3 1 "a" 3)`, "expected number"},
		{"self connection", `(def a (step)) (connect a a)`, "itself"},
		{"connect arity", `(def a (step)) (connect a)`, "connect requires"},
		{"connect not a step", `(def a (step)) (connect a 5)`, "expected step reference"},
		{"stray positional", `(step 5)`, "expected substep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := evalMessages(t, tt.source)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("message = %q, want containing %q", msg, tt.want)
			}
		})
	}
}

func TestArithmeticStillWorks(t *testing.T) {
	doc := mustEvaluate(t, `(step :size (+ 1 0.5))`)
	if doc.Steps[0].Size != 1.5 {
		t.Errorf("size = %f, want 1.5", doc.Steps[0].Size)
	}
}
