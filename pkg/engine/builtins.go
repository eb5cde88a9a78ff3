package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource rewrites script source before it reaches zygomys:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal), so
//     keywords never collide with user variables of the same name.
//
//  2. Kebab-case to underscore: sub-step -> sub_step. zygomys reads a hyphen
//     inside an identifier as the subtraction operator.
//
//  3. Line comments: ; and ;; become //, the zygomys comment syntax.
//
// String literals are copied through untouched.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '"':
			j := skipQuoted(b, i)
			result = append(result, b[i:j]...)
			i = j
			continue
		case b[i] == '`':
			j := i + 1
			for j < len(b) && b[j] != '`' {
				j++
			}
			if j < len(b) {
				j++
			}
			result = append(result, b[i:j]...)
			i = j
			continue
		case b[i] == ';':
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		case b[i] == ':' && i+1 < len(b) && b[i+1] == '=':
			result = append(result, b[i], b[i+1])
			i += 2
			continue
		case b[i] == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			result = append(result, '"')
			result = append(result, kwPrefix...)
			result = append(result, b[i+1:j]...)
			result = append(result, '"')
			i = j
			continue
		case b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

// skipQuoted returns the index just past the double-quoted literal that
// starts at b[start].
func skipQuoted(b []byte, start int) int {
	i := start + 1
	for i < len(b) && b[i] != '"' {
		if b[i] == '\\' && i+1 < len(b) {
			i += 2
			continue
		}
		i++
	}
	if i < len(b) {
		i++
	}
	return i
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Script values
// ---------------------------------------------------------------------------

// sexpNodeRef is what `step` and an attached `substep` return, so scripts
// can bind nodes with def and connect them later.
type sexpNodeRef struct {
	id    stepgraph.NodeID
	title string
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(node %q %s)", n.title, n.id.Short())
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

// sexpSubStep is an unattached sub-step. Arguments are evaluated before the
// enclosing `step` runs, so a nested (substep ...) only records its patch
// and children; the parent adds it once the parent exists.
type sexpSubStep struct {
	patch    stepgraph.NodePatch
	children []*sexpSubStep
}

func (s *sexpSubStep) SexpString(ps *zygo.PrintState) string {
	if s.patch.Title != nil {
		return fmt.Sprintf("(substep %q)", *s.patch.Title)
	}
	return "(substep)"
}
func (s *sexpSubStep) Type() *zygo.RegisteredType { return nil }

// sexpVec3 wraps a stepgraph.Vec3.
type sexpVec3 struct {
	vec stepgraph.Vec3
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW reports whether s is a preprocessed keyword and returns its name.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds a mixed positional and keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates keyword pairs from positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			i++
			continue
		}
		if i+1 < len(args) {
			result.kw[name] = args[i+1]
			i += 2
		} else {
			result.kw[name] = zygo.SexpNull
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString accepts both :cube and "cube".
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

func toShape(s zygo.Sexp) (stepgraph.ShapeKind, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, err
	}
	return stepgraph.ParseShapeKind(name)
}

func toNodeRef(s zygo.Sexp) (stepgraph.NodeID, error) {
	if ref, ok := s.(*sexpNodeRef); ok {
		return ref.id, nil
	}
	return "", fmt.Errorf("expected step reference, got %T (%s)", s, s.SexpString(nil))
}

func toVec3(s zygo.Sexp) (stepgraph.Vec3, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return stepgraph.Vec3{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// nodePatch reads the node keywords shared by step and substep.
func nodePatch(fn string, kw map[string]zygo.Sexp) (stepgraph.NodePatch, error) {
	var p stepgraph.NodePatch
	if v, ok := kw["title"]; ok {
		s, err := toString(v)
		if err != nil {
			return p, fmt.Errorf("%s: title: %w", fn, err)
		}
		p.Title = &s
	}
	if v, ok := kw["description"]; ok {
		s, err := toString(v)
		if err != nil {
			return p, fmt.Errorf("%s: description: %w", fn, err)
		}
		p.Description = &s
	}
	if v, ok := kw["shape"]; ok {
		k, err := toShape(v)
		if err != nil {
			return p, fmt.Errorf("%s: shape: %w", fn, err)
		}
		p.Shape = &k
	}
	if v, ok := kw["color"]; ok {
		s, err := toString(v)
		if err != nil {
			return p, fmt.Errorf("%s: color: %w", fn, err)
		}
		p.Color = &s
	}
	if v, ok := kw["size"]; ok {
		f, err := toFloat64(v)
		if err != nil {
			return p, fmt.Errorf("%s: size: %w", fn, err)
		}
		p.Size = &f
	}
	if v, ok := kw["at"]; ok {
		vec, err := toVec3(v)
		if err != nil {
			return p, fmt.Errorf("%s: at: %w", fn, err)
		}
		p.Position = &vec
	}
	return p, nil
}

// subSteps collects the nested (substep ...) forms among positional args.
func subSteps(fn string, args []zygo.Sexp) ([]*sexpSubStep, error) {
	out := make([]*sexpSubStep, 0, len(args))
	for i, a := range args {
		sub, ok := a.(*sexpSubStep)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d: expected substep, got %T (%s)", fn, i+1, a, a.SexpString(nil))
		}
		out = append(out, sub)
	}
	return out, nil
}

// attach adds sub under parentID and then its own children.
func attach(store *stepgraph.Store, parentID stepgraph.NodeID, sub *sexpSubStep) (stepgraph.NodeID, error) {
	id, err := store.AddSubStep(parentID)
	if err != nil {
		return "", fmt.Errorf("substep: %w", err)
	}
	if err := store.UpdateSubStep(parentID, id, sub.patch); err != nil {
		return "", fmt.Errorf("substep: %w", err)
	}
	for _, c := range sub.children {
		if _, err := attach(store, id, c); err != nil {
			return "", err
		}
	}
	return id, nil
}

func nodeRef(store *stepgraph.Store, id stepgraph.NodeID) *sexpNodeRef {
	n, _ := store.Node(id)
	return &sexpNodeRef{id: id, title: n.Title}
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the authoring builtins. Every builtin goes
// through the store, so ids, positions and colors come from the allocator
// exactly as they do for interactive edits.
//
// Source must be preprocessed with preprocessSource first.
func registerBuiltins(env *zygo.Zlisp, store *stepgraph.Store) {

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var xyz [3]float64
		for i, a := range args {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %c: %w", "xyz"[i], err)
			}
			xyz[i] = f
		}
		return &sexpVec3{vec: stepgraph.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// (step :title "Base" :shape :cube :color "#4a90e2" :size 1.5
	//       :at (vec3 0 0 0) (substep ...) (substep ...))
	// -----------------------------------------------------------------------
	env.AddFunction("step", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		patch, err := nodePatch("step", pa.kw)
		if err != nil {
			return zygo.SexpNull, err
		}
		subs, err := subSteps("step", pa.positional)
		if err != nil {
			return zygo.SexpNull, err
		}

		id := store.AddStep()
		if err := store.UpdateStep(id, patch); err != nil {
			return zygo.SexpNull, fmt.Errorf("step: %w", err)
		}
		for _, sub := range subs {
			if _, err := attach(store, id, sub); err != nil {
				return zygo.SexpNull, err
			}
		}
		return nodeRef(store, id), nil
	})

	// -----------------------------------------------------------------------
	// (substep :title "Glue" (substep ...))    nested inside a step
	// (substep base :title "Glue")             attached to an existing node
	// -----------------------------------------------------------------------
	env.AddFunction("substep", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		patch, err := nodePatch("substep", pa.kw)
		if err != nil {
			return zygo.SexpNull, err
		}

		positional := pa.positional
		var parentID stepgraph.NodeID
		if len(positional) > 0 {
			if ref, ok := positional[0].(*sexpNodeRef); ok {
				parentID = ref.id
				positional = positional[1:]
			}
		}
		children, err := subSteps("substep", positional)
		if err != nil {
			return zygo.SexpNull, err
		}
		sub := &sexpSubStep{patch: patch, children: children}
		if parentID.IsZero() {
			return sub, nil
		}

		if !store.Has(parentID) {
			return zygo.SexpNull, fmt.Errorf("substep: parent %s: %w", parentID.Short(), stepgraph.ErrNotFound)
		}
		id, err := attach(store, parentID, sub)
		if err != nil {
			return zygo.SexpNull, err
		}
		return nodeRef(store, id), nil
	})

	// -----------------------------------------------------------------------
	// (connect base top "rests on")
	// -----------------------------------------------------------------------
	env.AddFunction("connect", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 || len(args) > 3 {
			return zygo.SexpNull, fmt.Errorf("connect requires two steps and an optional description, got %d arguments", len(args))
		}
		from, err := toNodeRef(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: from: %w", err)
		}
		to, err := toNodeRef(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: to: %w", err)
		}
		var desc string
		if len(args) == 3 {
			if desc, err = toString(args[2]); err != nil {
				return zygo.SexpNull, fmt.Errorf("connect: description: %w", err)
			}
		}
		id, err := store.AddConnection(from, to, desc)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: %w", err)
		}
		return &zygo.SexpStr{S: string(id)}, nil
	})
}
