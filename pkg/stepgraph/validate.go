package stepgraph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned by lookups that must produce a value. Mutations
// that reference unknown ids are silent no-ops instead.
var ErrNotFound = errors.New("not found")

// ValidationError describes input rejected before any state change.
type ValidationError struct {
	NodeID  NodeID // offending node, zero if not node-specific
	Field   string // offending field, empty if not field-specific
	Message string
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid")
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if !e.NodeID.IsZero() {
		fmt.Fprintf(&b, " (node %s)", e.NodeID.Short())
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// hexColor matches # followed by 3 or 6 hex digits.
var hexColor = regexp.MustCompile(`^#([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// ValidColor reports whether s is a #rgb or #rrggbb hex color.
func ValidColor(s string) bool {
	return hexColor.MatchString(s)
}

// ValidateColor returns a ValidationError if s is not a hex color.
func ValidateColor(s string) error {
	if !ValidColor(s) {
		return ValidationError{Field: "color", Message: fmt.Sprintf("%q is not a #rgb or #rrggbb hex color", s)}
	}
	return nil
}

// validatePatch checks every field set in p.
func validatePatch(id NodeID, p NodePatch) error {
	if p.Color != nil {
		if err := ValidateColor(*p.Color); err != nil {
			ve := err.(ValidationError)
			ve.NodeID = id
			return ve
		}
	}
	if p.Size != nil && !(*p.Size > 0) {
		return ValidationError{NodeID: id, Field: "size", Message: fmt.Sprintf("%.4f, must be positive", *p.Size)}
	}
	if p.Shape != nil && !p.Shape.Valid() {
		return ValidationError{NodeID: id, Field: "shape", Message: fmt.Sprintf("unknown shape kind %d", int(*p.Shape))}
	}
	return nil
}

// Validate runs structural checks on a document before it replaces the
// store contents. It is read-only.
func (d Document) Validate() []ValidationError {
	var errs []ValidationError
	seen := make(map[NodeID]bool)

	var walk func(n StepNode)
	walk = func(n StepNode) {
		if n.ID.IsZero() {
			errs = append(errs, ValidationError{Field: "id", Message: "node has an empty id"})
		} else if seen[n.ID] {
			errs = append(errs, ValidationError{NodeID: n.ID, Field: "id", Message: "duplicate node id"})
		}
		seen[n.ID] = true

		if !ValidColor(n.Color) {
			errs = append(errs, ValidationError{NodeID: n.ID, Field: "color", Message: fmt.Sprintf("%q is not a hex color", n.Color)})
		}
		if !(n.Size > 0) {
			errs = append(errs, ValidationError{NodeID: n.ID, Field: "size", Message: fmt.Sprintf("%.4f, must be positive", n.Size)})
		}
		if !n.Shape.Valid() {
			errs = append(errs, ValidationError{NodeID: n.ID, Field: "shape", Message: "unknown shape"})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, s := range d.Steps {
		walk(s)
	}

	connIDs := make(map[ConnectionID]bool)
	for _, c := range d.Connections {
		if connIDs[c.ID] {
			errs = append(errs, ValidationError{Field: "connection", Message: fmt.Sprintf("duplicate connection id %s", c.ID)})
		}
		connIDs[c.ID] = true
		if c.From == c.To {
			errs = append(errs, ValidationError{NodeID: c.From, Field: "connection", Message: "connection from a node to itself"})
		}
		if !seen[c.From] || !seen[c.To] {
			errs = append(errs, ValidationError{Field: "connection", Message: fmt.Sprintf("connection %s references a missing node", c.ID)})
		}
	}

	return errs
}
