// Package shape describes the composite row type of a relation and of a
// caller's declared output, and checks that the two agree.
//
// Declared shapes are written in CUE:
//
//	name: "accounts"
//	columns: [
//		{name: "id", type: "int4"},
//		{name: "owner", type: "text"},
//	]
package shape

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Column is one attribute of a composite type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Descriptor is an ordered list of columns.
type Descriptor struct {
	Name    string   `json:"name,omitempty"`
	Columns []Column `json:"columns"`
}

// IsComposite reports whether d describes a row type.
func (d Descriptor) IsComposite() bool {
	return len(d.Columns) > 0
}

func (d Descriptor) String() string {
	parts := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		parts[i] = c.Name + " " + c.Type
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// schema constrains declared shape files before they are decoded.
const schema = `
name?: string
columns: [...{name: string & != "", type: string & != ""}]
`

// ParseError reports an invalid shape declaration.
type ParseError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile parses a CUE shape declaration. filename is used in error
// positions only.
func Compile(filename string, src []byte) (Descriptor, error) {
	ctx := cuecontext.New()
	sch := ctx.CompileString(schema)
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Descriptor{}, formatCUEError(err)
	}

	v = sch.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Descriptor{}, formatCUEError(err)
	}

	var d Descriptor
	if err := v.Decode(&d); err != nil {
		return Descriptor{}, formatCUEError(err)
	}
	if !d.IsComposite() {
		return Descriptor{}, &ParseError{
			Field:   "columns",
			Message: "return type must be a row type",
			Pos:     v.LookupPath(cue.ParsePath("columns")).Pos(),
		}
	}
	return d, nil
}

// Load reads and compiles a shape declaration from path.
func Load(path string) (Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read shape: %w", err)
	}
	return Compile(path, src)
}

// formatCUEError keeps the first positioned CUE error.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	pe := &ParseError{Field: "shape", Message: first.Error()}
	if pos := errors.Positions(first); len(pos) > 0 {
		pe.Pos = pos[0]
	}
	return pe
}
