package shape

import "fmt"

// MismatchError reports a declared shape that cannot carry the relation's
// rows.
type MismatchError struct {
	Declared Descriptor
	Actual   Descriptor
	Column   int // 1-based; 0 for a column count mismatch
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Column == 0 {
		return fmt.Sprintf("return type mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("return type mismatch at column %d: %s", e.Column, e.Reason)
}

// Check verifies that declared can carry rows of actual: same number of
// columns, same types position by position. Column names are not compared.
func Check(declared, actual Descriptor) error {
	if !declared.IsComposite() {
		return &MismatchError{Declared: declared, Actual: actual, Reason: "return type must be a row type"}
	}
	if len(declared.Columns) != len(actual.Columns) {
		return &MismatchError{
			Declared: declared,
			Actual:   actual,
			Reason: fmt.Sprintf("declared %d columns, relation has %d",
				len(declared.Columns), len(actual.Columns)),
		}
	}
	for i := range declared.Columns {
		d, a := declared.Columns[i], actual.Columns[i]
		if normalizeType(d.Type) != normalizeType(a.Type) {
			return &MismatchError{
				Declared: declared,
				Actual:   actual,
				Column:   i + 1,
				Reason:   fmt.Sprintf("declared %s, relation has %s", d.Type, a.Type),
			}
		}
	}
	return nil
}

// typeAliases maps SQL spellings onto the internal type names.
var typeAliases = map[string]string{
	"integer":           "int4",
	"int":               "int4",
	"smallint":          "int2",
	"bigint":            "int8",
	"boolean":           "bool",
	"real":              "float4",
	"double precision":  "float8",
	"character varying": "varchar",
	"decimal":           "numeric",
}

func normalizeType(t string) string {
	if a, ok := typeAliases[t]; ok {
		return a
	}
	return t
}
