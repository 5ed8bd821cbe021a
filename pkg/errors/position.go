package errors

import "fmt"

// Position locates an error in the originating source, when known.
// The zero value means "no position information".
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line == 0 && p.Column == 0 {
		return "?:?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Known reports whether the position carries real coordinates.
func (p Position) Known() bool { return p.Line != 0 || p.Column != 0 }
