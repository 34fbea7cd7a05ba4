// Package reference turns user supplied tokens into machine lookup keys.
//
// A token is either a URL whose leftmost host label names a machine
// (https://demo-42.example.org/ -> "demo-42") or a raw instance id
// (i-0c3cbd3a6e1b8ffc8). URL shape is tested first and wins when a token
// matches both.
package reference

import "regexp"

// Kind discriminates a resolved Reference.
type Kind int

const (
	None Kind = iota
	Name
	Identifier
)

func (k Kind) String() string {
	switch k {
	case Name:
		return "name"
	case Identifier:
		return "identifier"
	default:
		return "none"
	}
}

// Reference is the result of Resolve. Value is empty when Kind is None.
type Reference struct {
	Kind  Kind
	Value string
}

func (r Reference) String() string {
	if r.Kind == None {
		return "none"
	}
	return r.Kind.String() + ":" + r.Value
}

var (
	// Leftmost label followed by a dot; "http://localhost" has no name.
	namePattern = regexp.MustCompile(`https?://([a-zA-Z][-0-9a-zA-Z_]*)\.`)
	idPattern   = regexp.MustCompile(`^i-[0-9][0-9a-zA-Z]*`)
	basePattern = regexp.MustCompile(`https?://[a-zA-Z][-0-9a-zA-Z_.]*(:[0-9]+)?`)
)

// Resolve maps input to a Name, an Identifier, or None. It never fails.
func Resolve(input string) Reference {
	if m := namePattern.FindStringSubmatch(input); m != nil {
		return Reference{Kind: Name, Value: m[1]}
	}
	if id := idPattern.FindString(input); id != "" {
		return Reference{Kind: Identifier, Value: id}
	}
	return Reference{}
}

// BaseURL extracts scheme, host and port from input, dropping any path
// and the angle brackets chat clients wrap links in.
func BaseURL(input string) (string, bool) {
	base := basePattern.FindString(input)
	return base, base != ""
}
