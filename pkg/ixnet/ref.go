// Package ixnet models the IxNetwork object tree as seen by a control client:
// object references, the remote session contract and its error kinds.
package ixnet

import (
	"strings"

	"github.com/pkg/errors"
)

// ObjPrefix is the marker IxNetwork puts in front of every object path
const ObjPrefix = "::ixNet::OBJ-"

// Segment is one step of an object path
type Segment struct {
	Kind   string // e.g. "vport", "stack", "traffic"
	ID     string // empty for plain segments such as "/traffic"
	Quoted bool   // ID rendered as :"name" instead of :name
}

func (s Segment) String() string {
	switch {
	case s.ID == "":
		return s.Kind
	case s.Quoted:
		return s.Kind + `:"` + s.ID + `"`
	default:
		return s.Kind + ":" + s.ID
	}
}

// Ref is an immutable reference to an object in the remote tree.
// The zero value is the root.
type Ref struct {
	segs []Segment
}

// Root returns the reference to the tree root
func Root() Ref { return Ref{} }

func (r Ref) with(s Segment) Ref {
	segs := make([]Segment, len(r.segs), len(r.segs)+1)
	copy(segs, r.segs)
	return Ref{segs: append(segs, s)}
}

// Child appends a plain segment, e.g. /traffic or /frameRate
func (r Ref) Child(kind string) Ref { return r.with(Segment{Kind: kind}) }

// Item appends an indexed segment, e.g. /vport:1
func (r Ref) Item(kind, id string) Ref { return r.with(Segment{Kind: kind, ID: id}) }

// Named appends a quoted segment, e.g. /stack:"ethernet-1"
func (r Ref) Named(kind, name string) Ref {
	return r.with(Segment{Kind: kind, ID: name, Quoted: true})
}

// IsRoot reports whether r addresses the tree root
func (r Ref) IsRoot() bool { return len(r.segs) == 0 }

// Leaf returns the last segment. The root has an empty leaf.
func (r Ref) Leaf() Segment {
	if r.IsRoot() {
		return Segment{}
	}
	return r.segs[len(r.segs)-1]
}

// Parent drops the last segment
func (r Ref) Parent() Ref {
	if r.IsRoot() {
		return r
	}
	return Ref{segs: r.segs[:len(r.segs)-1]}
}

// Segments returns a copy of the path segments
func (r Ref) Segments() []Segment {
	out := make([]Segment, len(r.segs))
	copy(out, r.segs)
	return out
}

// Find returns the first segment of the given kind
func (r Ref) Find(kind string) (Segment, bool) {
	for _, s := range r.segs {
		if s.Kind == kind {
			return s, true
		}
	}
	return Segment{}, false
}

// Equal reports whether both references address the same object
func (r Ref) Equal(o Ref) bool {
	if len(r.segs) != len(o.segs) {
		return false
	}
	for i := range r.segs {
		if r.segs[i] != o.segs[i] {
			return false
		}
	}
	return true
}

// Path renders the reference without the object prefix, e.g. /vport:1
func (r Ref) Path() string {
	var b strings.Builder
	b.WriteByte('/')
	for i, s := range r.segs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

func (r Ref) String() string { return ObjPrefix + r.Path() }

// ProtocolTemplate references /traffic/protocolTemplate:"<name>"
func ProtocolTemplate(name string) Ref {
	return Root().Child("traffic").Named("protocolTemplate", name)
}

// StatisticsView references /statistics/view:"<name>"
func StatisticsView(name string) Ref {
	return Root().Child("statistics").Named("view", name)
}

// ParseRef parses a rendered path. The object prefix is optional.
func ParseRef(s string) (Ref, error) {
	p := strings.TrimPrefix(strings.TrimSpace(s), ObjPrefix)
	if !strings.HasPrefix(p, "/") {
		return Ref{}, errors.Errorf("malformed object path %q: missing leading /", s)
	}
	p = p[1:]
	var r Ref
	for len(p) > 0 {
		seg, rest, err := parseSegment(p)
		if err != nil {
			return Ref{}, errors.Wrapf(err, "malformed object path %q", s)
		}
		r = r.with(seg)
		p = rest
	}
	return r, nil
}

func parseSegment(p string) (Segment, string, error) {
	end := strings.IndexAny(p, ":/")
	if end == 0 {
		return Segment{}, "", errors.New("empty segment kind")
	}
	if end < 0 {
		return Segment{Kind: p}, "", nil
	}
	kind := p[:end]
	if p[end] == '/' {
		return Segment{Kind: kind}, p[end+1:], nil
	}

	p = p[end+1:]
	if strings.HasPrefix(p, `"`) {
		closing := strings.IndexByte(p[1:], '"')
		if closing < 0 {
			return Segment{}, "", errors.Errorf("unterminated quote in %q segment", kind)
		}
		id := p[1 : closing+1]
		rest := p[closing+2:]
		if rest != "" && rest[0] != '/' {
			return Segment{}, "", errors.Errorf("unexpected %q after quoted id", rest)
		}
		return Segment{Kind: kind, ID: id, Quoted: true}, strings.TrimPrefix(rest, "/"), nil
	}

	slash := strings.IndexByte(p, '/')
	id, rest := p, ""
	if slash >= 0 {
		id, rest = p[:slash], p[slash+1:]
	}
	if id == "" {
		return Segment{}, "", errors.Errorf("empty id in %q segment", kind)
	}
	return Segment{Kind: kind, ID: id}, rest, nil
}
