// Package memstore is an in-memory stand-in for an IxNetwork API server.
//
// It keeps enough of the object tree to exercise a traffic-model driver:
// vports, a traffic item with endpoint sets and config elements, protocol
// stacks that renumber on append, a traffic state that takes a configurable
// number of polls to settle, and statistics views. Every call is recorded so
// tests can assert on the exact remote sequence.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
)

// Traffic states reported on /traffic -state
const (
	StateStopped = "stopped"
	StateStarted = "started"
	StateLocked  = "locked"
)

// Call is one recorded session call
type Call struct {
	Verb   string
	Target string
	Args   []any
}

// Option configures a Store
type Option func(*Store)

// WithDownPorts makes assignPorts leave the given ports down
func WithDownPorts(locs ...ixnet.PortLocation) Option {
	return func(s *Store) {
		for _, l := range locs {
			s.downPorts[l.String()] = true
		}
	}
}

// WithTransitionPolls sets how many -state reads a start/stop takes to settle
func WithTransitionPolls(n int) Option {
	return func(s *Store) { s.transitionPolls = n }
}

// WithSyntheticStats derives statistics views from the traffic model
// when no view data was loaded with SetView.
func WithSyntheticStats() Option {
	return func(s *Store) { s.synthetic = true }
}

// Store is the in-memory object tree. It implements ixnet.Session and
// ixnet.Dialer; dialing returns the store itself.
type Store struct {
	mu sync.Mutex

	downPorts       map[string]bool
	transitionPolls int
	synthetic       bool
	views           map[string]map[string][]string

	calls   []Call
	commits int
	closed  bool
	dialed  ixnet.DialOptions

	tree
}

type tree struct {
	vports    []*vport
	nextVport int
	items     []*trafficItem
	nextItem  int

	state        string
	pendingState string
	pendingPolls int
	generated    bool
	applied      bool

	// attributes of plain objects and their sub-objects, keyed by path
	attrs map[string]map[string]any
}

type vport struct {
	id    string
	state string
	loc   ixnet.PortLocation
}

type trafficItem struct {
	id           string
	endpointSets []*endpointSet
	elements     []*configElement
	nextEP       int
}

type endpointSet struct {
	id string
}

type configElement struct {
	id    string
	stack []*stackItem
}

type stackItem struct {
	proto  string
	fields []*field
}

func (si *stackItem) name(pos int) string { return fmt.Sprintf("%s-%d", si.proto, pos+1) }

type field struct {
	id    string
	attrs map[string]any
}

// New returns an empty store
func New(opts ...Option) *Store {
	s := &Store{
		downPorts: make(map[string]bool),
		views:     make(map[string]map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.tree = tree{
		state: StateStopped,
		attrs: make(map[string]map[string]any),
	}
}

// Dial implements ixnet.Dialer
func (s *Store) Dial(ctx context.Context, opts ixnet.DialOptions) (ixnet.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialed = opts
	s.closed = false
	s.record("connect", ixnet.Root(), opts.Host, opts.Port, opts.Version)
	return s, nil
}

// SetView loads the column data returned by getColumnValues for a view
func (s *Store) SetView(name string, columns map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[name] = columns
}

// Calls returns a copy of the call log
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Mutations returns the recorded calls that change remote state
func (s *Store) Mutations() []Call {
	var out []Call
	for _, c := range s.Calls() {
		switch c.Verb {
		case "connect", "getList", "getAttribute", "remapIds":
			continue
		case "execute":
			if len(c.Args) > 0 && c.Args[0] == "getColumnValues" {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// ResetCalls clears the call log
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Commits returns the number of commits issued
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Dialed returns the options of the last Dial
func (s *Store) Dialed() ixnet.DialOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialed
}

// TrafficState returns the current traffic state without counting as a poll
func (s *Store) TrafficState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FieldAttrs returns the attributes set on a stack field
func (s *Store) FieldAttrs(ref ixnet.Ref) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.lookupField(ref)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(f.attrs))
	for k, v := range f.attrs {
		out[k] = v
	}
	return out, nil
}

// Attrs returns the attributes set on a non-field object
func (s *Store) Attrs(ref ixnet.Ref) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any)
	for k, v := range s.attrs[ref.Path()] {
		out[k] = v
	}
	return out
}

func (s *Store) record(verb string, target ixnet.Ref, args ...any) {
	s.calls = append(s.calls, Call{Verb: verb, Target: target.String(), Args: args})
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.New("session closed")
	}
	return nil
}

// Add implements ixnet.Session
func (s *Store) Add(parent ixnet.Ref, kind string) (ixnet.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("add", parent, kind)
	if err := s.checkOpen(); err != nil {
		return ixnet.Ref{}, err
	}

	switch {
	case parent.IsRoot() && kind == "vport":
		s.nextVport++
		v := &vport{id: strconv.Itoa(s.nextVport), state: "down"}
		s.vports = append(s.vports, v)
		return ixnet.Root().Item("vport", v.id), nil

	case isTraffic(parent) && kind == "trafficItem":
		s.nextItem++
		ti := &trafficItem{id: strconv.Itoa(s.nextItem)}
		s.items = append(s.items, ti)
		return trafficItemRef(ti), nil

	case kind == "endpointSet":
		ti, err := s.lookupItem(parent)
		if err != nil {
			return ixnet.Ref{}, err
		}
		ti.nextEP++
		id := strconv.Itoa(ti.nextEP)
		ti.endpointSets = append(ti.endpointSets, &endpointSet{id: id})
		ti.elements = append(ti.elements, &configElement{id: id, stack: defaultStack()})
		return trafficItemRef(ti).Item("endpointSet", id), nil
	}
	return ixnet.Ref{}, errors.Errorf("cannot add %s under %s", kind, parent.Path())
}

// GetList implements ixnet.Session
func (s *Store) GetList(parent ixnet.Ref, kind string) ([]ixnet.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("getList", parent, kind)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []ixnet.Ref
	switch {
	case parent.IsRoot() && kind == "vport":
		for _, v := range s.vports {
			out = append(out, ixnet.Root().Item("vport", v.id))
		}
	case isTraffic(parent) && kind == "trafficItem":
		for _, ti := range s.items {
			out = append(out, trafficItemRef(ti))
		}
	case kind == "endpointSet" || kind == "configElement":
		ti, err := s.lookupItem(parent)
		if err != nil {
			return nil, err
		}
		if kind == "endpointSet" {
			for _, ep := range ti.endpointSets {
				out = append(out, parent.Item("endpointSet", ep.id))
			}
		} else {
			for _, ce := range ti.elements {
				out = append(out, parent.Item("configElement", ce.id))
			}
		}
	case kind == "stack":
		ce, err := s.lookupElement(parent)
		if err != nil {
			return nil, err
		}
		for i, si := range ce.stack {
			out = append(out, parent.Named("stack", si.name(i)))
		}
	case kind == "field":
		si, err := s.lookupStackItem(parent)
		if err != nil {
			return nil, err
		}
		for _, f := range si.fields {
			out = append(out, parent.Named("field", f.id))
		}
	default:
		return nil, errors.Errorf("no %s list under %s", kind, parent.Path())
	}
	return out, nil
}

// GetAttribute implements ixnet.Session
func (s *Store) GetAttribute(obj ixnet.Ref, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("getAttribute", obj, name)
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	switch leaf := obj.Leaf(); {
	case isTraffic(obj) && name == "-state":
		return s.pollState(), nil
	case leaf.Kind == "vport" && name == "-state":
		v, err := s.lookupVport(obj)
		if err != nil {
			return "", err
		}
		return v.state, nil
	case leaf.Kind == "field":
		f, err := s.lookupField(obj)
		if err != nil {
			return "", err
		}
		if v, ok := f.attrs[name]; ok {
			return fmt.Sprint(v), nil
		}
		return "", errors.Errorf("attribute %s not set on %s", name, obj.Path())
	}

	if v, ok := s.attrs[obj.Path()][name]; ok {
		return fmt.Sprint(v), nil
	}
	return "", errors.Errorf("attribute %s not set on %s", name, obj.Path())
}

// SetAttribute implements ixnet.Session
func (s *Store) SetAttribute(obj ixnet.Ref, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("setAttribute", obj, name, value)
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.set(obj, []ixnet.Attr{{Name: name, Value: value}})
}

// SetMultiAttribute implements ixnet.Session
func (s *Store) SetMultiAttribute(obj ixnet.Ref, attrs ...ixnet.Attr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	s.record("setMultiAttribute", obj, args...)
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.set(obj, attrs)
}

func (s *Store) set(obj ixnet.Ref, attrs []ixnet.Attr) error {
	if obj.Leaf().Kind == "field" {
		f, err := s.lookupField(obj)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			f.attrs[a.Name] = a.Value
		}
		return nil
	}
	if err := s.checkExists(obj); err != nil {
		return err
	}
	m, ok := s.attrs[obj.Path()]
	if !ok {
		m = make(map[string]any)
		s.attrs[obj.Path()] = m
	}
	for _, a := range attrs {
		m[a.Name] = a.Value
	}
	return nil
}

// Commit implements ixnet.Session
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("commit", ixnet.Root())
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.commits++
	return nil
}

// RemapIDs implements ixnet.Session
func (s *Store) RemapIDs(refs ...ixnet.Ref) ([]ixnet.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remapIds", ixnet.Root(), len(refs))
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]ixnet.Ref, len(refs))
	copy(out, refs)
	return out, nil
}

// Close implements ixnet.Session
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close", ixnet.Root())
	s.closed = true
	return nil
}

func (s *Store) pollState() string {
	cur := s.state
	if s.pendingPolls > 0 {
		s.pendingPolls--
		if s.pendingPolls == 0 {
			s.state = s.pendingState
		}
	}
	return cur
}

func (s *Store) transition(to string) {
	if s.transitionPolls <= 0 {
		s.state = to
		s.pendingPolls = 0
		return
	}
	s.state = StateLocked
	s.pendingState = to
	s.pendingPolls = s.transitionPolls
}

func isTraffic(r ixnet.Ref) bool {
	segs := r.Segments()
	return len(segs) == 1 && segs[0].Kind == "traffic" && segs[0].ID == ""
}

func trafficItemRef(ti *trafficItem) ixnet.Ref {
	return ixnet.Root().Child("traffic").Item("trafficItem", ti.id)
}
