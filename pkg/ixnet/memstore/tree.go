package memstore

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/krisarmstrong/ixnet-rfc2544/pkg/ixnet"
)

// protocol templates known to the store and the fields each one exposes
var templates = map[string][]string{
	"ethernet": {"destinationAddress", "sourceAddress", "etherType", "pfcQueue"},
	"vlan":     {"vlanUserPriority", "cfi", "vlanID", "protocolID"},
	"ipv4":     {"version", "ttl", "srcIp", "dstIp"},
	"udp":      {"srcPort", "dstPort", "length", "checksum"},
	"fcs":      {"fcs"},
}

func newStackItem(proto string) (*stackItem, error) {
	names, ok := templates[proto]
	if !ok {
		return nil, errors.Errorf("unknown protocol template %q", proto)
	}
	si := &stackItem{proto: proto}
	for i, n := range names {
		si.fields = append(si.fields, &field{
			id:    fmt.Sprintf("%s.header.%s-%d", proto, n, i+1),
			attrs: make(map[string]any),
		})
	}
	return si, nil
}

func defaultStack() []*stackItem {
	eth, _ := newStackItem("ethernet")
	fcs, _ := newStackItem("fcs")
	return []*stackItem{eth, fcs}
}

func (s *Store) lookupVport(r ixnet.Ref) (*vport, error) {
	seg, ok := r.Find("vport")
	if !ok {
		return nil, errors.Errorf("%s is not a vport", r.Path())
	}
	for _, v := range s.vports {
		if v.id == seg.ID {
			return v, nil
		}
	}
	return nil, errors.Errorf("vport %s not found", seg.ID)
}

func (s *Store) lookupItem(r ixnet.Ref) (*trafficItem, error) {
	seg, ok := r.Find("trafficItem")
	if !ok {
		return nil, errors.Errorf("%s is not under a traffic item", r.Path())
	}
	for _, ti := range s.items {
		if ti.id == seg.ID {
			return ti, nil
		}
	}
	return nil, errors.Errorf("traffic item %s not found", seg.ID)
}

func (s *Store) lookupEndpointSet(r ixnet.Ref) (*endpointSet, error) {
	ti, err := s.lookupItem(r)
	if err != nil {
		return nil, err
	}
	seg, ok := r.Find("endpointSet")
	if !ok {
		return nil, errors.Errorf("%s is not an endpoint set", r.Path())
	}
	for _, ep := range ti.endpointSets {
		if ep.id == seg.ID {
			return ep, nil
		}
	}
	return nil, errors.Errorf("endpoint set %s not found", seg.ID)
}

func (s *Store) lookupElement(r ixnet.Ref) (*configElement, error) {
	ti, err := s.lookupItem(r)
	if err != nil {
		return nil, err
	}
	seg, ok := r.Find("configElement")
	if !ok {
		return nil, errors.Errorf("%s is not under a config element", r.Path())
	}
	for _, ce := range ti.elements {
		if ce.id == seg.ID {
			return ce, nil
		}
	}
	return nil, errors.Errorf("config element %s not found", seg.ID)
}

func (s *Store) lookupStackPos(r ixnet.Ref) (*configElement, int, error) {
	ce, err := s.lookupElement(r)
	if err != nil {
		return nil, 0, err
	}
	seg, ok := r.Find("stack")
	if !ok {
		return nil, 0, errors.Errorf("%s is not a stack item", r.Path())
	}
	for i, si := range ce.stack {
		if si.name(i) == seg.ID {
			return ce, i, nil
		}
	}
	return nil, 0, errors.Errorf("stack item %q not found", seg.ID)
}

func (s *Store) lookupStackItem(r ixnet.Ref) (*stackItem, error) {
	ce, pos, err := s.lookupStackPos(r)
	if err != nil {
		return nil, err
	}
	return ce.stack[pos], nil
}

func (s *Store) lookupField(r ixnet.Ref) (*field, error) {
	si, err := s.lookupStackItem(r)
	if err != nil {
		return nil, err
	}
	seg, ok := r.Find("field")
	if !ok {
		return nil, errors.Errorf("%s is not a field", r.Path())
	}
	for _, f := range si.fields {
		if f.id == seg.ID {
			return f, nil
		}
	}
	return nil, errors.Errorf("field %q not found", seg.ID)
}

// checkExists accepts known objects and plain sub-objects of them,
// e.g. configElement:1/frameRate or trafficItem:1/tracking.
func (s *Store) checkExists(r ixnet.Ref) error {
	if r.IsRoot() || isTraffic(r) {
		return nil
	}
	base := r
	if leaf := r.Leaf(); leaf.ID == "" {
		base = r.Parent()
		if base.IsRoot() || isTraffic(base) {
			return nil
		}
	}
	var err error
	switch base.Leaf().Kind {
	case "vport":
		_, err = s.lookupVport(base)
	case "trafficItem":
		_, err = s.lookupItem(base)
	case "endpointSet":
		_, err = s.lookupEndpointSet(base)
	case "configElement":
		_, err = s.lookupElement(base)
	case "stack":
		_, err = s.lookupStackItem(base)
	default:
		err = errors.Errorf("unknown object %s", r.Path())
	}
	return err
}

// Execute implements ixnet.Session
func (s *Store) Execute(action string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("execute", ixnet.Root(), append([]any{action}, args...)...)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	switch action {
	case "newConfig":
		s.reset()
		return nil, nil
	case "assignPorts":
		return nil, s.assignPorts(args)
	case "append":
		return nil, s.appendProtocol(args)
	case "generate":
		if len(s.items) == 0 {
			return nil, errors.New("generate: no traffic items")
		}
		s.generated = true
		return nil, nil
	case "apply":
		if !s.generated {
			return nil, errors.New("apply: traffic not generated")
		}
		s.applied = true
		return nil, nil
	case "start":
		if !s.applied {
			return nil, errors.New("start: traffic not applied")
		}
		s.transition(StateStarted)
		return nil, nil
	case "stop":
		s.transition(StateStopped)
		return nil, nil
	case "getColumnValues":
		return s.columnValues(args)
	}
	return nil, errors.Errorf("unsupported action %q", action)
}

func (s *Store) assignPorts(args []any) error {
	if len(args) < 3 {
		return errors.New("assignPorts: expected ports, exclude list and vports")
	}
	locs, ok := args[0].([]ixnet.PortLocation)
	if !ok {
		return errors.Errorf("assignPorts: ports must be []PortLocation, got %T", args[0])
	}
	refs, ok := args[2].([]ixnet.Ref)
	if !ok {
		return errors.Errorf("assignPorts: vports must be []Ref, got %T", args[2])
	}
	if len(locs) != len(refs) {
		return errors.Errorf("assignPorts: %d ports for %d vports", len(locs), len(refs))
	}
	for i, r := range refs {
		v, err := s.lookupVport(r)
		if err != nil {
			return err
		}
		v.loc = locs[i]
		if s.downPorts[locs[i].String()] {
			v.state = "down"
		} else {
			v.state = "up"
		}
	}
	return nil
}

// refArg accepts an object either as a Ref or as its rendered path, the way
// the API server receives it on the wire
func refArg(v any) (ixnet.Ref, error) {
	switch r := v.(type) {
	case ixnet.Ref:
		return r, nil
	case string:
		return ixnet.ParseRef(r)
	}
	return ixnet.Ref{}, errors.Errorf("expected an object reference, got %T", v)
}

func (s *Store) appendProtocol(args []any) error {
	if len(args) != 2 {
		return errors.New("append: expected target stack item and protocol template")
	}
	target, err := refArg(args[0])
	if err != nil {
		return errors.Wrap(err, "append: target")
	}
	tmpl, err := refArg(args[1])
	if err != nil || tmpl.Leaf().Kind != "protocolTemplate" {
		return errors.Errorf("append: %v is not a protocol template", args[1])
	}
	ce, pos, err := s.lookupStackPos(target)
	if err != nil {
		return err
	}
	si, err := newStackItem(tmpl.Leaf().ID)
	if err != nil {
		return err
	}
	stack := make([]*stackItem, 0, len(ce.stack)+1)
	stack = append(stack, ce.stack[:pos+1]...)
	stack = append(stack, si)
	stack = append(stack, ce.stack[pos+1:]...)
	ce.stack = stack
	return nil
}

func (s *Store) columnValues(args []any) (any, error) {
	if len(args) != 2 {
		return nil, errors.New("getColumnValues: expected view and column")
	}
	view, err := refArg(args[0])
	if err != nil || view.Leaf().Kind != "view" {
		return nil, errors.Errorf("getColumnValues: %v is not a statistics view", args[0])
	}
	column, ok := args[1].(string)
	if !ok {
		return nil, errors.Errorf("getColumnValues: column must be a string, got %T", args[1])
	}

	cols, ok := s.views[view.Leaf().ID]
	if !ok && s.synthetic {
		cols = s.syntheticView(view.Leaf().ID)
	}
	vals := cols[column]
	out := make([]string, len(vals))
	copy(out, vals)
	return out, nil
}
