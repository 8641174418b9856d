package ixnet

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Attr is one "-name value" pair passed to SetMultiAttribute
type Attr struct {
	Name  string
	Value any
}

// A builds an Attr
func A(name string, value any) Attr { return Attr{Name: name, Value: value} }

// PortLocation identifies one physical port on a chassis
type PortLocation struct {
	Chassis string
	Card    string
	Port    string
}

func (p PortLocation) String() string {
	return fmt.Sprintf("%s;%s;%s", p.Chassis, p.Card, p.Port)
}

// ParsePortLocation parses the "chassis;card;port" form of String
func ParsePortLocation(s string) (PortLocation, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return PortLocation{}, errors.Errorf("invalid port location %q, want chassis;card;port", s)
	}
	return PortLocation{Chassis: parts[0], Card: parts[1], Port: parts[2]}, nil
}

// Session is a connected handle to the remote object store.
// Calls are synchronous and must be issued from a single goroutine.
type Session interface {
	// Add creates a child object of the given kind under parent
	Add(parent Ref, kind string) (Ref, error)
	// GetList lists the children of the given kind
	GetList(parent Ref, kind string) ([]Ref, error)
	GetAttribute(obj Ref, name string) (string, error)
	SetAttribute(obj Ref, name string, value any) error
	SetMultiAttribute(obj Ref, attrs ...Attr) error
	// Execute runs a named action; the result shape depends on the action
	Execute(action string, args ...any) (any, error)
	// Commit flushes pending changes to the server
	Commit() error
	// RemapIDs turns temporary references returned by Add into permanent ones
	RemapIDs(refs ...Ref) ([]Ref, error)
	Close() error
}

// DialOptions carries what is needed to open a session
type DialOptions struct {
	Host    string
	Port    string
	Version string
}

// Dialer opens sessions to an IxNetwork API server
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, opts DialOptions) (Session, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, opts DialOptions) (Session, error) {
	return f(ctx, opts)
}
