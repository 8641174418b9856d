package ixnet

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned when an operation runs before a session exists
var ErrNotConnected = errors.New("ixnetwork client not connected")

// FlowNotPresentError means no endpoint set carries the flow group name
type FlowNotPresentError struct {
	FlowGroup string
}

func (e *FlowNotPresentError) Error() string {
	return fmt.Sprintf("flow group %q not present", e.FlowGroup)
}

// FieldNotPresentError means a stack item has no field matching the name
type FieldNotPresentError struct {
	Field     string
	StackItem Ref
}

func (e *FieldNotPresentError) Error() string {
	return fmt.Sprintf("field %q not present in stack item %s", e.Field, e.StackItem.Path())
}

// UnsupportedProtocolError is returned for L4 protocols other than UDP
type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("protocol %q is not supported", e.Protocol)
}
