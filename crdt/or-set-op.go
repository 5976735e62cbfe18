package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// Constants

// Kinds of operations understood by ORSet and ORMap.
const (
	OpAdd OpKind = iota + 1
	OpRm
	OpUp
)

// Structs

// OpKind discriminates the operation variants.
type OpKind uint8

// ORSetOp represents the broadcast op-based update
// message of an ORSet. An add carries the dot it
// introduces and the clock of the add context that
// authorized it, a remove carries the clock of all
// dots it drops. Members lists the affected elements.
type ORSetOp struct {
	Operation OpKind
	Dot       Dot
	Clock     VClock
	Members   [][]byte
}

// Functions

// String returns the name of an operation kind.
func (k OpKind) String() string {

	switch k {
	case OpAdd:
		return "add"
	case OpRm:
		return "rmv"
	case OpUp:
		return "up"
	}

	return "op(" + strconv.Itoa(int(k)) + ")"
}

// String renders the operation for log output.
func (op *ORSetOp) String() string {

	members := make([]string, len(op.Members))
	for i, m := range op.Members {
		members[i] = strconv.Quote(string(m))
	}

	if op.Operation == OpAdd {
		return fmt.Sprintf("%s|%s|%s|%s", op.Operation, op.Dot, op.Clock, strings.Join(members, ","))
	}

	return fmt.Sprintf("%s|%s|%s", op.Operation, op.Clock, strings.Join(members, ","))
}

// Clone returns a deep copy of op.
func (op *ORSetOp) Clone() *ORSetOp {

	members := make([][]byte, len(op.Members))
	for i, m := range op.Members {
		members[i] = append(make([]byte, 0, len(m)), m...)
	}

	return &ORSetOp{
		Operation: op.Operation,
		Dot:       op.Dot,
		Clock:     op.Clock.Clone(),
		Members:   members,
	}
}
