package document

import (
	"github.com/numbleroot/causaldoc/crdt"
)

// Structs

// OpLog is the append-only trail of every operation
// a replica applied, in application order. It lives
// in memory only.
type OpLog struct {
	ops []crdt.ORMapOp
}

// Functions

// NewOpLog returns an empty log.
func NewOpLog() *OpLog {

	return &OpLog{
		ops: make([]crdt.ORMapOp, 0, 64),
	}
}

// Append adds op to the end of the log.
func (l *OpLog) Append(op crdt.ORMapOp) {
	l.ops = append(l.ops, op.Clone())
}

// Len returns the number of logged operations.
func (l *OpLog) Len() int {
	return len(l.ops)
}

// Since returns copies of all operations logged at
// position from or later. Out of range positions
// yield no operations.
func (l *OpLog) Since(from int) []crdt.ORMapOp {

	if (from < 0) || (from >= len(l.ops)) {
		return []crdt.ORMapOp{}
	}

	ops := make([]crdt.ORMapOp, 0, len(l.ops)-from)
	for _, op := range l.ops[from:] {
		ops = append(ops, op.Clone())
	}

	return ops
}

// Replay applies every logged operation to into.
func (l *OpLog) Replay(into *Document) {

	for _, op := range l.ops {
		into.Apply(op.Clone())
	}
}
