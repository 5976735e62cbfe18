package comm

import (
	"fmt"

	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
)

// Structs

// Command is a request a client sends to the server.
// The set of commands is closed: only the types of
// this package implement it.
type Command interface {
	fmt.Stringer
	isCommand()
}

// DocResponse is a message the server sends to a
// client, either answering a read command or pushing
// an operation applied on behalf of another client.
type DocResponse interface {
	fmt.Stringer
	isDocResponse()
}

// GetDocument asks for a snapshot of the whole document.
type GetDocument struct{}

// GetRecord asks for the record at Key and its read context.
type GetRecord struct {
	Key crdt.RecordKey
}

// GetReadCtx asks for the aggregate read context.
type GetReadCtx struct{}

// Add lets the server build and apply the operation
// adding Content to the record at Key under AddCtx.
type Add struct {
	AddCtx  *crdt.AddCtx
	Key     crdt.RecordKey
	Content string
}

// Apply hands an operation built by the client to the server.
type Apply struct {
	Op crdt.ORMapOp
}

// Remove lets the server remove the record at Key as
// far as RmCtx observed it.
type Remove struct {
	RmCtx crdt.RmCtx
	Key   crdt.RecordKey
}

// RequestActor asks the server for an actor no other
// client has been handed.
type RequestActor struct{}

// GetOps asks for every logged operation from position From on.
type GetOps struct {
	From uint64
}

// Subscribe asks the server to push every operation
// other clients get applied from now on.
type Subscribe struct{}

// DocumentReply answers GetDocument.
type DocumentReply struct {
	Doc *document.Document
}

// RecordReply answers GetRecord. Val is nil for
// absent or empty records.
type RecordReply struct {
	ReadCtx crdt.ReadCtx[*crdt.ORSet]
}

// ReadCtxReply answers GetReadCtx.
type ReadCtxReply struct {
	ReadCtx crdt.ReadCtx[struct{}]
}

// ActorReply answers RequestActor.
type ActorReply struct {
	ID crdt.Actor
}

// OpsReply answers GetOps.
type OpsReply struct {
	From uint64
	Ops  []crdt.ORMapOp
}

// AppliedReply pushes an operation to subscribers.
type AppliedReply struct {
	Op crdt.ORMapOp
}

// Functions

func (GetDocument) isCommand()  {}
func (GetRecord) isCommand()    {}
func (GetReadCtx) isCommand()   {}
func (Add) isCommand()          {}
func (Apply) isCommand()        {}
func (Remove) isCommand()       {}
func (RequestActor) isCommand() {}
func (GetOps) isCommand()       {}
func (Subscribe) isCommand()    {}

func (DocumentReply) isDocResponse() {}
func (RecordReply) isDocResponse()   {}
func (ReadCtxReply) isDocResponse()  {}
func (ActorReply) isDocResponse()    {}
func (OpsReply) isDocResponse()      {}
func (AppliedReply) isDocResponse()  {}

func (GetDocument) String() string { return "GetDocument" }

func (c GetRecord) String() string { return fmt.Sprintf("GetRecord{%d}", c.Key) }

func (GetReadCtx) String() string { return "GetReadCtx" }

func (c Add) String() string {

	dot := "-"
	if c.AddCtx != nil {
		dot = c.AddCtx.Dot.String()
	}

	return fmt.Sprintf("Add{%s, %d, %q}", dot, c.Key, c.Content)
}

func (c Apply) String() string { return fmt.Sprintf("Apply{%s}", c.Op) }

func (c Remove) String() string { return fmt.Sprintf("Remove{%s, %d}", c.RmCtx.Clock, c.Key) }

func (RequestActor) String() string { return "RequestActor" }

func (c GetOps) String() string { return fmt.Sprintf("GetOps{%d}", c.From) }

func (Subscribe) String() string { return "Subscribe" }

func (DocumentReply) String() string { return "Document" }

func (r RecordReply) String() string {
	return fmt.Sprintf("Record{%s, present: %t}", r.ReadCtx.RmClock, r.ReadCtx.Val != nil)
}

func (r ReadCtxReply) String() string { return fmt.Sprintf("ReadCtx{%s}", r.ReadCtx.AddClock) }

func (r ActorReply) String() string { return fmt.Sprintf("Actor{%d}", r.ID) }

func (r OpsReply) String() string { return fmt.Sprintf("Ops{%d, %d ops}", r.From, len(r.Ops)) }

func (r AppliedReply) String() string { return fmt.Sprintf("Applied{%s}", r.Op) }

// CommandName returns the name of the variant of c,
// used to label logs and metrics.
func CommandName(c Command) string {

	switch c.(type) {
	case GetDocument:
		return "get_document"
	case GetRecord:
		return "get_record"
	case GetReadCtx:
		return "get_read_ctx"
	case Add:
		return "add"
	case Apply:
		return "apply"
	case Remove:
		return "remove"
	case RequestActor:
		return "request_actor"
	case GetOps:
		return "get_ops"
	case Subscribe:
		return "subscribe"
	}

	return "unknown"
}
