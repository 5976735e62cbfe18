package document

import (
	"encoding/hex"
	"encoding/json"
	"iter"

	"github.com/minio/blake2b-simd"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/pkg/errors"
)

// Structs

// Document is the single logical document a server
// replicates: a map from record keys to records,
// each record a set of opaque byte strings.
type Document struct {
	Records *crdt.ORMap
}

// jsonRecord is the human-readable form of one record.
type jsonRecord struct {
	Key     crdt.RecordKey `json:"key"`
	Clock   string         `json:"clock"`
	Members []string       `json:"members"`
}

type jsonDocument struct {
	Clock   string       `json:"clock"`
	Digest  string       `json:"digest"`
	Records []jsonRecord `json:"records"`
}

// Functions

// New returns an empty document.
func New() *Document {

	return &Document{
		Records: crdt.NewORMap(),
	}
}

// Example returns the document a fresh server starts
// with: record 1 holds three elements written by actor 0.
func Example() *Document {

	doc := New()

	read := doc.GetReadCtx()
	op, err := doc.UpdateRecord(1, read.DeriveAddCtx(0), func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {

		return set.AddAll([][]byte{
			[]byte("thing 1"),
			[]byte("another thing"),
			[]byte("who knows what this is"),
		}, ctx)
	})
	if err != nil {
		panic(err)
	}

	doc.Apply(op)

	return doc
}

// UpdateRecord prepares the operation changing the
// record at key as computed by fn.
func (d *Document) UpdateRecord(key crdt.RecordKey, ctx *crdt.AddCtx, fn crdt.UpdateFunc) (crdt.ORMapOp, error) {
	return d.Records.Update(key, ctx, fn)
}

// GetRecord reads the record at key.
func (d *Document) GetRecord(key crdt.RecordKey) crdt.ReadCtx[*crdt.ORSet] {
	return d.Records.Get(key)
}

// GetReadCtx returns the aggregate read context.
func (d *Document) GetReadCtx() crdt.ReadCtx[struct{}] {
	return d.Records.ReadCtx()
}

// RemoveRecord prepares the operation removing key
// as far as ctx has observed it.
func (d *Document) RemoveRecord(key crdt.RecordKey, ctx crdt.RmCtx) crdt.ORMapOp {
	return d.Records.Rm(key, ctx)
}

// Apply merges op into the document.
func (d *Document) Apply(op crdt.ORMapOp) {
	d.Records.Apply(op)
}

// Keys returns a snapshot of all record keys.
func (d *Document) Keys() iter.Seq[crdt.ReadCtx[crdt.RecordKey]] {
	return d.Records.Keys()
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {

	return &Document{
		Records: d.Records.Clone(),
	}
}

// Merge joins the full state of other into d.
func (d *Document) Merge(other *Document) {
	d.Records.Merge(other.Records)
}

// MarshalBinary returns the canonical encoding of d.
func (d *Document) MarshalBinary() ([]byte, error) {
	return d.Records.MarshalBinary()
}

// UnmarshalBinary decodes b into d.
func (d *Document) UnmarshalBinary(b []byte) error {

	records := crdt.NewORMap()
	if err := records.UnmarshalBinary(b); err != nil {
		return errors.Wrap(err, "decoding document failed")
	}

	d.Records = records

	return nil
}

// Digest returns the BLAKE2b-256 hash of the canonical
// encoding. Replicas in identical states share a digest.
func (d *Document) Digest() ([32]byte, error) {

	b, err := d.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}

	return blake2b.Sum256(b), nil
}

// MarshalJSON renders the live content of d for humans.
// Causal metadata besides the clocks is left out.
func (d *Document) MarshalJSON() ([]byte, error) {

	digest, err := d.Digest()
	if err != nil {
		return nil, err
	}

	doc := jsonDocument{
		Clock:   d.Records.Clock().String(),
		Digest:  hex.EncodeToString(digest[:]),
		Records: []jsonRecord{},
	}

	for key := range d.Keys() {

		rec := jsonRecord{
			Key:     key.Val,
			Clock:   key.RmClock.String(),
			Members: []string{},
		}

		if set := d.GetRecord(key.Val).Val; set != nil {

			for _, m := range set.Members() {
				rec.Members = append(rec.Members, string(m))
			}
		}

		doc.Records = append(doc.Records, rec)
	}

	return json.Marshal(doc)
}
