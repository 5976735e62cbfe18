package document

import (
	"encoding/json"
	"testing"

	"github.com/numbleroot/causaldoc/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func contents(t *testing.T, doc *Document, key crdt.RecordKey) []string {

	r := doc.GetRecord(key)
	if r.Val == nil {
		return nil
	}

	m := make([]string, 0, r.Val.Len())
	for _, e := range r.Val.Members() {
		m = append(m, string(e))
	}

	return m
}

// TestExample checks the seed document.
func TestExample(t *testing.T) {

	doc := Example()

	assert.Equal(t, []string{"another thing", "thing 1", "who knows what this is"}, contents(t, doc, 1))
	assert.Equal(t, crdt.VClock{0: 1}, doc.GetReadCtx().AddClock)

	if doc.GetRecord(2).Val != nil {
		t.Fatalf("[document.TestExample] Expected record 2 to be absent but got %v\n", doc.GetRecord(2).Val.Members())
	}
}

// TestDigest checks that the digest changes with
// the content and survives a binary round trip.
func TestDigest(t *testing.T) {

	doc := Example()

	before, err := doc.Digest()
	require.NoError(t, err)

	b, err := doc.MarshalBinary()
	require.NoError(t, err)

	decoded := New()
	require.NoError(t, decoded.UnmarshalBinary(b))

	after, err := decoded.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	op, err := doc.UpdateRecord(2, doc.GetReadCtx().DeriveAddCtx(5), func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {
		return set.Add([]byte("new"), ctx)
	})
	require.NoError(t, err)
	doc.Apply(op)

	changed, err := doc.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)

	// Applying the same operation again changes nothing.
	doc.Apply(op)

	again, err := doc.Digest()
	require.NoError(t, err)
	assert.Equal(t, changed, again)

	assert.Error(t, decoded.UnmarshalBinary([]byte{0x0a, 0x05}))
}

// TestMarshalJSON checks the human-readable render.
func TestMarshalJSON(t *testing.T) {

	doc := Example()

	b, err := json.Marshal(doc)
	require.NoError(t, err)

	var rendered struct {
		Clock   string `json:"clock"`
		Digest  string `json:"digest"`
		Records []struct {
			Key     uint32   `json:"key"`
			Members []string `json:"members"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(b, &rendered))

	assert.Equal(t, "{0:1}", rendered.Clock)
	assert.Len(t, rendered.Digest, 64)
	require.Len(t, rendered.Records, 1)
	assert.Equal(t, uint32(1), rendered.Records[0].Key)
	assert.Equal(t, []string{"another thing", "thing 1", "who knows what this is"}, rendered.Records[0].Members)
}

// TestCloneMerge checks that clones evolve independently
// and merge back into the same state.
func TestCloneMerge(t *testing.T) {

	doc := Example()
	clone := doc.Clone()

	op, err := clone.UpdateRecord(1, clone.GetRecord(1).DeriveAddCtx(3), func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {
		return set.Add([]byte("thing 2"), ctx)
	})
	require.NoError(t, err)
	clone.Apply(op)

	assert.Len(t, contents(t, doc, 1), 3)
	assert.Len(t, contents(t, clone, 1), 4)

	doc.Merge(clone)

	a, err := doc.Digest()
	require.NoError(t, err)

	b, err := clone.Digest()
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
