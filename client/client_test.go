package client_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/numbleroot/causaldoc/client"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/numbleroot/causaldoc/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func contents(doc *document.Document, key crdt.RecordKey) []string {

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

func createEnv(t *testing.T, configFile string) *utils.TestEnv {

	env, err := utils.CreateTestEnv(configFile, nil)
	if err != nil {
		t.Fatalf("[client.createEnv] Expected test environment but received: %v\n", err)
	}
	t.Cleanup(env.Close)

	return env
}

func dial(t *testing.T, env *utils.TestEnv, transport string) *client.Client {

	conn, err := env.Dial(transport)
	require.NoError(t, err, transport)

	c := client.New(conn)
	t.Cleanup(func() { c.Close() })

	return c
}

func testCtx(t *testing.T) context.Context {

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// TestClientReads runs the read commands over
// every transport.
func TestClientReads(t *testing.T) {

	env := createEnv(t, "")
	ctx := testCtx(t)

	seen := make(map[crdt.Actor]string)

	for _, transport := range utils.Transports {

		c := dial(t, env, transport)

		doc, err := c.Document(ctx)
		require.NoError(t, err, transport)
		assert.Equal(t, []string{"another thing", "thing 1", "who knows what this is"}, contents(doc, 1), transport)

		rec, err := c.Record(ctx, 1)
		require.NoError(t, err, transport)
		assert.Equal(t, 3, rec.Val.Len(), transport)
		assert.Equal(t, crdt.VClock{0: 1}, rec.RmClock, transport)

		missing, err := c.Record(ctx, 42)
		require.NoError(t, err, transport)
		assert.Nil(t, missing.Val, transport)

		read, err := c.ReadCtx(ctx)
		require.NoError(t, err, transport)
		assert.Equal(t, crdt.VClock{0: 1}, read.AddClock, transport)

		actor, err := c.RequestActor(ctx)
		require.NoError(t, err, transport)

		if other, found := seen[actor]; found {
			t.Fatalf("[client.TestClientReads] Expected fresh actor over %s but %d was already assigned over %s\n", transport, actor, other)
		}
		seen[actor] = transport

		ops, err := c.Ops(ctx, 0)
		require.NoError(t, err, transport)
		assert.Empty(t, ops, transport)
	}
}

// TestSessions checks that sessions on different
// transports converge with the server.
func TestSessions(t *testing.T) {

	env := createEnv(t, "")
	ctx := testCtx(t)

	sessions := make([]*client.Session, 0, len(utils.Transports))

	for _, transport := range utils.Transports {

		s, err := client.NewSession(ctx, dial(t, env, transport))
		require.NoError(t, err, transport)

		sessions = append(sessions, s)
	}

	_, err := sessions[0].Add(ctx, 1, []byte("thing 2"))
	require.NoError(t, err)

	require.NoError(t, sessions[1].AddViaServer(ctx, 2, "via server"))

	_, err = sessions[2].Add(ctx, 2, []byte("locally"))
	require.NoError(t, err)

	_, err = sessions[1].RemoveContent(ctx, 1, []byte("another thing"))
	require.NoError(t, err)

	// Every session reads the server after its own
	// writes, so the server has seen everything once
	// the last session synced.
	for _, s := range sessions {
		require.NoError(t, s.Sync(ctx))
	}
	for _, s := range sessions {
		require.NoError(t, s.Sync(ctx))
	}

	want := env.State.Document()
	assert.Equal(t, []string{"thing 1", "thing 2", "who knows what this is"}, contents(want, 1))
	assert.Equal(t, []string{"locally", "via server"}, contents(want, 2))

	for _, s := range sessions {
		assert.Equal(t, contents(want, 1), contents(s.Document(), 1), "actor %d", s.Actor())
		assert.Equal(t, contents(want, 2), contents(s.Document(), 2), "actor %d", s.Actor())
	}

	// Removing a record removes what the server saw.
	_, err = sessions[0].RemoveRecord(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, sessions[0].Sync(ctx))
	require.NoError(t, sessions[2].Sync(ctx))

	assert.Nil(t, contents(sessions[2].Document(), 2))
	assert.Nil(t, contents(env.State.Document(), 2))
}

// TestFollow checks that a following session receives
// operations of other sessions without polling.
func TestFollow(t *testing.T) {

	env := createEnv(t, "")
	ctx := testCtx(t)

	follower, err := client.NewSession(ctx, dial(t, env, "ws"))
	require.NoError(t, err)

	writer, err := client.NewSession(ctx, dial(t, env, "grpc"))
	require.NoError(t, err)

	received := make(chan crdt.ORMapOp, 1)
	followCtx, stop := context.WithCancel(ctx)

	done := make(chan error, 1)
	go func() {
		done <- follower.Follow(followCtx, func(op crdt.ORMapOp) {
			select {
			case received <- op:
			default:
			}
		})
	}()

	// Subscribing races with the write, retry until
	// one write was pushed.
	var op crdt.ORMapOp
	for op.Operation == 0 {

		written, err := writer.Add(ctx, 3, []byte("followed"))
		require.NoError(t, err)

		select {
		case op = <-received:
			assert.Equal(t, written.Key, op.Key)
		case <-time.After(200 * time.Millisecond):
		}
	}

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"followed"}, contents(follower.Document(), 3))
}

// TestFollowReturned checks that a session keeps
// taking pushed operations after Follow returned, so
// later requests are still answered.
func TestFollowReturned(t *testing.T) {

	env := createEnv(t, "")
	ctx := testCtx(t)

	follower, err := client.NewSession(ctx, dial(t, env, "tcp"))
	require.NoError(t, err)

	writer, err := client.NewSession(ctx, dial(t, env, "tcp"))
	require.NoError(t, err)

	followCtx, stop := context.WithCancel(ctx)
	stop()
	assert.ErrorIs(t, follower.Follow(followCtx, nil), context.Canceled)

	// More pushes than the client buffers.
	for i := 0; i < 1500; i++ {
		_, err := writer.Add(ctx, crdt.RecordKey(100+(i%5)), []byte(fmt.Sprintf("write %d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, follower.Sync(ctx))
	assert.Len(t, contents(follower.Document(), 100), 300)

	// A second Follow picks up where the first left.
	received := make(chan crdt.ORMapOp, 1)
	done := make(chan error, 1)

	followCtx, stop = context.WithCancel(ctx)
	defer stop()

	go func() {
		done <- follower.Follow(followCtx, func(op crdt.ORMapOp) {
			select {
			case received <- op:
			default:
			}
		})
	}()

	var op crdt.ORMapOp
	for op.Operation == 0 {

		_, err := writer.Add(ctx, 200, []byte("after"))
		require.NoError(t, err)

		select {
		case op = <-received:
		case <-time.After(200 * time.Millisecond):
		}
	}

	assert.Equal(t, crdt.RecordKey(200), op.Key)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// TestMalformedMessages checks that undecodable
// messages are dropped without closing the connection.
func TestMalformedMessages(t *testing.T) {

	env := createEnv(t, "")
	ctx := testCtx(t)

	for _, transport := range utils.Transports {

		conn, err := env.Dial(transport)
		require.NoError(t, err, transport)

		require.NoError(t, conn.Send([]byte{0xff, 0x01}), transport)
		require.NoError(t, conn.Send(nil), transport)

		c := client.New(conn)

		_, err = c.ReadCtx(ctx)
		require.NoError(t, err, transport)

		require.NoError(t, c.Close())
	}
}

// TestHTTPEndpoints checks the document renderings.
func TestHTTPEndpoints(t *testing.T) {

	env := createEnv(t, "")

	resp, err := http.Get(env.HTTPURL() + "/document")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rendered struct {
		Records []struct {
			Key     uint32   `json:"key"`
			Members []string `json:"members"`
		} `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rendered))
	require.Len(t, rendered.Records, 1)
	assert.Contains(t, rendered.Records[0].Members, "thing 1")

	resp, err = http.Get(env.HTTPURL() + "/document/digest")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	digest, err := env.State.Digest()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest[:]), strings.TrimSpace(string(body)))

	resp, err = http.Post(env.HTTPURL()+"/document", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestTLS runs a session over every transport of a
// server configured for TLS.
func TestTLS(t *testing.T) {

	env := createEnv(t, "testdata/tls.toml")
	ctx := testCtx(t)

	require.NotNil(t, env.TLSConfig)

	for _, transport := range utils.Transports {

		s, err := client.NewSession(ctx, dial(t, env, transport))
		require.NoError(t, err, transport)

		_, err = s.Add(ctx, 9, []byte(transport))
		require.NoError(t, err, transport)
	}

	// Writes travel asynchronously, read through
	// a fresh client to see all of them.
	c := dial(t, env, "tcp")

	require.Eventually(t, func() bool {

		rec, err := c.Record(ctx, 9)
		return (err == nil) && (rec.Val != nil) && (rec.Val.Len() == 3)
	}, 5*time.Second, 20*time.Millisecond)
}
