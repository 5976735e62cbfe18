package evaluation

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/numbleroot/causaldoc/client"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/pkg/errors"
)

// Structs

// Options configures one evaluation run.
type Options struct {

	// Sessions writing concurrently.
	Sessions int

	// Writes per session.
	Writes int

	// Writes are spread round robin over keys
	// FirstKey to FirstKey+Keys-1.
	FirstKey crdt.RecordKey
	Keys     int
}

// Result summarizes one evaluation run.
type Result struct {
	Latencies []time.Duration
	Mean      time.Duration
	Median    time.Duration
	Max       time.Duration
	Converged bool
}

// DialFunc opens a fresh client connection.
type DialFunc func() (*client.Client, error)

// Functions

// View maps every key of doc to its members. Two
// documents holding the same content have equal views
// regardless of their causal metadata.
func View(doc *document.Document) map[crdt.RecordKey][]string {

	view := make(map[crdt.RecordKey][]string)

	for key := range doc.Keys() {

		set := doc.GetRecord(key.Val).Val
		if set == nil {
			continue
		}

		members := make([]string, 0, set.Len())
		for _, m := range set.Members() {
			members = append(members, string(m))
		}

		view[key.Val] = members
	}

	return view
}

// Run lets opts.Sessions sessions write concurrently
// and then has every session catch up with the server.
// If log is not nil, one line per write is written to
// it: session, write index and latency.
func Run(ctx context.Context, dial DialFunc, opts Options, log io.Writer) (*Result, error) {

	if (opts.Sessions <= 0) || (opts.Writes < 0) || (opts.Keys <= 0) {
		return nil, errors.Errorf("invalid options %+v", opts)
	}

	sessions := make([]*client.Session, opts.Sessions)
	clients := make([]*client.Client, 0, opts.Sessions)

	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	for i := range sessions {

		c, err := dial()
		if err != nil {
			return nil, errors.Wrapf(err, "dialing session %d failed", i)
		}
		clients = append(clients, c)

		sessions[i], err = client.NewSession(ctx, c)
		if err != nil {
			return nil, errors.Wrapf(err, "starting session %d failed", i)
		}
	}

	var wg sync.WaitGroup
	var logLock sync.Mutex

	latencies := make([][]time.Duration, opts.Sessions)
	errs := make([]error, opts.Sessions)

	for i, s := range sessions {

		wg.Add(1)

		go func(i int, s *client.Session) {

			defer wg.Done()

			latencies[i] = make([]time.Duration, 0, opts.Writes)

			for w := 0; w < opts.Writes; w++ {

				key := opts.FirstKey + crdt.RecordKey(w%opts.Keys)
				content := fmt.Sprintf("session %d write %d", i, w)

				// A write takes one read of the record
				// plus sending the operation.
				start := time.Now()

				if _, err := s.Add(ctx, key, []byte(content)); err != nil {
					errs[i] = errors.Wrapf(err, "session %d write %d failed", i, w)
					return
				}

				diff := time.Since(start)
				latencies[i] = append(latencies[i], diff)

				if log != nil {
					logLock.Lock()
					fmt.Fprintf(log, "%d, %d, %s\r\n", i, w, diff)
					logLock.Unlock()
				}
			}
		}(i, s)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// Each session's writes precede its own first sync
	// on its connection. After two rounds every session
	// has seen every write.
	for round := 0; round < 2; round++ {
		for i, s := range sessions {
			if err := s.Sync(ctx); err != nil {
				return nil, errors.Wrapf(err, "syncing session %d failed", i)
			}
		}
	}

	want, err := clients[0].Document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching server document failed")
	}

	result := summarize(latencies)
	result.Converged = true

	wantView := View(want)
	for _, s := range sessions {
		if !reflect.DeepEqual(wantView, View(s.Document())) {
			result.Converged = false
		}
	}

	return result, nil
}

// summarize flattens and sorts the latencies of all
// sessions and computes their statistics.
func summarize(perSession [][]time.Duration) *Result {

	result := &Result{}

	for _, l := range perSession {
		result.Latencies = append(result.Latencies, l...)
	}

	if len(result.Latencies) == 0 {
		return result
	}

	sort.Slice(result.Latencies, func(i, j int) bool {
		return result.Latencies[i] < result.Latencies[j]
	})

	var total time.Duration
	for _, l := range result.Latencies {
		total += l
	}

	n := len(result.Latencies)
	result.Mean = total / time.Duration(n)
	result.Median = result.Latencies[n/2]
	result.Max = result.Latencies[n-1]

	return result
}

// String renders r on one line.
func (r *Result) String() string {

	return fmt.Sprintf("writes=%d mean=%s median=%s max=%s converged=%t",
		len(r.Latencies), r.Mean, r.Median, r.Max, r.Converged)
}
