package server

import (
	"encoding/hex"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
	"github.com/numbleroot/causaldoc/comm"
)

// Functions

// Router returns the HTTP handler of the server:
// the websocket endpoint at /service plus read-only
// renderings of the document.
func (srv *Server) Router() http.Handler {

	r := mux.NewRouter()
	r.Use(srv.logRequests)

	r.Methods(http.MethodGet).Path("/service").HandlerFunc(srv.serveWS)
	r.Methods(http.MethodGet).Path("/document").HandlerFunc(srv.serveDocument)
	r.Methods(http.MethodGet).Path("/document/digest").HandlerFunc(srv.serveDigest)

	return r
}

// logRequests logs every request once it was handled.
func (srv *Server) logRequests(next http.Handler) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		m := httpsnoop.CaptureMetrics(next, w, r)

		level.Debug(log.With(srv.logger,
			"method", r.Method,
			"url", r.URL.String(),
			"status", m.Code,
			"duration", m.Duration,
			"written", m.Written,
		)).Log("msg", "handled http request")
	})
}

// serveWS upgrades the request and serves the
// websocket like any other connection.
func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {

	ws, err := comm.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		level.Info(srv.logger).Log(
			"msg", "websocket upgrade failed",
			"remote", r.RemoteAddr,
			"err", err,
		)
		return
	}

	conn := comm.NewWSConn(ws, srv.maxFrame)
	_ = srv.Sync(conn)
	conn.Close()
}

func (srv *Server) serveDocument(w http.ResponseWriter, r *http.Request) {

	body, err := srv.state.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (srv *Server) serveDigest(w http.ResponseWriter, r *http.Request) {

	digest, err := srv.state.Digest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(hex.EncodeToString(digest[:]) + "\n"))
}
