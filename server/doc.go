/*
Package server holds the authoritative replica of the document and serves it
to clients over framed TCP, websockets and gRPC.

All connections share one State. Every command of a connection is handled in
the order it arrived, read commands are answered in that order as well. Write
commands are merged without an answer. Connections that subscribed receive
every operation applied on behalf of another connection.
*/
package server
