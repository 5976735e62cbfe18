/*
Package comm implements the command and response protocol spoken between
causaldoc clients and the server, its binary wire encoding, and three message
transports carrying it: length-framed TCP streams, websockets and a gRPC
bidirectional stream. Every transport delivers whole messages, so one Command
or DocResponse always travels as exactly one message.
*/
package comm
