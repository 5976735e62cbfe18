/*
Package evaluation drives a running causaldoc server with concurrent
sessions writing to shared records, measures the round trip time of every
write and checks afterwards that all sessions converged on the state the
server holds. Results can be written as a CSV-like log for later analysis.
*/
package evaluation
