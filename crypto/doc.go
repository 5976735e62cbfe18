/*
Package crypto provides the basis for secure communication with a causaldoc server. Other than making
TLS configurations for the server listeners and for clients available, it can generate self-signed
certificates for deployments without a PKI and for tests.
*/
package crypto
