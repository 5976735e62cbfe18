package crypto

import (
	"net"
	"os"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"

	"github.com/pkg/errors"
)

// Structs

// KeyPair is a certificate and its private key,
// both in PEM format.
type KeyPair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Functions

// certTemplate returns a certificate template that
// has all default values for our certificates already set.
func certTemplate(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Now generate that random number.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	return &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"causaldoc"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}, nil
}

// GenerateCert creates a self-signed certificate valid
// for the supplied hosts, IP addresses or names, from
// now on for validFor. The certificate can serve and
// be trusted as its own root.
func GenerateCert(hosts []string, validFor time.Duration, rsaBits int) (*KeyPair, error) {

	// Generate the key pair.
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	notBefore := time.Now().Add(-time.Minute)

	template, err := certTemplate(notBefore, notBefore.Add(validFor))
	if err != nil {
		return nil, err
	}

	template.IsCA = true
	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	for _, host := range hosts {

		// Parse supplied IP addresses, use the rest as names.
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Create the actual certificate.
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create DER byte representation of certificate")
	}

	return &KeyPair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}, nil
}

// Certificate parses the key pair for use in a TLS config.
func (p *KeyPair) Certificate() (tls.Certificate, error) {

	cert, err := tls.X509KeyPair(p.CertPEM, p.KeyPEM)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "parsing generated key pair failed")
	}

	return cert, nil
}

// Write saves certificate and key to the supplied
// paths. The key file is only readable by its owner.
func (p *KeyPair) Write(certPath string, keyPath string) error {

	if err := os.WriteFile(certPath, p.CertPEM, 0644); err != nil {
		return errors.Wrapf(err, "failed to write certificate to %s", certPath)
	}

	if err := os.WriteFile(keyPath, p.KeyPEM, 0600); err != nil {
		return errors.Wrapf(err, "failed to write key to %s", keyPath)
	}

	return nil
}
