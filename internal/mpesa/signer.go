package mpesa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// Timestamp returns the request timestamp in the switch's YYYYMMDDHHMMSS
// format, taken from the injected clock.
func (c *Client) Timestamp() string {
	return c.now().Format("20060102150405")
}

// DerivePassword computes the STK push password: base64 of the raw
// concatenation shortcode||passkey||timestamp, no separators.
func DerivePassword(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// SecurityCredential encrypts the initiator password under the switch's
// public certificate (PKCS#1 v1.5) and base64-encodes the ciphertext.
// Only the transaction status path needs this.
func (c *Client) SecurityCredential() (string, error) {
	if !c.cfg.HasInitiator() {
		return "", &AuthError{Message: "initiator name, password and certificate path are required for status queries"}
	}

	pub, err := loadPublicKey(c.cfg.CertificatePath)
	if err != nil {
		return "", &AuthError{Message: "load certificate", Err: err}
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(c.cfg.InitiatorPassword))
	if err != nil {
		return "", &AuthError{Message: "encrypt initiator password", Err: err}
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate in %s does not hold an RSA key", path)
		}
		return pub, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key in %s is not RSA", path)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q in %s", block.Type, path)
	}
}
