package sender

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// DKIMConfig enables DKIM signing when Selector is set.
type DKIMConfig struct {
	Selector   string
	Domain     string // defaults to the From domain
	KeyPath    string
	PrivateKey string // inline PEM, wins over KeyPath
}

func (c DKIMConfig) enabled() bool {
	return strings.TrimSpace(c.Selector) != "" || strings.TrimSpace(c.KeyPath) != "" || strings.TrimSpace(c.PrivateKey) != ""
}

type dkimSigner struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// newDKIMSigner returns nil when DKIM is not configured.
func newDKIMSigner(cfg DKIMConfig) (*dkimSigner, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" {
		return nil, errors.New("dkim: selector is required when enabling DKIM")
	}

	var pemData []byte
	switch {
	case strings.TrimSpace(cfg.PrivateKey) != "":
		pemData = []byte(cfg.PrivateKey)
	case strings.TrimSpace(cfg.KeyPath) != "":
		data, err := os.ReadFile(strings.TrimSpace(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: provide a key path or an inline private key")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &dkimSigner{
		domain:     strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector:   selector,
		key:        key,
		headerKeys: []string{"from", "to", "subject", "date", "mime-version", "content-type", "message-id", "reply-to"},
	}, nil
}

func (s *dkimSigner) sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	domain := s.domain
	if domain == "" {
		domain = extractDomain(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	var signed bytes.Buffer
	err := msgauthdkim.Sign(&signed, bytes.NewReader(message), &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}
