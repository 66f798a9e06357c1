package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(DefaultValidity, "bridge.lan", "192.168.1.10")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity > DefaultValidity+2*time.Minute {
		t.Errorf("validity too long: %v", validity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}

	expectedFingerprint := sha256.Sum256(cert.TLSCert.Certificate[0])
	if cert.Fingerprint != expectedFingerprint {
		t.Error("fingerprint mismatch")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("FingerprintBase64 returned empty string")
	}

	names := map[string]bool{}
	for _, name := range x509Cert.DNSNames {
		names[name] = true
	}
	if !names["localhost"] || !names["bridge.lan"] {
		t.Errorf("DNS names %v, want localhost and bridge.lan", x509Cert.DNSNames)
	}
	foundIP := false
	for _, ip := range x509Cert.IPAddresses {
		if ip.String() == "192.168.1.10" {
			foundIP = true
		}
	}
	if !foundIP {
		t.Errorf("IP addresses %v, want 192.168.1.10", x509Cert.IPAddresses)
	}
}

func TestGenerateDefaultsValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity > DefaultValidity+2*time.Minute {
		t.Errorf("validity should default to %v, got %v", DefaultValidity, validity)
	}
}

func TestPinnedClientConfig(t *testing.T) {
	t.Parallel()
	cert, err := Generate(DefaultValidity)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Generate(DefaultValidity)
	if err != nil {
		t.Fatal(err)
	}

	conf, err := PinnedClientConfig(cert.FingerprintBase64())
	if err != nil {
		t.Fatal(err)
	}
	if err := conf.VerifyPeerCertificate(cert.TLSCert.Certificate, nil); err != nil {
		t.Errorf("pinned cert rejected: %v", err)
	}
	if err := conf.VerifyPeerCertificate(other.TLSCert.Certificate, nil); err == nil {
		t.Error("unpinned cert accepted")
	}
}

func TestPinnedClientConfigRejectsBadFingerprint(t *testing.T) {
	t.Parallel()
	if _, err := PinnedClientConfig("not base64!!"); err == nil {
		t.Error("malformed fingerprint accepted")
	}
	if _, err := PinnedClientConfig("c2hvcnQ="); err == nil {
		t.Error("truncated fingerprint accepted")
	}
}
