package httpclient

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	utls "github.com/refraction-networking/utls"
)

var helloIDs = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_120,
	"firefox": utls.HelloFirefox_120,
	"safari":  utls.HelloSafari_16_0,
	"edge":    utls.HelloEdge_106,
	"ios":     utls.HelloIOS_14,
}

// Fingerprints lists the accepted engine.tls_fingerprint values.
func Fingerprints() []string {
	names := make([]string, 0, len(helloIDs))
	for name := range helloIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fingerprintSpec builds a fresh ClientHello spec for name. ALPN is pinned to
// http/1.1 because the transport behind it only speaks HTTP/1.
func fingerprintSpec(name string) (*utls.ClientHelloSpec, error) {
	id, ok := helloIDs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown TLS fingerprint %q (want one of %s)", name, strings.Join(Fingerprints(), ", "))
	}
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, fmt.Errorf("build %s ClientHello: %w", name, err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}

func dialFingerprinted(ctx context.Context, conn net.Conn, addr, name string, insecure bool) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	spec, err := fingerprintSpec(name)
	if err != nil {
		conn.Close()
		return nil, err
	}

	uConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure, //nolint:gosec // see SecureClientConfig.InsecureSkipVerify
	}, utls.HelloCustom)
	if err := uConn.ApplyPreset(spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply %s ClientHello: %w", name, err)
	}
	if err := uConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return uConn, nil
}
