package mediainfo

import (
	"strings"

	"trackprobe/internal/models"
)

var schemeProtocols = []struct {
	prefix   string
	protocol models.Protocol
}{
	{"http://", models.ProtocolHTTP},
	{"https://", models.ProtocolHTTP},
	{"rtmp://", models.ProtocolRTMP},
	{"rtsp://", models.ProtocolRTSP},
	{"rtp://", models.ProtocolRTP},
	{"udp://", models.ProtocolUDP},
	{"ftp://", models.ProtocolFTP},
}

// ResolveProtocol infers the protocol of path from its URL scheme. Paths
// without a recognised scheme are local files.
func ResolveProtocol(path string) models.Protocol {
	lower := strings.ToLower(strings.TrimSpace(path))
	for _, entry := range schemeProtocols {
		if strings.HasPrefix(lower, entry.prefix) {
			return entry.protocol
		}
	}
	return models.ProtocolFile
}
