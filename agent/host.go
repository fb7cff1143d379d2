package agent

import (
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/blakecragen/cluster/api"
)

// NewWorkerID returns "<hostname>-<8 hex>". The salt keeps two agents on
// one host, or a restarted container reusing a hostname, distinct.
func NewWorkerID() string {
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return hostname() + "-" + salt
}

// Capabilities returns the tags every agent advertises for this platform
// and runner, followed by extra.
func Capabilities(runner string, extra ...string) []string {
	caps := []string{
		"os/" + runtime.GOOS,
		"arch/" + runtime.GOARCH,
		runtime.GOOS + "/" + runtime.GOARCH,
		"runner/" + runner,
	}
	return append(caps, extra...)
}

// hostInfo fills the descriptive part of a registration.
func hostInfo(req *api.RegisterRequest) {
	req.Hostname = hostname()
	req.OS = runtime.GOOS
	req.CPU = runtime.GOARCH
	req.Kernel = kernelRelease()
	req.IP = outboundIP()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker"
	}
	return h
}

// kernelRelease reads the Linux kernel release. Other platforms report
// nothing.
func kernelRelease() string {
	b, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// outboundIP returns the local address used to reach the network. Dialing
// UDP sends no packets. An empty result lets the coordinator use the
// request's source address.
func outboundIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
