package natsfeed

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// RunEmbedded starts an in-process NATS server on host:port (port -1 picks
// a free one) and waits until it accepts connections.
func RunEmbedded(host string, port int) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "backchannel-feed",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return ns, nil
}
