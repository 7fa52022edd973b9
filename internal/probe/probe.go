// Package probe inspects live system state consulted during conflict
// checking.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/podstage/podstage/internal/execx"
	"github.com/podstage/podstage/internal/log"
)

// SocketProber lists host ports with a listening socket by parsing
// ss(8) output.
type SocketProber struct {
	logger log.Logger
	runner execx.Runner
}

// NewSocketProber creates a prober using the given command runner.
func NewSocketProber(logger log.Logger, runner execx.Runner) *SocketProber {
	return &SocketProber{logger: logger, runner: runner}
}

// ListeningPorts returns the set of host ports currently listening on
// tcp or udp. Lines that cannot be parsed are skipped.
func (p *SocketProber) ListeningPorts(ctx context.Context) (map[int]struct{}, error) {
	out, err := p.runner.Output(ctx, "ss", "-tulnH")
	if err != nil {
		return nil, fmt.Errorf("failed to list listening sockets: %w", err)
	}

	ports := make(map[int]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		// Local address is the fifth column, e.g. "0.0.0.0:8080" or "[::]:22".
		addr := fields[4]
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(addr[idx+1:])
		if err != nil {
			p.logger.Debug("Skipping unparsable socket line", "line", line)
			continue
		}
		ports[port] = struct{}{}
	}

	return ports, nil
}
