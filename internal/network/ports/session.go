package ports

import (
	"context"

	"basenet/internal/network/index"
	"basenet/internal/network/protocol"
	"basenet/internal/network/runstats"
)

// Session is the working set of one partition pass: the transactional
// store, the node index built for the pass, the partition's statistics
// and the protocol sink.
type Session struct {
	Store    Store
	Index    *index.NodeIndex
	Stats    *runstats.Accumulator
	Protocol protocol.Recorder
}

// Record writes a to the protocol sink, if any.
func (s *Session) Record(ctx context.Context, a protocol.Anomaly) {
	if s.Protocol == nil {
		return
	}
	s.Protocol.Record(ctx, a)
}
