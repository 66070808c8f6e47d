package replicate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/seedbus"
)

// Importer is the part of memory.System a follower writes.
type Importer interface {
	Import(raw string) error
}

// Follow imports every bundle received on feed into dst while holding
// lock, making dst a replica of the publishing peer. Bundles repeating the
// last imported digest are skipped; rejected bundles are logged and leave
// dst unchanged. It returns the number of bundles imported once feed closes
// or ctx is cancelled.
func Follow(ctx context.Context, feed <-chan *seedbus.Message, lock sync.Locker, dst Importer, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		imported int
		last     string
	)
	for {
		select {
		case <-ctx.Done():
			return imported
		case msg, ok := <-feed:
			if !ok {
				return imported
			}
			if msg.Digest != "" && msg.Digest == last {
				continue
			}

			lock.Lock()
			err := dst.Import(msg.Bundle)
			lock.Unlock()
			if err != nil {
				logger.Warn("peer bundle rejected",
					zap.String("peer", msg.NodeID),
					zap.String("digest", msg.Digest),
					zap.Error(err))
				continue
			}
			last = msg.Digest
			imported++
			logger.Info("peer bundle imported",
				zap.String("peer", msg.NodeID),
				zap.String("digest", msg.Digest))
		}
	}
}
