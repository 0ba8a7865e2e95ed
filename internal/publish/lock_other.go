//go:build !unix

package publish

import "github.com/rs/zerolog/log"

// LockWorker is advisory only on platforms without flock: run one worker per
// queue database.
func (s *SQLiteStore) LockWorker() (func(), error) {
	log.Warn().Str("path", s.path).Msg("Worker lock unsupported on this platform; run a single worker per queue")
	return func() {}, nil
}
