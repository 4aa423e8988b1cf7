package host

import (
	"context"

	"github.com/roach88/modacct/internal/store"
)

// logSeq numbers the messages of one write transaction. It continues from
// the highest seq committed so far; the store takes the write lock when the
// transaction begins, so every process sharing the database sees the
// previous writer's entries before it counts.
type logSeq struct {
	last int64
}

func startLogSeq(ctx context.Context, tx *store.Tx) (*logSeq, error) {
	last, err := tx.MaxLogSeq(ctx)
	if err != nil {
		return nil, err
	}
	return &logSeq{last: last}, nil
}

func (s *logSeq) next() int64 {
	s.last++
	return s.last
}
