package session

import (
	"context"
	"errors"
	"slices"

	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

type opKind uint8

const (
	opSend opKind = iota + 1
	opAck
)

type txOp struct {
	kind opKind

	dest    string
	headers frame.Header
	body    []byte

	positive bool
	acks     []*pendingAck
}

type transaction struct {
	id  string
	ops []txOp
}

func (tx *transaction) dropAcks(subID string) {
	ops := tx.ops[:0]
	for _, op := range tx.ops {
		if op.kind == opAck {
			op.acks = slices.DeleteFunc(op.acks, func(pa *pendingAck) bool { return pa.subID == subID })
			if len(op.acks) == 0 {
				continue
			}
		}
		ops = append(ops, op)
	}
	tx.ops = ops
}

func (tx *transaction) claimed() []*pendingAck {
	var out []*pendingAck
	for _, op := range tx.ops {
		out = append(out, op.acks...)
	}
	return out
}

func sortBySeq(acks []*pendingAck) {
	slices.SortFunc(acks, func(a, b *pendingAck) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

func (s *Session) Begin(txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	if txID == "" {
		return Violation("missing transaction id")
	}
	if _, ok := s.txs[txID]; ok {
		return newError(KindDuplicateTransaction, "transaction %q already open", txID)
	}
	s.txs[txID] = &transaction{id: txID}
	return nil
}

// Abort discards the buffered operations and makes claimed acks pending again.
func (s *Session) Abort(txID string) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	tx, ok := s.txs[txID]
	if !ok {
		s.mu.Unlock()
		return newError(KindUnknownTransaction, "no transaction %q", txID)
	}
	delete(s.txs, txID)
	s.mu.Unlock()

	s.restore(tx.claimed())
	return nil
}

// Commit applies the buffered operations in order. Sends go through one
// broker transaction when the brokers support it, so that either all or
// none become visible. Otherwise operations are applied one by one, and a
// failure after something was applied ends the session.
func (s *Session) Commit(ctx context.Context, txID string) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	tx, ok := s.txs[txID]
	if !ok {
		s.mu.Unlock()
		return newError(KindUnknownTransaction, "no transaction %q", txID)
	}
	delete(s.txs, txID)
	s.mu.Unlock()

	var dests []string
	for _, op := range tx.ops {
		if op.kind == opSend && !slices.Contains(dests, op.dest) {
			dests = append(dests, op.dest)
		}
	}
	if len(dests) == 0 {
		return s.commitEach(ctx, tx)
	}

	p, err := s.getProducer()
	if err != nil {
		s.restore(tx.claimed())
		return err
	}

	err = p.Begin(ctx, dests)
	switch {
	case err == nil:
		return s.commitAtomic(ctx, tx)
	case errors.Is(err, cerr.ErrNotSupported):
		return s.commitEach(ctx, tx)
	default:
		s.restore(tx.claimed())
		return brokerError("begin broker transaction", err, false)
	}
}

func (s *Session) commitAtomic(ctx context.Context, tx *transaction) error {
	p, err := s.getProducer()
	if err != nil {
		s.restore(tx.claimed())
		return err
	}

	for _, op := range tx.ops {
		if op.kind != opSend {
			continue
		}
		if err := p.Publish(ctx, op.dest, op.headers, op.body); err != nil {
			if rbErr := p.Rollback(ctx); rbErr != nil {
				s.l.Error("rollback broker transaction", "tx", tx.id, "err", rbErr)
			}
			s.restore(tx.claimed())
			return brokerError("commit failed", err, false)
		}
	}
	if err := p.Commit(ctx); err != nil {
		s.restore(tx.claimed())
		return brokerError("commit failed", err, false)
	}

	for _, op := range tx.ops {
		if op.kind != opAck {
			continue
		}
		if _, err := s.applyAcks(ctx, op); err != nil {
			return brokerError("acknowledge after commit", err, true)
		}
	}
	return nil
}

func (s *Session) commitEach(ctx context.Context, tx *transaction) error {
	applied := 0
	for i, op := range tx.ops {
		var (
			n   int
			err error
		)
		switch op.kind {
		case opSend:
			var p gateway.Producer
			if p, err = s.getProducer(); err == nil {
				err = p.Publish(ctx, op.dest, op.headers, op.body)
			}
		case opAck:
			n, err = s.applyAcks(ctx, op)
		}

		if err != nil {
			if applied > 0 || n > 0 {
				return brokerError("commit partially applied", err, true)
			}
			rest := &transaction{id: tx.id, ops: tx.ops[i:]}
			s.restore(rest.claimed())
			return brokerError("commit failed", err, false)
		}
		applied++
	}
	return nil
}

// applyAcks settles claimed acks and drops them from the pending set. It
// returns how many were settled before a failure.
func (s *Session) applyAcks(ctx context.Context, op txOp) (int, error) {
	for i, pa := range op.acks {
		if err := s.deps.Gateway.Acknowledge(ctx, pa.token, op.positive); err != nil {
			return i, err
		}
		s.mu.Lock()
		delete(s.pending, pa.token)
		s.mu.Unlock()
	}
	return len(op.acks), nil
}
