package ledger

import "go.uber.org/zap"

// progress logs a structured line every `every` items and on the last one.
type progress struct {
	log   *zap.Logger
	msg   string
	total int
	every int
}

func (l *Ledger) progress(msg string, total int) *progress {
	return &progress{log: l.log, msg: msg, total: total, every: l.opts.ProgressEvery}
}

func (p *progress) tick(done int) {
	if p.every <= 0 || p.total == 0 {
		return
	}
	if done%p.every == 0 || done == p.total {
		p.log.Info(p.msg, zap.Int("done", done), zap.Int("total", p.total))
	}
}
