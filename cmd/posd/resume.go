package main

import (
	"errors"
	"fmt"

	"spos/internal/engine"
	"spos/internal/jobqueue"
	"spos/internal/outbox"
	"spos/internal/syncjob"
)

var errNoResume = errors.New("memory queue with a kafka-only outbox cannot resume numbering; use -outbox-sink=file|both or a persistent -queue-backend")

// resumePoint is where the previous runs of this register stopped numbering.
type resumePoint struct {
	lastOrder   int
	lastSession int64
}

func (p *resumePoint) observe(job syncjob.Job) {
	var name string
	switch v := job.Payload.(type) {
	case syncjob.SaleOrder:
		name = v.Order.OrderName
	case syncjob.InventorySync:
		name = v.OrderName
	case syncjob.SessionClose:
		if v.SessionID > p.lastSession {
			p.lastSession = v.SessionID
		}
		return
	}
	if n, ok := engine.OrderNumber(name); ok && n > p.lastOrder {
		p.lastOrder = n
	}
}

// resume scans the queue and, when given, the outbox file for jobs written by
// earlier runs.
func resume(queue jobqueue.Store, outboxPath string) (resumePoint, error) {
	var p resumePoint
	err := queue.Range(func(_ string, rec jobqueue.Record) error {
		p.observe(rec.Job)
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("scan queue: %w", err)
	}
	if outboxPath == "" {
		return p, nil
	}
	err = outbox.ScanFile(outboxPath, func(_ int64, job syncjob.Job) error {
		p.observe(job)
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("scan outbox: %w", err)
	}
	return p, nil
}
