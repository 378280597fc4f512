package main

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/papermill-io/papermill/coordinator/scheduler"
	"github.com/papermill-io/papermill/coordinator/source"
)

const ingestIdlePeriod = 5 * time.Second

// Ingester pulls documents from a source and submits them to the
// scheduler. When the source is drained it sleeps and rescans, so a
// directory source picks up files dropped in while running.
type Ingester struct {
	src   source.Source
	sched *scheduler.Scheduler
}

func NewIngester(src source.Source, sched *scheduler.Scheduler) *Ingester {
	return &Ingester{src: src, sched: sched}
}

func (in *Ingester) Run(ctx context.Context) {
	for {
		doc, err := in.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if r, ok := in.src.(interface{ Reset() error }); ok {
					if err := r.Reset(); err != nil {
						log.Printf("ingest: rescanning source: %v", err)
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(ingestIdlePeriod):
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("ingest: reading source: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(ingestIdlePeriod):
			}
			continue
		}

		if _, err := in.sched.Submit(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ingest: submitting %s: %v", doc.Meta.Origin, err)
		}
	}
}
