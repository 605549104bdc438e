//go:build linux

package conntrack

import (
	"sync"
	"time"

	ct "github.com/ti-mo/conntrack"
	"github.com/ti-mo/netfilter"
	"go.uber.org/zap"
)

// Open subscribes to conntrack events. Only destroy events are forwarded:
// they carry the final byte and packet counters.
func Open(opts Options) (*Source, error) {
	conn, err := ct.Dial(nil)
	if err != nil {
		return nil, err
	}

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() { err = conn.Close() })
		return err
	}
	src := newSource(opts, stop)

	evCh := make(chan ct.Event, 1024)
	errCh, err := conn.Listen(evCh, 1, netfilter.GroupsCT)
	if err != nil {
		_ = stop()
		return nil, err
	}
	go func() {
		for err := range errCh {
			src.logger.Warn("conntrack listener error", zap.Error(err))
		}
		src.stopped()
	}()
	go func() {
		for ev := range evCh {
			if ev.Type != ct.EventDestroy {
				continue
			}
			if ev.Flow == nil {
				src.logger.Debug("conntrack event without flow")
				continue
			}
			src.push(Record{
				SrcIP:        ev.Flow.TupleOrig.IP.SourceAddress.String(),
				DstIP:        ev.Flow.TupleOrig.IP.DestinationAddress.String(),
				SrcPort:      ev.Flow.TupleOrig.Proto.SourcePort,
				DstPort:      ev.Flow.TupleOrig.Proto.DestinationPort,
				Proto:        ev.Flow.TupleOrig.Proto.Protocol,
				BytesOrig:    ev.Flow.CountersOrig.Bytes,
				BytesReply:   ev.Flow.CountersReply.Bytes,
				PacketsOrig:  ev.Flow.CountersOrig.Packets,
				PacketsReply: ev.Flow.CountersReply.Packets,
				Ended:        time.Now().UTC(),
			})
		}
	}()
	return src, nil
}
