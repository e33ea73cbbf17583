package sysmon

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/gos.go/pkg/boot"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/msgs"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// Publisher publishes a message on a topic relative to the node.
type Publisher interface {
	PublishMsg(topic string, msg proto.Message) error
}

// StatusUpdater maintains the retained status of the node.
type StatusUpdater interface {
	UpdateStatus(func(*msgs.NodeStatus)) error
}

// DefaultQueueSize is the number of messages Reporter buffers.
const DefaultQueueSize = 64

type report struct {
	topic string
	msg   proto.Message
	// status is applied to the retained status before msg is published.
	status func(*msgs.NodeStatus)
}

// Reporter converts store events, install progress and link state changes
// into messages. Messages are queued and published from Run so reporting
// never blocks the caller. A full queue drops the message.
type Reporter struct {
	Publisher Publisher
	Status    StatusUpdater

	queue chan report
}

// NewReporter creates a Reporter. status may be nil.
func NewReporter(pub Publisher, status StatusUpdater) *Reporter {
	return &Reporter{Publisher: pub, Status: status, queue: make(chan report, DefaultQueueSize)}
}

// Name implements framework.Named.
func (r *Reporter) Name() string {
	return "sysmon:reporter"
}

// Run implements framework.Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case rep := <-r.queue:
			r.publish(rep)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reporter) publish(rep report) {
	if rep.status != nil && r.Status != nil {
		if err := r.Status.UpdateStatus(rep.status); err != nil {
			glog.V(2).Infof("sysmon: status: %v", err)
		}
	}
	if rep.msg == nil {
		return
	}
	if err := r.Publisher.PublishMsg(rep.topic, rep.msg); err != nil {
		glog.V(2).Infof("sysmon: publish %s: %v", rep.topic, err)
	}
}

func (r *Reporter) post(rep report) {
	select {
	case r.queue <- rep:
	default:
		glog.Warningf("sysmon: report %s dropped", rep.topic)
	}
}

var storeEventTypes = map[sdh.EventType]msgs.StoreEventType{
	sdh.EventDownloadStarted:   msgs.StoreEventDownloadStarted,
	sdh.EventChunkStored:       msgs.StoreEventChunkStored,
	sdh.EventDownloadCompleted: msgs.StoreEventDownloadCompleted,
	sdh.EventDownloadAborted:   msgs.StoreEventDownloadAborted,
	sdh.EventInstallRequested:  msgs.StoreEventInstallRequested,
	sdh.EventErased:            msgs.StoreEventErased,
}

// StoreEvent implements sdh.EventHandler.
func (r *Reporter) StoreEvent(ev sdh.Event) {
	msg := &msgs.StoreEvent{
		Type:  storeEventTypes[ev.Type],
		Index: int32(ev.Index),
		Binary: &msgs.Binary{
			Name:         ev.Descriptor.Name,
			StartAddress: ev.Descriptor.Info.StartAddress,
			Size:         ev.Descriptor.Info.Size,
			Crc32:        ev.Descriptor.Info.CRC32,
		},
		Chunk:     uint32(ev.Chunk),
		NumChunks: uint32(ev.NumChunks),
		Reason:    ev.Reason,
		Timestamp: msgs.Timestamp(time.Now()),
	}
	rep := report{topic: msgs.TopicStoreEvents, msg: msg}
	switch ev.Type {
	case sdh.EventDownloadCompleted:
		rep.status = func(s *msgs.NodeStatus) { s.Binaries++ }
	case sdh.EventErased:
		rep.status = func(s *msgs.NodeStatus) {
			if s.Binaries > 0 {
				s.Binaries--
			}
		}
	}
	r.post(rep)
}

// Progress is a boot.ProgressCallback.
func (r *Reporter) Progress(p boot.Progress) {
	r.post(report{
		topic: msgs.TopicInstallProgress,
		msg: &msgs.InstallProgress{
			Phase:     p.Phase,
			Name:      p.Name,
			Percent:   uint32(p.Percent),
			Written:   p.Written,
			Total:     p.Total,
			Timestamp: msgs.Timestamp(time.Now()),
		},
	})
}

// BootState records the installer state in the node status.
func (r *Reporter) BootState(state boot.State) {
	r.post(report{
		topic:  msgs.TopicStatus,
		status: func(s *msgs.NodeStatus) { s.BootState = state.String() },
	})
}

// Software records the resident application in the node status.
func (r *Reporter) Software(name string, info sdh.BinaryInfo) {
	r.post(report{
		topic: msgs.TopicStatus,
		status: func(s *msgs.NodeStatus) {
			s.Software = &msgs.Binary{Name: name, StartAddress: info.StartAddress, Size: info.Size, Crc32: info.CRC32}
		},
	})
}

// SetBinaries records the number of stored binaries in the node status.
func (r *Reporter) SetBinaries(n int) {
	r.post(report{
		topic:  msgs.TopicStatus,
		status: func(s *msgs.NodeStatus) { s.Binaries = uint32(n) },
	})
}

// LinkNotifier reports state changes of link.
func (r *Reporter) LinkNotifier(link *ipl.Link) ipl.StateNotifier {
	return ipl.StateChangedFunc(func(ctx context.Context, state ipl.State) {
		var peer string
		if state == ipl.StateConnected {
			peer = link.Peer().Name
		}
		r.post(report{
			topic:  msgs.TopicLinkState,
			msg:    &msgs.LinkState{State: state.String(), Peer: peer, Timestamp: msgs.Timestamp(time.Now())},
			status: func(s *msgs.NodeStatus) { s.LinkState = state.String() },
		})
	})
}
