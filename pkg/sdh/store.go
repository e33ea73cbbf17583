package sdh

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/storage"
)

// State is the state of the update store.
type State int

// Store states.
const (
	StateIdle State = iota
	StateDownloading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDownloading:
		return "DOWNLOADING_BINARY"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InstallNotifier is told when an install was requested.
type InstallNotifier interface {
	InstallRequested(index uint16)
}

// InstallRequestedFunc is func type of InstallNotifier.
type InstallRequestedFunc func(index uint16)

// InstallRequested implements InstallNotifier.
func (f InstallRequestedFunc) InstallRequested(index uint16) {
	f(index)
}

// EventHandler observes store activity.
type EventHandler interface {
	StoreEvent(Event)
}

// StoreEventFunc is func type of EventHandler.
type StoreEventFunc func(Event)

// StoreEvent implements EventHandler.
func (f StoreEventFunc) StoreEvent(ev Event) {
	f(ev)
}

// EventHandlers dispatches events to each handler in order.
type EventHandlers []EventHandler

// StoreEvent implements EventHandler.
func (h EventHandlers) StoreEvent(ev Event) {
	for _, handler := range h {
		handler.StoreEvent(ev)
	}
}

// EventType is the kind of Event.
type EventType int

// Event types.
const (
	EventDownloadStarted EventType = iota
	EventChunkStored
	EventDownloadCompleted
	EventDownloadAborted
	EventInstallRequested
	EventErased
)

// Event describes a change in the store.
type Event struct {
	Type       EventType
	Index      int
	Descriptor BinaryDescriptor
	// Chunk and NumChunks are set for EventChunkStored.
	Chunk     int
	NumChunks int
	Reason    string
}

type download struct {
	slot      int
	desc      BinaryDescriptor
	numChunks uint32
	next      uint32
}

// Store owns the catalog and processes one request at a time.
type Store struct {
	*Catalog
	Config   *bootcfg.Store
	Notifier InstallNotifier
	Events   EventHandler

	state   State
	session download
	lock    sync.Mutex
}

// NewStore creates a Store after validating the layout against dev.
func NewStore(dev storage.Device, layout Layout, conf *bootcfg.Store) (*Store, error) {
	if err := layout.Validate(dev.Size()); err != nil {
		return nil, err
	}
	return &Store{Catalog: NewCatalog(dev, layout), Config: conf}, nil
}

// State returns the current state.
func (s *Store) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Handle processes a request.
func (s *Store) Handle(req Request) Response {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == StateDownloading {
		switch r := req.(type) {
		case ChunkRequest:
			return s.chunk(r)
		case AbortRequest:
			s.abort("aborted by request")
			return AbortResponse{Result: ResultOK}
		}
		glog.Warningf("sdh: %s rejected while downloading", messageName(req.MessageID()))
		return Failure(req, ResultBusy)
	}
	switch r := req.(type) {
	case NumRequest:
		return s.num()
	case InfoRequest:
		return s.info(r)
	case DownloadRequest:
		return s.download(r)
	case InstallRequest:
		return s.install(r)
	case EraseRequest:
		return s.erase(r)
	}
	return Failure(req, ResultInvalidRequest)
}

// Expire degrades an unfinished download to IDLE.
func (s *Store) Expire() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == StateDownloading {
		s.abort("timeout")
	}
}

func (s *Store) emit(ev Event) {
	if s.Events != nil {
		s.Events.StoreEvent(ev)
	}
}

func (s *Store) abort(reason string) {
	glog.Warningf("sdh: download of %q aborted at chunk %d/%d: %s",
		s.session.desc.Name, s.session.next, s.session.numChunks, reason)
	s.state = StateIdle
	s.emit(Event{Type: EventDownloadAborted, Index: s.session.slot, Descriptor: s.session.desc, Reason: reason})
	s.session = download{}
}

// count reads the header and heals an erased one.
func (s *Store) count() (int, error) {
	raw, err := s.rawCount()
	if err != nil {
		return 0, err
	}
	if raw == erasedCount {
		glog.Info("sdh: healing erased catalog header")
		return 0, s.writeCount(0)
	}
	return s.Count()
}

func (s *Store) num() Response {
	n, err := s.count()
	if err != nil {
		glog.Errorf("sdh: read count: %v", err)
		return NumResponse{Result: ResultFailed}
	}
	return NumResponse{Result: ResultOK, Count: uint16(n)}
}

func (s *Store) info(r InfoRequest) Response {
	d, err := s.Descriptor(int(r.Index))
	switch {
	case err == ErrInvalidIndex:
		return InfoResponse{Result: ResultInvalidIndex, Index: r.Index}
	case err != nil:
		glog.Errorf("sdh: read descriptor %d: %v", r.Index, err)
		return InfoResponse{Result: ResultFailed, Index: r.Index}
	}
	return InfoResponse{Result: ResultOK, Index: r.Index, Descriptor: d}
}

func (s *Store) download(r DownloadRequest) Response {
	fail := func(result Result) Response { return DownloadResponse{Result: result} }
	desc := r.Descriptor
	if desc.Info.Size == 0 || len(desc.Name) >= NameSize {
		return fail(ResultInvalidRequest)
	}
	n, err := s.count()
	if err != nil {
		glog.Errorf("sdh: read count: %v", err)
		return fail(ResultFailed)
	}
	if n >= s.Layout.Capacity {
		glog.Warningf("sdh: download of %q rejected: catalog full (%d)", desc.Name, n)
		return fail(ResultDescSizeErr)
	}
	desc.StorageOffset = s.Layout.BinaryAreaStart
	if n > 0 {
		last, err := s.slot(n - 1)
		if err != nil {
			glog.Errorf("sdh: read descriptor %d: %v", n-1, err)
			return fail(ResultFailed)
		}
		desc.StorageOffset = last.End()
	}
	numChunks := s.Layout.NumChunks(desc.Info.Size)
	if uint64(desc.StorageOffset)+uint64(desc.Info.Size) > uint64(s.Device.Size()) || numChunks > 0xffff {
		glog.Warningf("sdh: download of %q rejected: %d bytes at 0x%x exceed device",
			desc.Name, desc.Info.Size, desc.StorageOffset)
		return fail(ResultFileSizeErr)
	}
	// reserved, not counted until the last chunk is verified.
	if err = s.writeSlot(n, desc); err != nil {
		glog.Errorf("sdh: write descriptor %d: %v", n, err)
		return fail(ResultFailed)
	}
	s.state = StateDownloading
	s.session = download{slot: n, desc: desc, numChunks: numChunks}
	glog.Infof("sdh: downloading %q (%d bytes, %d chunks) to 0x%x",
		desc.Name, desc.Info.Size, numChunks, desc.StorageOffset)
	s.emit(Event{Type: EventDownloadStarted, Index: n, Descriptor: desc, NumChunks: int(numChunks)})
	return DownloadResponse{
		Result:        ResultOK,
		NumChunks:     uint16(numChunks),
		ChunkSize:     s.Layout.ChunkSize,
		StorageOffset: desc.StorageOffset,
	}
}

func (s *Store) chunk(r ChunkRequest) Response {
	sess := &s.session
	index := uint32(r.Index)
	last := sess.numChunks - 1
	reply := func(result Result) Response { return ChunkResponse{Index: r.Index, Result: result} }
	switch {
	case index == sess.next:
	case index == last:
		s.abort(fmt.Sprintf("premature last chunk %d", index))
		return reply(ResultFailed)
	default:
		glog.Warningf("sdh: chunk %d out of order, expect %d", index, sess.next)
		return reply(ResultInvalidRequest)
	}
	if want := s.Layout.ChunkLength(sess.desc.Info.Size, index); uint32(len(r.Data)) != want {
		glog.Warningf("sdh: chunk %d has %d bytes, expect %d", index, len(r.Data), want)
		return reply(ResultInvalidRequest)
	}
	if r.HasCRC && crc32.ChecksumIEEE(r.Data) != r.CRC {
		glog.Warningf("sdh: chunk %d crc mismatch", index)
		return reply(ResultCRCErr)
	}
	if err := s.Device.Write(sess.desc.StorageOffset+index*s.Layout.ChunkSize, r.Data); err != nil {
		s.abort(err.Error())
		return reply(ResultFailed)
	}
	sess.next++
	glog.V(2).Infof("sdh: chunk %d/%d stored", sess.next, sess.numChunks)
	s.emit(Event{Type: EventChunkStored, Index: sess.slot, Descriptor: sess.desc, Chunk: int(index), NumChunks: int(sess.numChunks)})
	if index < last {
		return reply(ResultOK)
	}
	return reply(s.commit())
}

func (s *Store) commit() Result {
	sess := s.session
	sum, err := s.checksum(sess.desc)
	if err != nil {
		s.abort(err.Error())
		return ResultFailed
	}
	if sum != sess.desc.Info.CRC32 {
		s.abort(fmt.Sprintf("crc 0x%08x, expect 0x%08x", sum, sess.desc.Info.CRC32))
		return ResultImageCRCErr
	}
	if err = s.writeCount(sess.slot + 1); err != nil {
		s.abort(err.Error())
		return ResultFailed
	}
	s.state, s.session = StateIdle, download{}
	glog.Infof("sdh: binary %d %q stored", sess.slot, sess.desc.Name)
	s.emit(Event{Type: EventDownloadCompleted, Index: sess.slot, Descriptor: sess.desc})
	return ResultOK
}

// checksum computes the CRC-32 of the stored bytes of d.
func (s *Store) checksum(d BinaryDescriptor) (uint32, error) {
	h := crc32.NewIEEE()
	buf := make([]byte, s.Layout.ChunkSize)
	for off := uint32(0); off < d.Info.Size; off += uint32(len(buf)) {
		p := buf
		if rest := d.Info.Size - off; rest < uint32(len(p)) {
			p = p[:rest]
		}
		if err := s.Device.Read(d.StorageOffset+off, p); err != nil {
			return 0, err
		}
		h.Write(p)
	}
	return h.Sum32(), nil
}

func (s *Store) install(r InstallRequest) Response {
	n, err := s.count()
	if err != nil {
		glog.Errorf("sdh: read count: %v", err)
		return InstallResponse{Index: r.Index, Result: ResultFailed}
	}
	if int(r.Index) >= n {
		return InstallResponse{Index: r.Index, Result: ResultInvalidIndex}
	}
	if s.Config == nil {
		return InstallResponse{Index: r.Index, Result: ResultFailed}
	}
	if err = s.Config.RequestInstall(r.Index); err != nil {
		glog.Errorf("sdh: request install %d: %v", r.Index, err)
		return InstallResponse{Index: r.Index, Result: ResultFailed}
	}
	if s.Notifier != nil {
		s.Notifier.InstallRequested(r.Index)
	}
	s.emit(Event{Type: EventInstallRequested, Index: int(r.Index)})
	return InstallResponse{Index: r.Index, Result: ResultOK}
}

func (s *Store) erase(r EraseRequest) Response {
	reply := func(result Result) Response { return EraseResponse{Index: r.Index, Result: result} }
	descs, err := s.Descriptors()
	if err != nil {
		glog.Errorf("sdh: read catalog: %v", err)
		return reply(ResultFailed)
	}
	index := int(r.Index)
	if index >= len(descs) {
		return reply(ResultInvalidIndex)
	}
	erased := descs[index]
	end := s.Layout.BinaryAreaStart
	if index > 0 {
		end = descs[index-1].End()
	}
	for i := index + 1; i < len(descs); i++ {
		d := descs[i]
		if r.Defragment && d.StorageOffset > end {
			if err = s.move(end, d.StorageOffset, d.Info.Size); err != nil {
				glog.Errorf("sdh: defragment %q: %v", d.Name, err)
				return reply(ResultFailed)
			}
			d.StorageOffset = end
		}
		if err = s.writeSlot(i-1, d); err != nil {
			glog.Errorf("sdh: write descriptor %d: %v", i-1, err)
			return reply(ResultFailed)
		}
		end = d.End()
	}
	if err = s.clearSlot(len(descs) - 1); err == nil {
		err = s.writeCount(len(descs) - 1)
	}
	if err != nil {
		glog.Errorf("sdh: erase %d: %v", index, err)
		return reply(ResultFailed)
	}
	glog.Infof("sdh: binary %d %q erased (defragment=%v)", index, erased.Name, r.Defragment)
	s.emit(Event{Type: EventErased, Index: index, Descriptor: erased})
	return reply(ResultOK)
}

// move copies size bytes from src to dst < src front to back.
func (s *Store) move(dst, src, size uint32) error {
	buf := make([]byte, DefragBlockSize)
	for off := uint32(0); off < size; off += DefragBlockSize {
		p := buf
		if rest := size - off; rest < DefragBlockSize {
			p = p[:rest]
		}
		if err := s.Device.Read(src+off, p); err != nil {
			return err
		}
		if err := s.Device.Write(dst+off, p); err != nil {
			return err
		}
	}
	return nil
}
