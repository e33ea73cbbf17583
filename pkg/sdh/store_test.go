package sdh

import (
	"context"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/storage"
)

var testLayout = Layout{
	CatalogBase:     0x100,
	Capacity:        4,
	BinaryAreaStart: 0x200,
	ChunkSize:       1024,
}

type testStore struct {
	*Store
	dev  *storage.Memory
	conf *bootcfg.Store
}

func newTestStore(t *testing.T, layout Layout, devSize uint32) *testStore {
	dev := storage.NewMemory(devSize)
	conf := bootcfg.NewStore(dev, 0)
	s, err := NewStore(dev, layout, conf)
	require.NoError(t, err)
	return &testStore{Store: s, dev: dev, conf: conf}
}

// storeCaller calls the store directly through the wire codec.
type storeCaller struct {
	store *Store
}

func (c storeCaller) Do(ctx context.Context, id uint32, payload []byte) ([]byte, error) {
	req, err := DecodeRequest(&ipl.Message{ID: id, Payload: payload})
	if err != nil {
		return nil, err
	}
	return c.store.Handle(req).Encode(), nil
}

func (s *testStore) client() *Client {
	return NewClient(storeCaller{store: s.Store})
}

func testImage(size int, seed byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func (s *testStore) upload(t *testing.T, name string, image []byte) BinaryDescriptor {
	d, err := s.client().Upload(context.Background(), name, 0x08004000, image, nil)
	require.NoError(t, err)
	return d
}

func (s *testStore) read(t *testing.T, addr uint32, size int) []byte {
	b := make([]byte, size)
	require.NoError(t, s.dev.Read(addr, b))
	return b
}

func erased(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = storage.ErasedByte
	}
	return b
}

func TestLayoutValidate(t *testing.T) {
	require.NoError(t, testLayout.Validate(0x1000))
	require.Equal(t, uint32(2+4*48), testLayout.DescriptorAreaSize())
	bad := testLayout
	bad.BinaryAreaStart = 0x150
	require.Error(t, bad.Validate(0x1000))
	bad = testLayout
	bad.ChunkSize = 0
	require.Error(t, bad.Validate(0x1000))
	require.Error(t, testLayout.Validate(0x200))

	require.Equal(t, uint32(3), testLayout.NumChunks(3000))
	require.Equal(t, uint32(1024), testLayout.ChunkLength(3000, 1))
	require.Equal(t, uint32(952), testLayout.ChunkLength(3000, 2))
	require.Equal(t, uint32(0), testLayout.ChunkLength(3000, 3))
}

func TestEmptyCatalog(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	for i := 0; i < 2; i++ {
		resp := s.Handle(NumRequest{})
		require.Equal(t, NumResponse{Result: ResultOK, Count: 0}, resp)
	}
	require.Equal(t, []byte{0, 0}, s.read(t, testLayout.CatalogBase, 2))
	require.Equal(t, InfoResponse{Result: ResultInvalidIndex, Index: 0}, s.Handle(InfoRequest{Index: 0}))
}

func TestDownloadInChunks(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	image := testImage(3000, 1)
	info := BinaryInfo{StartAddress: 0x08004000, Size: 3000, CRC32: crc32.ChecksumIEEE(image)}

	resp := s.Handle(DownloadRequest{Descriptor: BinaryDescriptor{Name: "app", Info: info}})
	require.Equal(t, DownloadResponse{
		Result:        ResultOK,
		NumChunks:     3,
		ChunkSize:     1024,
		StorageOffset: testLayout.BinaryAreaStart,
	}, resp)
	require.Equal(t, StateDownloading, s.State())

	for i := 0; i < 3; i++ {
		end := (i + 1) * 1024
		if end > len(image) {
			end = len(image)
		}
		require.Equal(t, ChunkResponse{Index: uint16(i), Result: ResultOK},
			s.Handle(ChunkRequest{Index: uint16(i), Data: image[i*1024 : end]}))
		count, err := s.Count()
		require.NoError(t, err)
		if i < 2 {
			require.Equal(t, 0, count)
		} else {
			require.Equal(t, 1, count)
		}
	}
	require.Equal(t, StateIdle, s.State())

	infoResp := s.Handle(InfoRequest{Index: 0})
	require.Equal(t, infoResp, s.Handle(InfoRequest{Index: 0}))
	d := infoResp.(InfoResponse).Descriptor
	require.Equal(t, BinaryDescriptor{Name: "app", StorageOffset: testLayout.BinaryAreaStart, Info: info}, d)

	stored := make([]byte, d.Info.Size)
	require.NoError(t, s.ReadBinary(d, 0, stored))
	require.Equal(t, d.Info.CRC32, crc32.ChecksumIEEE(stored))
}

func TestDownloadCapacity(t *testing.T) {
	layout := testLayout
	layout.Capacity = 2
	s := newTestStore(t, layout, 0x4000)
	s.upload(t, "a", testImage(100, 1))
	s.upload(t, "b", testImage(100, 2))

	areaEnd := layout.CatalogBase + layout.DescriptorAreaSize()
	before := s.read(t, areaEnd, int(layout.BinaryAreaStart-areaEnd))
	resp := s.Handle(DownloadRequest{Descriptor: BinaryDescriptor{Name: "c", Info: BinaryInfo{Size: 10}}})
	require.Equal(t, ResultDescSizeErr, resp.ResultCode())
	require.Equal(t, before, s.read(t, areaEnd, len(before)))
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, NumResponse{Result: ResultOK, Count: 2}, s.Handle(NumRequest{}))
}

func TestDownloadFileSize(t *testing.T) {
	s := newTestStore(t, testLayout, 0x1000)
	s.upload(t, "a", testImage(0x800, 1))

	// one byte too many
	size := uint32(0x1000 - 0x200 - 0x800 + 1)
	resp := s.Handle(DownloadRequest{Descriptor: BinaryDescriptor{Name: "b", Info: BinaryInfo{Size: size}}})
	require.Equal(t, ResultFileSizeErr, resp.ResultCode())
	require.Equal(t, StateIdle, s.State())

	resp = s.Handle(DownloadRequest{Descriptor: BinaryDescriptor{Name: "b", Info: BinaryInfo{Size: size - 1}}})
	require.Equal(t, ResultOK, resp.ResultCode())

	s2 := newTestStore(t, testLayout, 0x1000)
	resp = s2.Handle(DownloadRequest{Descriptor: BinaryDescriptor{Name: "empty"}})
	require.Equal(t, ResultInvalidRequest, resp.ResultCode())
}

func TestChunkCRCMismatch(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	image := testImage(3000, 3)
	resp := s.Handle(DownloadRequest{Descriptor: BinaryDescriptor{
		Name: "app",
		Info: BinaryInfo{Size: 3000, CRC32: crc32.ChecksumIEEE(image)},
	}})
	require.Equal(t, ResultOK, resp.ResultCode())

	chunk := image[:1024]
	bad := ChunkRequest{Index: 0, HasCRC: true, CRC: crc32.ChecksumIEEE(chunk) ^ 1, Data: chunk}
	require.Equal(t, ChunkResponse{Index: 0, Result: ResultCRCErr}, s.Handle(bad))
	require.Equal(t, erased(1024), s.read(t, testLayout.BinaryAreaStart, 1024))
	require.Equal(t, StateDownloading, s.State())

	// index 1 is still out of order.
	require.Equal(t, ResultInvalidRequest, s.Handle(ChunkRequest{Index: 1, Data: image[1024:2048]}).ResultCode())
	bad.CRC ^= 1
	require.Equal(t, ResultOK, s.Handle(bad).ResultCode())
	require.Equal(t, chunk, s.read(t, testLayout.BinaryAreaStart, 1024))
}

func TestChunkOrdering(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	image := testImage(3000, 4)
	desc := BinaryDescriptor{Name: "app", Info: BinaryInfo{Size: 3000, CRC32: crc32.ChecksumIEEE(image)}}
	require.Equal(t, ResultOK, s.Handle(DownloadRequest{Descriptor: desc}).ResultCode())

	// wrong length
	require.Equal(t, ResultInvalidRequest, s.Handle(ChunkRequest{Index: 0, Data: image[:1000]}).ResultCode())
	// out of order, not terminal
	require.Equal(t, ResultInvalidRequest, s.Handle(ChunkRequest{Index: 1, Data: image[1024:2048]}).ResultCode())
	require.Equal(t, StateDownloading, s.State())
	// other requests are rejected meanwhile
	require.Equal(t, NumResponse{Result: ResultBusy}, s.Handle(NumRequest{}))
	require.Equal(t, ResultBusy, s.Handle(DownloadRequest{Descriptor: desc}).ResultCode())

	require.Equal(t, ResultOK, s.Handle(ChunkRequest{Index: 0, Data: image[:1024]}).ResultCode())
	// premature terminal index aborts
	require.Equal(t, ChunkResponse{Index: 2, Result: ResultFailed},
		s.Handle(ChunkRequest{Index: 2, Data: image[2048:]}))
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, NumResponse{Result: ResultOK, Count: 0}, s.Handle(NumRequest{}))
	require.Equal(t, ResultInvalidRequest, s.Handle(ChunkRequest{Index: 1, Data: image[1024:2048]}).ResultCode())
}

func TestDownloadReadBackMismatch(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	image := testImage(500, 5)
	desc := BinaryDescriptor{Name: "app", Info: BinaryInfo{Size: 500, CRC32: crc32.ChecksumIEEE(image) + 1}}
	require.Equal(t, ResultOK, s.Handle(DownloadRequest{Descriptor: desc}).ResultCode())
	require.Equal(t, ResultImageCRCErr, s.Handle(ChunkRequest{Index: 0, Data: image}).ResultCode())
	require.Equal(t, StateIdle, s.State())
	count, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// corruptingDevice flips a byte of every write at or above from.
type corruptingDevice struct {
	storage.Device
	from uint32
}

func (d *corruptingDevice) Write(addr uint32, p []byte) error {
	if addr >= d.from && len(p) > 0 {
		p = append([]byte(nil), p...)
		p[0] ^= 0x01
	}
	return d.Device.Write(addr, p)
}

type countingCaller struct {
	Caller
	chunks  int
	results []Result
}

func (c *countingCaller) Do(ctx context.Context, id uint32, payload []byte) ([]byte, error) {
	reply, err := c.Caller.Do(ctx, id, payload)
	if err == nil && id == MsgBinaryChunk {
		c.chunks++
		resp, decodeErr := DecodeResponse(&ipl.Message{ID: ipl.AckID(id), Payload: reply})
		if decodeErr == nil {
			c.results = append(c.results, resp.ResultCode())
		}
	}
	return reply, err
}

func TestUploadSurfacesImageCRCFailure(t *testing.T) {
	mem := storage.NewMemory(0x4000)
	dev := &corruptingDevice{Device: mem, from: testLayout.BinaryAreaStart}
	s, err := NewStore(dev, testLayout, bootcfg.NewStore(mem, 0))
	require.NoError(t, err)

	caller := &countingCaller{Caller: storeCaller{store: s}}
	_, err = NewClient(caller).Upload(context.Background(), "app", 0x08004000, testImage(500, 3), nil)
	require.Error(t, err)
	re, ok := err.(*ResultError)
	require.True(t, ok)
	require.Equal(t, MsgBinaryChunk, re.MessageID)
	require.Equal(t, ResultImageCRCErr, re.Result)
	require.Equal(t, 1, caller.chunks)
	require.Equal(t, []Result{ResultImageCRCErr}, caller.results)
	require.Equal(t, StateIdle, s.State())
	count, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestAbortAndExpire(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	desc := BinaryDescriptor{Name: "app", Info: BinaryInfo{Size: 3000}}
	require.Equal(t, AbortResponse{Result: ResultInvalidRequest}, s.Handle(AbortRequest{}))

	require.Equal(t, ResultOK, s.Handle(DownloadRequest{Descriptor: desc}).ResultCode())
	require.Equal(t, AbortResponse{Result: ResultOK}, s.Handle(AbortRequest{}))
	require.Equal(t, StateIdle, s.State())

	resp := s.Handle(DownloadRequest{Descriptor: desc}).(DownloadResponse)
	require.Equal(t, testLayout.BinaryAreaStart, resp.StorageOffset)
	s.Expire()
	require.Equal(t, StateIdle, s.State())
	s.Expire()
	require.Equal(t, StateIdle, s.State())
}

func TestEraseWithDefragment(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	first := testImage(1500, 1)
	second := testImage(2100, 2)
	s.upload(t, "first", first)
	d := s.upload(t, "second", second)
	require.Equal(t, testLayout.BinaryAreaStart+1500, d.StorageOffset)

	require.Equal(t, EraseResponse{Index: 0, Result: ResultOK}, s.Handle(EraseRequest{Index: 0, Defragment: true}))
	descs, err := s.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "second", descs[0].Name)
	require.Equal(t, testLayout.BinaryAreaStart, descs[0].StorageOffset)
	stored := make([]byte, len(second))
	require.NoError(t, s.ReadBinary(descs[0], 0, stored))
	require.Equal(t, second, stored)
	require.Equal(t, EraseResponse{Index: 1, Result: ResultInvalidIndex}, s.Handle(EraseRequest{Index: 1}))
}

func TestEraseLeavesHole(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	s.upload(t, "a", testImage(1000, 1))
	s.upload(t, "b", testImage(1000, 2))
	c := s.upload(t, "c", testImage(1000, 3))

	require.Equal(t, ResultOK, s.Handle(EraseRequest{Index: 1}).ResultCode())
	d := s.upload(t, "d", testImage(10, 4))
	require.Equal(t, c.End(), d.StorageOffset)

	require.Equal(t, ResultOK, s.Handle(EraseRequest{Index: 0, Defragment: true}).ResultCode())
	descs, err := s.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 2)
	require.Equal(t, testLayout.BinaryAreaStart, descs[0].StorageOffset)
	require.Equal(t, descs[0].End(), descs[1].StorageOffset)
	stored := make([]byte, 10)
	require.NoError(t, s.ReadBinary(descs[1], 0, stored))
	require.Equal(t, testImage(10, 4), stored)
}

func TestOffsetsStayOrdered(t *testing.T) {
	s := newTestStore(t, testLayout, 0x8000)
	ops := []func(){
		func() { s.upload(t, "a", testImage(700, 1)) },
		func() { s.upload(t, "b", testImage(1300, 2)) },
		func() { s.upload(t, "c", testImage(50, 3)) },
		func() { s.Handle(EraseRequest{Index: 1}) },
		func() { s.upload(t, "d", testImage(2048, 4)) },
		func() { s.Handle(EraseRequest{Index: 0, Defragment: true}) },
		func() { s.upload(t, "e", testImage(1, 5)) },
		func() { s.Handle(EraseRequest{Index: 2}) },
		func() { s.Handle(EraseRequest{Index: 1, Defragment: true}) },
	}
	for _, op := range ops {
		op()
		descs, err := s.Descriptors()
		require.NoError(t, err)
		for i := range descs {
			require.True(t, descs[i].StorageOffset >= testLayout.BinaryAreaStart)
			if i > 0 {
				require.True(t, descs[i-1].End() <= descs[i].StorageOffset)
			}
			stored := make([]byte, descs[i].Info.Size)
			require.NoError(t, s.ReadBinary(descs[i], 0, stored))
			require.Equal(t, descs[i].Info.CRC32, crc32.ChecksumIEEE(stored))
		}
	}
}

func TestInstallRequest(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	var notified []uint16
	s.Notifier = InstallRequestedFunc(func(index uint16) { notified = append(notified, index) })
	require.Equal(t, InstallResponse{Index: 0, Result: ResultInvalidIndex}, s.Handle(InstallRequest{Index: 0}))

	s.upload(t, "app", testImage(100, 1))
	require.Equal(t, InstallResponse{Index: 0, Result: ResultOK}, s.Handle(InstallRequest{Index: 0}))
	conf, err := s.conf.Load()
	require.NoError(t, err)
	require.True(t, conf.InstallRequested)
	require.Equal(t, uint16(0), conf.SelectedIndex)
	require.Equal(t, []uint16{0}, notified)
}

type eventRecorder []Event

func (r *eventRecorder) StoreEvent(ev Event) { *r = append(*r, ev) }

func TestStoreEvents(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	var events eventRecorder
	s.Events = &events
	s.upload(t, "app", testImage(1500, 1))
	require.Len(t, events, 4)
	require.Equal(t, EventDownloadStarted, events[0].Type)
	require.Equal(t, EventChunkStored, events[1].Type)
	require.Equal(t, 2, events[2].NumChunks)
	require.Equal(t, EventDownloadCompleted, events[3].Type)
	require.Equal(t, "app", events[3].Descriptor.Name)
}
