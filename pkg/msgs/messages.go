package msgs

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
)

// Binary describes a stored or installed binary.
type Binary struct {
	Name         string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	StartAddress uint32 `protobuf:"varint,2,opt,name=start_address,proto3" json:"start_address,omitempty"`
	Size         uint32 `protobuf:"varint,3,opt,name=size,proto3" json:"size,omitempty"`
	Crc32        uint32 `protobuf:"varint,4,opt,name=crc32,proto3" json:"crc32,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Binary) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Binary) Reset() { *m = Binary{} }

// String implements proto.Message.
func (m *Binary) String() string { return proto.CompactTextString(m) }

// NodeStatus is retained on the status topic of a node.
type NodeStatus struct {
	Name      string  `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Online    bool    `protobuf:"varint,2,opt,name=online,proto3" json:"online,omitempty"`
	BootState string  `protobuf:"bytes,3,opt,name=boot_state,proto3" json:"boot_state,omitempty"`
	LinkState string  `protobuf:"bytes,4,opt,name=link_state,proto3" json:"link_state,omitempty"`
	Binaries  uint32  `protobuf:"varint,5,opt,name=binaries,proto3" json:"binaries,omitempty"`
	Software  *Binary `protobuf:"bytes,6,opt,name=software,proto3" json:"software,omitempty"`
	Timestamp int64   `protobuf:"varint,7,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *NodeStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *NodeStatus) Reset() { *m = NodeStatus{} }

// String implements proto.Message.
func (m *NodeStatus) String() string { return proto.CompactTextString(m) }

// StoreEventType is the kind of a StoreEvent.
type StoreEventType int32

// Store event types.
const (
	StoreEventDownloadStarted StoreEventType = iota
	StoreEventChunkStored
	StoreEventDownloadCompleted
	StoreEventDownloadAborted
	StoreEventInstallRequested
	StoreEventErased
)

var storeEventNames = map[StoreEventType]string{
	StoreEventDownloadStarted:   "DOWNLOAD_STARTED",
	StoreEventChunkStored:       "CHUNK_STORED",
	StoreEventDownloadCompleted: "DOWNLOAD_COMPLETED",
	StoreEventDownloadAborted:   "DOWNLOAD_ABORTED",
	StoreEventInstallRequested:  "INSTALL_REQUESTED",
	StoreEventErased:            "ERASED",
}

func (t StoreEventType) String() string {
	if name, ok := storeEventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("StoreEventType(%d)", int32(t))
}

// StoreEvent reports activity of the update store.
type StoreEvent struct {
	Type      StoreEventType `protobuf:"varint,1,opt,name=type,proto3" json:"type,omitempty"`
	Index     int32          `protobuf:"varint,2,opt,name=index,proto3" json:"index,omitempty"`
	Binary    *Binary        `protobuf:"bytes,3,opt,name=binary,proto3" json:"binary,omitempty"`
	Chunk     uint32         `protobuf:"varint,4,opt,name=chunk,proto3" json:"chunk,omitempty"`
	NumChunks uint32         `protobuf:"varint,5,opt,name=num_chunks,proto3" json:"num_chunks,omitempty"`
	Reason    string         `protobuf:"bytes,6,opt,name=reason,proto3" json:"reason,omitempty"`
	Timestamp int64          `protobuf:"varint,7,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *StoreEvent) ProtoMessage() {}

// Reset implements proto.Message.
func (m *StoreEvent) Reset() { *m = StoreEvent{} }

// String implements proto.Message.
func (m *StoreEvent) String() string { return proto.CompactTextString(m) }

// InstallProgress reports the installer progress.
type InstallProgress struct {
	Phase     string `protobuf:"bytes,1,opt,name=phase,proto3" json:"phase,omitempty"`
	Name      string `protobuf:"bytes,2,opt,name=name,proto3" json:"name,omitempty"`
	Percent   uint32 `protobuf:"varint,3,opt,name=percent,proto3" json:"percent,omitempty"`
	Written   uint32 `protobuf:"varint,4,opt,name=written,proto3" json:"written,omitempty"`
	Total     uint32 `protobuf:"varint,5,opt,name=total,proto3" json:"total,omitempty"`
	Timestamp int64  `protobuf:"varint,6,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *InstallProgress) ProtoMessage() {}

// Reset implements proto.Message.
func (m *InstallProgress) Reset() { *m = InstallProgress{} }

// String implements proto.Message.
func (m *InstallProgress) String() string { return proto.CompactTextString(m) }

// LinkState reports a transport link state change.
type LinkState struct {
	State     string `protobuf:"bytes,1,opt,name=state,proto3" json:"state,omitempty"`
	Peer      string `protobuf:"bytes,2,opt,name=peer,proto3" json:"peer,omitempty"`
	Timestamp int64  `protobuf:"varint,3,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *LinkState) ProtoMessage() {}

// Reset implements proto.Message.
func (m *LinkState) Reset() { *m = LinkState{} }

// String implements proto.Message.
func (m *LinkState) String() string { return proto.CompactTextString(m) }

// Timestamp converts t to the millisecond timestamp used in messages.
func Timestamp(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// TimeOf converts a message timestamp back to time.
func TimeOf(ts int64) time.Time {
	return time.Unix(0, ts*int64(time.Millisecond))
}
