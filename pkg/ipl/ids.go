package ipl

// AckOffset is added to a request id to form its acknowledgement id.
const AckOffset uint32 = 0xA000

// AckID returns the acknowledgement id of a request id.
func AckID(id uint32) uint32 {
	return id + AckOffset
}

// Built-in message ids.
const (
	MsgDiscover         uint32 = 0x0001
	MsgConfig           uint32 = 0x0002
	MsgConnect          uint32 = 0x0003
	MsgPing             uint32 = 0x0010
	MsgCPULoad          uint32 = 0x0011
	MsgTaskCount        uint32 = 0x0012
	MsgTaskData         uint32 = 0x0013
	MsgTaskVariableData uint32 = 0x0014
	MsgTaskModify       uint32 = 0x0015
	MsgTimeSync         uint32 = 0x0016
	MsgReset            uint32 = 0x0017

	MsgDiscoverAck         = MsgDiscover + AckOffset
	MsgConfigAck           = MsgConfig + AckOffset
	MsgConnectAck          = MsgConnect + AckOffset
	MsgPingAck             = MsgPing + AckOffset
	MsgCPULoadAck          = MsgCPULoad + AckOffset
	MsgTaskCountAck        = MsgTaskCount + AckOffset
	MsgTaskDataAck         = MsgTaskData + AckOffset
	MsgTaskVariableDataAck = MsgTaskVariableData + AckOffset
	MsgTaskModifyAck       = MsgTaskModify + AckOffset
	MsgTimeSyncAck         = MsgTimeSync + AckOffset
	MsgResetAck            = MsgReset + AckOffset
)

// Result codes of built-in acknowledgements.
const (
	ResultFailed byte = 0
	ResultOK     byte = 1
)

// ProtocolVersion is exchanged during discovery.
const ProtocolVersion uint16 = 1

func isHandshake(id uint32) bool {
	switch id {
	case MsgDiscover, MsgConfig, MsgConnect,
		MsgDiscoverAck, MsgConfigAck, MsgConnectAck:
		return true
	}
	return false
}
