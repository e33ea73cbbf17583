package ipl

import (
	"context"
	"math"

	"github.com/golang/glog"
)

func (l *Link) builtinHandlers() map[uint32]Handler {
	handlers := map[uint32]Handler{
		MsgPing: HandleMessageFunc(handlePing),
	}
	if l.Kernel == nil {
		return handlers
	}
	handlers[MsgCPULoad] = HandleMessageFunc(l.handleCPULoad)
	handlers[MsgTaskCount] = HandleMessageFunc(l.handleTaskCount)
	handlers[MsgTaskData] = HandleMessageFunc(l.handleTaskData)
	handlers[MsgTaskVariableData] = HandleMessageFunc(l.handleTaskVariableData)
	handlers[MsgTaskModify] = HandleMessageFunc(l.handleTaskModify)
	handlers[MsgTimeSync] = HandleMessageFunc(l.handleTimeSync)
	handlers[MsgReset] = HandleMessageFunc(l.handleReset)
	return handlers
}

func handlePing(ctx context.Context, r Responder, msg *Message) error {
	return r.SendMessage(MsgPingAck, msg.Payload)
}

func (l *Link) handleCPULoad(ctx context.Context, r Responder, msg *Message) error {
	load, err := l.Kernel.CPULoad()
	if err != nil {
		glog.Warningf("%s: cpu load: %v", l.Name(), err)
		load = 0
	}
	v := math.Round(load * 100)
	if v < 0 {
		v = 0
	} else if v > 10000 {
		v = 10000
	}
	return r.SendMessage(MsgCPULoadAck, EncodeUint16(uint16(v)))
}

func (l *Link) handleTaskCount(ctx context.Context, r Responder, msg *Message) error {
	n := l.Kernel.NumTasks()
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	return r.SendMessage(MsgTaskCountAck, EncodeUint16(uint16(n)))
}

func (l *Link) handleTaskData(ctx context.Context, r Responder, msg *Message) error {
	index, err := DecodeUint16(msg.Payload)
	if err != nil {
		return err
	}
	ack := TaskDataAck{Index: index, Result: ResultFailed}
	if info, err := l.Kernel.TaskInfo(int(index)); err == nil {
		ack.Result = ResultOK
		ack.Name, ack.Priority, ack.StackSize = info.Name, info.Priority, info.StackSize
		if stats, err := l.Kernel.TaskStats(int(index)); err == nil {
			ack.State = stats.State
		}
	}
	return r.SendMessage(MsgTaskDataAck, ack.Encode())
}

func (l *Link) handleTaskVariableData(ctx context.Context, r Responder, msg *Message) error {
	index, err := DecodeUint16(msg.Payload)
	if err != nil {
		return err
	}
	ack := TaskVariableDataAck{Index: index, Result: ResultFailed}
	if stats, err := l.Kernel.TaskStats(int(index)); err == nil {
		ack.Result = ResultOK
		ack.State, ack.RunCount, ack.Uptime = stats.State, stats.RunCount, stats.Uptime
	}
	return r.SendMessage(MsgTaskVariableDataAck, ack.Encode())
}

func (l *Link) handleTaskModify(ctx context.Context, r Responder, msg *Message) error {
	req, err := DecodeTaskModifyRequest(msg.Payload)
	if err != nil {
		return err
	}
	ack := IndexResult{Index: req.Index, Result: ResultOK}
	if err := l.Kernel.ModifyTask(int(req.Index), req.Op); err != nil {
		glog.Warningf("%s: modify task %d op %d: %v", l.Name(), req.Index, req.Op, err)
		ack.Result = ResultFailed
	}
	return r.SendMessage(MsgTaskModifyAck, ack.Encode())
}

func (l *Link) handleTimeSync(ctx context.Context, r Responder, msg *Message) error {
	t, err := DecodeTime(msg.Payload)
	if err != nil {
		return err
	}
	if err := l.Kernel.SetTime(t); err != nil {
		glog.Warningf("%s: set time: %v", l.Name(), err)
	}
	return r.SendMessage(MsgTimeSyncAck, EncodeTime(l.Kernel.Now()))
}

func (l *Link) handleReset(ctx context.Context, r Responder, msg *Message) error {
	if err := r.SendMessage(MsgResetAck, nil); err != nil {
		return err
	}
	return l.Kernel.Reset()
}
