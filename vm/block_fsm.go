package vm

import (
	"context"

	"github.com/looplab/fsm"

	"ledger/logs"
)

// 区块执行状态机
//
//	idle --start--> executing --commit--> committing --next--> executing ...
//	committing --finish--> completed
//	idle --finish--> completed            （空区块）
//	任意状态 --abort--> failed             （内部不变量被破坏）
const (
	StateIdle       = "idle"
	StateExecuting  = "executing"
	StateCommitting = "committing"
	StateCompleted  = "completed"
	StateFailed     = "failed"

	EventStart  = "start"
	EventCommit = "commit"
	EventNext   = "next"
	EventFinish = "finish"
	EventAbort  = "abort"
)

// newBlockFSM 每个区块一个状态机
func newBlockFSM(height uint64) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateExecuting},
			{Name: EventCommit, Src: []string{StateExecuting}, Dst: StateCommitting},
			{Name: EventNext, Src: []string{StateCommitting}, Dst: StateExecuting},
			{Name: EventFinish, Src: []string{StateIdle, StateCommitting}, Dst: StateCompleted},
			{Name: EventAbort, Src: []string{StateIdle, StateExecuting, StateCommitting}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logs.Trace("[VM] block %d: %s -> %s (%s)", height, e.Src, e.Dst, e.Event)
			},
		},
	)
}
