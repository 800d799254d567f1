package vm

import (
	"fmt"

	"github.com/holiman/uint256"

	"ledger/keys"
	"ledger/types"
)

// ============================================
// 原生函数 VM
// 模块是否存在、导出哪些函数由状态决定；函数体由 HandlerRegistry 里的原生实现提供
// ============================================

// NativeVM 基于注册表的 VirtualMachine 实现
type NativeVM struct {
	reg *HandlerRegistry
}

// NewNativeVM 创建 VM；reg 为 nil 时使用内置函数
func NewNativeVM(reg *HandlerRegistry) *NativeVM {
	if reg == nil {
		reg = BuiltinRegistry()
	}
	return &NativeVM{reg: reg}
}

// Registry 返回使用中的注册表
func (v *NativeVM) Registry() *HandlerRegistry { return v.reg }

// Run 执行交易载荷
func (v *NativeVM) Run(ctx *RunContext) error {
	s := newSession(ctx)

	switch ctx.Tx.Payload.Kind {
	case types.PayloadModulePublish:
		if err := publishModule(s, ctx.Tx.Payload.Module); err != nil {
			return err
		}
	default:
		// Script 与 EntryFunction 都是按顺序的调用列表，任何一步失败整笔交易失败
		for _, call := range ctx.Tx.Payload.Calls {
			if err := s.Charge(ctx.Gas.CallBase); err != nil {
				return err
			}
			fn, ok := v.reg.Get(call.Module, call.Function)
			if !ok {
				return &linkError{fmt.Sprintf("no native implementation for %s", call)}
			}
			s.location = call.Module.String()
			if err := fn(s, call.Args); err != nil {
				return err
			}
		}
	}

	ctx.Effects = s.effects()
	return nil
}

// ========== Session ==========

// Session 一次 VM 调用内的读写上下文
// 读先看本次调用自己的写入，再读交易开始时的视图；同一 key 的多次写入合并成一条
type Session struct {
	ctx      *RunContext
	writes   map[string]RawWrite
	order    []string
	events   []types.Event
	location string
}

func newSession(ctx *RunContext) *Session {
	return &Session{ctx: ctx, writes: make(map[string]RawWrite)}
}

// Sender 交易发送者
func (s *Session) Sender() types.Address { return s.ctx.Tx.Sender }

// Charge 直接扣 gas
func (s *Session) Charge(units uint64) error { return s.ctx.Meter.Charge(units) }

// Abort 以当前模块为位置的中止
func (s *Session) Abort(code uint64) error {
	return &AbortError{Location: s.location, Code: code}
}

// Read 读取 key，按读取字节数计费
func (s *Session) Read(key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	if w, hit := s.writes[key]; hit {
		if !w.Delete {
			val, ok = append([]byte(nil), w.Value...), true
		}
	} else {
		var err error
		val, ok, err = s.ctx.View.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrStateRead, key, err)
		}
	}
	if err := s.ctx.Meter.ChargeLinear(s.ctx.Gas.ReadBase, s.ctx.Gas.ReadPerByte, uint64(len(key)+len(val))); err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

func (s *Session) record(w RawWrite) {
	if _, ok := s.writes[w.Key]; !ok {
		s.order = append(s.order, w.Key)
	}
	s.writes[w.Key] = w
}

// Write 写入 key
func (s *Session) Write(key string, val []byte) error {
	if err := s.ctx.Meter.ChargeLinear(s.ctx.Gas.WriteBase, s.ctx.Gas.WritePerByte, uint64(len(key)+len(val))); err != nil {
		return err
	}
	s.record(RawWrite{Key: key, Value: append([]byte(nil), val...)})
	return nil
}

// Delete 删除 key
func (s *Session) Delete(key string) error {
	if err := s.ctx.Meter.ChargeLinear(s.ctx.Gas.WriteBase, s.ctx.Gas.WritePerByte, uint64(len(key))); err != nil {
		return err
	}
	s.record(RawWrite{Key: key, Delete: true})
	return nil
}

// Emit 发出事件
func (s *Session) Emit(typ string, data []byte) error {
	if err := s.ctx.Meter.ChargeLinear(s.ctx.Gas.EventBase, s.ctx.Gas.EventPerByte, uint64(len(typ)+len(data))); err != nil {
		return err
	}
	s.events = append(s.events, types.Event{Type: typ, Data: append([]byte(nil), data...)})
	return nil
}

// effects 按首次写入顺序输出
func (s *Session) effects() RawEffects {
	out := RawEffects{Writes: make([]RawWrite, 0, len(s.order)), Events: s.events}
	for _, k := range s.order {
		out.Writes = append(out.Writes, s.writes[k])
	}
	return out
}

// ========== 内置模块 ==========

var (
	accountModule = types.ModuleID{Address: types.CoreAddress, Name: "account"}
	coinModule    = types.ModuleID{Address: types.CoreAddress, Name: "coin"}
	eventModule   = types.ModuleID{Address: types.CoreAddress, Name: "event"}
	debugModule   = types.ModuleID{Address: types.CoreAddress, Name: "debug"}
	codeLocation  = types.CoreAddress.String() + "::code"
)

// BuiltinRegistry 0x1 下的内置函数
func BuiltinRegistry() *HandlerRegistry {
	reg := NewHandlerRegistry()
	for _, b := range []struct {
		mod types.ModuleID
		fn  string
		h   NativeFunction
	}{
		{accountModule, "create_account", nativeCreateAccount},
		{coinModule, "transfer", nativeTransfer},
		{coinModule, "mint", nativeMint},
		{eventModule, "emit", nativeEmit},
		{debugModule, "spin", nativeSpin},
		{debugModule, "abort", nativeAbort},
	} {
		if err := reg.Register(b.mod, b.fn, b.h); err != nil {
			panic(err)
		}
	}
	return reg
}

func expectArgs(s *Session, args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return s.Abort(EBadArgument)
	}
	return nil
}

// tokenArg 第 i 个参数为可选的代币名，缺省为原生币
func tokenArg(args []string, i int) string {
	if len(args) > i && args[i] != "" {
		return args[i]
	}
	return keys.NativeToken
}

func sessionBalance(s *Session, addr types.Address, token string) (*uint256.Int, error) {
	data, ok, err := s.Read(keys.KeyBalance(string(addr), token))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return types.DecodeBalance(data)
}

func sessionAccountExists(s *Session, addr types.Address) (bool, error) {
	_, ok, err := s.Read(keys.KeyAccount(string(addr)))
	return ok, err
}

// account::create_account(addr)
func nativeCreateAccount(s *Session, args []string) error {
	if err := expectArgs(s, args, 1, 1); err != nil {
		return err
	}
	addr := types.Address(args[0])
	if addr == "" {
		return s.Abort(EBadArgument)
	}
	exists, err := sessionAccountExists(s, addr)
	if err != nil {
		return err
	}
	if exists {
		return s.Abort(EAccountExists)
	}
	acc := &types.AccountResource{SequenceNumber: 0}
	return s.Write(keys.KeyAccount(string(addr)), acc.Encode())
}

// coin::transfer(to, amount[, token])
func nativeTransfer(s *Session, args []string) error {
	if err := expectArgs(s, args, 2, 3); err != nil {
		return err
	}
	to := types.Address(args[0])
	amount, err := parseAmount("amount", args[1])
	if err != nil {
		return s.Abort(EBadArgument)
	}
	token := tokenArg(args, 2)

	exists, err := sessionAccountExists(s, to)
	if err != nil {
		return err
	}
	if !exists {
		return s.Abort(EAccountNotFound)
	}

	from := s.Sender()
	fromBal, err := sessionBalance(s, from, token)
	if err != nil {
		return err
	}
	newFrom, err := SafeSub(fromBal, amount)
	if err != nil {
		return s.Abort(EInsufficientBalance)
	}
	if err := s.Write(keys.KeyBalance(string(from), token), types.EncodeBalance(newFrom)); err != nil {
		return err
	}

	// 自转账时读到的是刚写入的余额
	toBal, err := sessionBalance(s, to, token)
	if err != nil {
		return err
	}
	newTo, err := SafeAdd(toBal, amount)
	if err != nil {
		return s.Abort(EOverflow)
	}
	if err := s.Write(keys.KeyBalance(string(to), token), types.EncodeBalance(newTo)); err != nil {
		return err
	}
	return s.Emit(coinModule.String()+"::TransferEvent", transferEventData(from, to, token, amount))
}

// coin::mint(to, amount[, token])，只有 0x1 可以调用
func nativeMint(s *Session, args []string) error {
	if err := expectArgs(s, args, 2, 3); err != nil {
		return err
	}
	if s.Sender() != types.CoreAddress {
		return s.Abort(ENotAuthorized)
	}
	to := types.Address(args[0])
	amount, err := parseAmount("amount", args[1])
	if err != nil {
		return s.Abort(EBadArgument)
	}
	token := tokenArg(args, 2)

	exists, err := sessionAccountExists(s, to)
	if err != nil {
		return err
	}
	if !exists {
		return s.Abort(EAccountNotFound)
	}
	bal, err := sessionBalance(s, to, token)
	if err != nil {
		return err
	}
	newBal, err := SafeAdd(bal, amount)
	if err != nil {
		return s.Abort(EOverflow)
	}
	if err := s.Write(keys.KeyBalance(string(to), token), types.EncodeBalance(newBal)); err != nil {
		return err
	}
	return s.Emit(coinModule.String()+"::MintEvent", transferEventData(types.CoreAddress, to, token, amount))
}

// event::emit(type, data)
func nativeEmit(s *Session, args []string) error {
	if err := expectArgs(s, args, 2, 2); err != nil {
		return err
	}
	return s.Emit(args[0], []byte(args[1]))
}

// debug::spin(n) 空转 n 步，每步按指令计费
func nativeSpin(s *Session, args []string) error {
	if err := expectArgs(s, args, 1, 1); err != nil {
		return err
	}
	n, err := parseUint("steps", args[0])
	if err != nil {
		return s.Abort(EBadArgument)
	}
	if s.ctx.Gas.Instruction == 0 {
		return nil
	}
	for i := uint64(0); i < n; i++ {
		if err := s.Charge(s.ctx.Gas.Instruction); err != nil {
			return err
		}
	}
	return nil
}

// debug::abort(code)
func nativeAbort(s *Session, args []string) error {
	if err := expectArgs(s, args, 1, 1); err != nil {
		return err
	}
	code, err := parseUint("code", args[0])
	if err != nil {
		return s.Abort(EBadArgument)
	}
	return s.Abort(code)
}

// publishModule 在发送者地址下发布模块，同名模块已存在时中止
func publishModule(s *Session, mod *types.Module) error {
	s.location = codeLocation
	key := keys.KeyModule(string(s.Sender()), mod.Name)
	_, exists, err := s.Read(key)
	if err != nil {
		return err
	}
	if exists {
		return s.Abort(EModuleExists)
	}
	return s.Write(key, mod.Encode())
}

func transferEventData(from, to types.Address, token string, amount *uint256.Int) []byte {
	return []byte(fmt.Sprintf(`{"from":%q,"to":%q,"token":%q,"amount":%q}`, from, to, token, amount.ToBig().String()))
}
