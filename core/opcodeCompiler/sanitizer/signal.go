package sanitizer

import (
	"github.com/cassc/mau-ityfuzz/core/opcodeCompiler/kir"
	"github.com/cassc/mau-ityfuzz/params"
)

// Runtime symbols the instrumentation calls into.
const (
	ThreadIDFunc = "get_thread_id"
	BugSetFunc   = "addBugSet"
	HashWordFunc = "__hashword"
	SLoadFunc    = "__device_sload"
	SStoreFunc   = "__device_sstore"
)

// SigConst returns the i8 constant carrying sig.
func SigConst(sig params.SigByte) *kir.Const {
	return kir.ConstInt(kir.I8, uint64(sig))
}

// EmitSignal reports (thread, sig, pc) at the builder position. sig is an i8
// value; zero means nothing to report.
func EmitSignal(b *kir.Builder, mod *kir.Module, sig kir.Value, pc uint32) *kir.Inst {
	tid := b.CreateCall(mod.Declare(ThreadIDFunc, kir.I32))
	bugSet := mod.Declare(BugSetFunc, kir.Void, kir.I32, kir.I8, kir.I32)
	return b.CreateCall(bugSet, tid, sig, kir.ConstInt(kir.I32, uint64(pc)))
}

// IsSignal reports whether inst is a signal-reporting call.
func IsSignal(inst *kir.Inst) bool { return inst.Calls(BugSetFunc) }
