package ir

// Operation identifies an instruction kind and carries its static flags.
type Operation uint8

const (
	OpLabel Operation = iota
	OpCopy
	OpJump
	OpBranch
	OpCall
	OpReceiveArg
	OpReceiveOptArg
	OpReceiveClosure
	OpReturn
	OpNonlocalReturn
	OpBreak
	OpYield
	OpRaise
	OpRethrow
	OpReceiveException
	OpExceptionMatch
	OpGetField
	OpPutField
	OpPushFrame
	OpPopFrame
	OpPushBinding
	OpPopBinding
	OpGuard
	OpThreadPoll
	OpRegionStart
	OpRegionEnd
	numOperations
)

type opFlags uint16

const (
	flagTransfersControl opFlags = 1 << iota // never falls through
	flagBranch                               // has a target and falls through
	flagCanRaise
	flagCall
	flagSideEffect
	flagReturn
	flagCallProtocol
	flagMarker
)

type opInfo struct {
	name  string
	flags opFlags
}

var operations = [numOperations]opInfo{
	OpLabel:            {"label", flagMarker},
	OpCopy:             {"copy", 0},
	OpJump:             {"jump", flagTransfersControl},
	OpBranch:           {"branch", flagBranch},
	OpCall:             {"call", flagCanRaise | flagCall | flagSideEffect},
	OpReceiveArg:       {"recv_arg", 0},
	OpReceiveOptArg:    {"recv_opt_arg", 0},
	OpReceiveClosure:   {"recv_closure", 0},
	OpReturn:           {"return", flagTransfersControl | flagReturn},
	OpNonlocalReturn:   {"nonlocal_return", flagTransfersControl | flagCanRaise | flagSideEffect},
	OpBreak:            {"break", flagTransfersControl | flagCanRaise | flagSideEffect},
	OpYield:            {"yield", flagCanRaise | flagCall | flagSideEffect},
	OpRaise:            {"raise", flagTransfersControl | flagCanRaise | flagSideEffect},
	OpRethrow:          {"rethrow", flagTransfersControl | flagCanRaise | flagSideEffect},
	OpReceiveException: {"recv_exception", 0},
	OpExceptionMatch:   {"exception_match", 0},
	OpGetField:         {"get_field", 0},
	OpPutField:         {"put_field", flagCanRaise | flagSideEffect},
	OpPushFrame:        {"push_frame", flagSideEffect | flagCallProtocol},
	OpPopFrame:         {"pop_frame", flagSideEffect | flagCallProtocol},
	OpPushBinding:      {"push_binding", flagSideEffect | flagCallProtocol},
	OpPopBinding:       {"pop_binding", flagSideEffect | flagCallProtocol},
	OpGuard:            {"guard", flagBranch},
	OpThreadPoll:       {"thread_poll", flagSideEffect},
	OpRegionStart:      {"region_start", flagMarker},
	OpRegionEnd:        {"region_end", flagMarker},
}

func (o Operation) String() string {
	if o < numOperations {
		return operations[o].name
	}
	return "unknown"
}

func (o Operation) has(f opFlags) bool {
	return o < numOperations && operations[o].flags&f != 0
}

// TransfersControl reports whether the instruction never falls through.
func (o Operation) TransfersControl() bool { return o.has(flagTransfersControl) }

// IsBranch reports whether the instruction may jump or fall through.
func (o Operation) IsBranch() bool { return o.has(flagBranch) }

// CanRaise reports whether executing the instruction may raise or unwind.
func (o Operation) CanRaise() bool { return o.has(flagCanRaise) }

// IsCall reports whether the instruction dispatches to other code.
func (o Operation) IsCall() bool { return o.has(flagCall) }

// HasSideEffects reports whether the instruction must be kept even when its
// result is dead.
func (o Operation) HasSideEffects() bool { return o.has(flagSideEffect) }

// IsReturn reports whether the instruction is a local return.
func (o Operation) IsReturn() bool { return o.has(flagReturn) }

// IsCallProtocol reports frame/binding push and pop instructions.
func (o Operation) IsCallProtocol() bool { return o.has(flagCallProtocol) }

// IsMarker reports pseudo-instructions removed during CFG construction.
func (o Operation) IsMarker() bool { return o.has(flagMarker) }
