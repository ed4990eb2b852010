// Package trap implements the per-hart trap frame and the trap
// dispatcher reached from the assembly trampoline: cause decoding and
// routing of external interrupts through the platform interrupt
// controller (spec §4.6).
package trap

import (
	"errors"
	"fmt"
	"io"

	"rvos/devio"
)

// HartCount is the number of trap frames kept resident, matching the
// reference target's four harts (spec §5) and five_os's
// GLOBAL_TRAPFRAMES: &mut [TrapFrame; 4].
const HartCount = 4

// Frame is the per-hart register-save area the assembly trampoline
// populates before calling Dispatch, and restores from after. Layout
// mirrors spec §3 exactly: regs, fregs, the active satp value, the
// hart's trap-stack pointer, and its hart id.
type Frame struct {
	Regs      [32]uint64
	FRegs     [32]uint64
	Satp      uint64
	TrapStack uintptr
	HartID    uint64
}

// Frames holds one Frame per hart. boot.Kinit initializes hart 0's
// entry and writes the address of the identity-mapped trap-frame page
// to mscratch/sscratch (spec §3, §4.5). A fixed array, not one global
// singleton, per SPEC_FULL §3's supplement over the source's single
// global.
type Frames [HartCount]Frame

// Init populates frame for hartID, pointing its trap stack at the top
// of a page-sized region (stacks grow down) and recording the satp
// value that will be active when this hart takes a trap.
func (f *Frame) Init(hartID uint64, trapStackTop uintptr, satp uint64) {
	*f = Frame{Satp: satp, TrapStack: trapStackTop, HartID: hartID}
}

// Cause is a raw mcause/scause value: the top bit distinguishes an
// asynchronous interrupt from a synchronous exception; the remaining
// bits index a per-category enumeration fixed by the RISC-V
// privileged architecture (spec §4.6, §6).
type Cause uint64

const causeInterruptBit = uint64(1) << 63

// IsInterrupt reports whether Cause describes an asynchronous
// interrupt rather than a synchronous exception.
func (c Cause) IsInterrupt() bool { return uint64(c)&causeInterruptBit != 0 }

// Code returns the low bits of Cause, the category-specific code.
func (c Cause) Code() uint64 { return uint64(c) &^ causeInterruptBit }

// Interrupt codes (low bits, Cause.IsInterrupt() == true).
const (
	InterruptSupervisorSoftware = 1
	InterruptMachineSoftware    = 3
	InterruptSupervisorTimer    = 5
	InterruptMachineTimer       = 7
	InterruptSupervisorExternal = 9
	InterruptMachineExternal    = 11
)

// Exception codes (low bits, Cause.IsInterrupt() == false).
const (
	ExceptionInstructionAddressMisaligned = 0
	ExceptionInstructionAccessFault       = 1
	ExceptionIllegalInstruction           = 2
	ExceptionBreakpoint                   = 3
	ExceptionLoadAddressMisaligned        = 4
	ExceptionLoadAccessFault              = 5
	ExceptionStoreAMOAddressMisaligned    = 6
	ExceptionStoreAMOAccessFault          = 7
	ExceptionEnvironmentCallFromU         = 8
	ExceptionEnvironmentCallFromS         = 9
	ExceptionEnvironmentCallFromM         = 11
	ExceptionInstructionPageFault         = 12
	ExceptionLoadPageFault                = 13
	ExceptionStoreAMOPageFault            = 15
)

// uartClaimSource is the PLIC interrupt source QEMU virt wires the
// 16550 UART to.
const uartClaimSource = 10

// ErrUnexpectedTrap is the terminal condition for every synchronous
// fault the dispatch table does not otherwise handle: access faults,
// misalignment, page faults, and illegal instructions. The boot path
// has no recovery for these; Dispatch panics with a wrapped
// ErrUnexpectedTrap carrying the cause, epc, and tval.
var ErrUnexpectedTrap = errors.New("trap: unexpected synchronous trap")

// Dispatcher holds the external collaborators the dispatch table
// reaches: the UART it echoes through and the PLIC it claims/completes
// against, plus a diagnostic sink for the log lines spec §4.6 calls
// for. Log defaults to discarding output if nil.
type Dispatcher struct {
	UART devio.UART
	PLIC devio.PLIC
	Log  io.Writer
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Log == nil {
		return
	}
	fmt.Fprintf(d.Log, format, args...)
}

// Dispatch is the Go-side half of the assembly trampoline contract
// (spec §6's rust_trap entry point, §9's scratch-register contract):
// it decodes cause, routes the trap per spec §4.6's table, and
// returns the exception-program-counter the trampoline should restore
// before mret/sret.
func (d *Dispatcher) Dispatch(epc, tval uint64, cause Cause, hart uint64, status uint64, frame *Frame) uint64 {
	if cause.IsInterrupt() {
		switch cause.Code() {
		case InterruptMachineSoftware:
			d.logf("machine software interrupt: core#%d\n", hart)
		case InterruptMachineTimer:
			d.logf("machine timer interrupt: core#%d\n", hart)
		case InterruptMachineExternal:
			d.handleExternal(hart)
		default:
			d.logf("unhandled interrupt: core#%d cause=%#x\n", hart, uint64(cause))
		}
		return epc
	}

	switch cause.Code() {
	case ExceptionBreakpoint:
		d.logf("breakpoint: core#%d epc=%#x\n", hart, epc)
		return epc + 4
	case ExceptionEnvironmentCallFromU, ExceptionEnvironmentCallFromS, ExceptionEnvironmentCallFromM:
		d.logf("environment call: core#%d epc=%#x\n", hart, epc)
		return epc + 4
	default:
		d.logf("unexpected trap: core#%d cause=%#x epc=%#x tval=%#x status=%#x frame=%+v\n",
			hart, uint64(cause), epc, tval, status, frame)
		panic(fmt.Errorf("core#%d cause=%#x epc=%#x tval=%#x: %w", hart, uint64(cause), epc, tval, ErrUnexpectedTrap))
	}
}

// handleExternal claims the pending PLIC source; if it is the UART
// line, it drains one byte and echoes it per spec §4.6's backspace
// (BS-SPACE-BS) and newline (CRLF) handling, then completes the
// claim. A claim with no pending source is logged, not treated as an
// error: the hardware may raise machine-external with nothing left to
// claim if another hart already drained it.
func (d *Dispatcher) handleExternal(hart uint64) {
	source, ok := d.PLIC.Claim()
	if !ok {
		d.logf("machine external interrupt: core#%d, nothing pending\n", hart)
		return
	}
	if source == uartClaimSource {
		if c, ok := d.UART.Get(); ok {
			switch c {
			case 8: // backspace
				d.UART.Put(8)
				d.UART.Put(' ')
				d.UART.Put(8)
			case 10, 13: // newline, carriage return
				d.UART.Put('\r')
				d.UART.Put('\n')
			default:
				d.UART.Put(c)
			}
		}
	}
	d.PLIC.Complete(source)
}
