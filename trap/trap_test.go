package trap

import (
	"strings"
	"testing"

	"rvos/devio"
)

type recordingPLIC struct {
	claims    []uint32
	completes []uint32
}

func (p *recordingPLIC) EnableInterrupt(uint32)    {}
func (p *recordingPLIC) SetPriority(uint32, uint8) {}
func (p *recordingPLIC) SetThreshold(uint8)        {}

func (p *recordingPLIC) Claim() (uint32, bool) {
	if len(p.claims) == 0 {
		return 0, false
	}
	id := p.claims[0]
	p.claims = p.claims[1:]
	return id, true
}

func (p *recordingPLIC) Complete(source uint32) {
	p.completes = append(p.completes, source)
}

// S5: machine-external trap claiming source 10 (UART), reading byte
// 0x0A, must echo CR+LF, complete with 10, and leave epc unchanged.
func TestDispatchMachineExternalUARTNewline(t *testing.T) {
	uart := &devio.FakeUart{In: []byte{0x0A}}
	plic := &recordingPLIC{claims: []uint32{10}}
	var log strings.Builder
	d := &Dispatcher{UART: uart, PLIC: plic, Log: &log}

	const epc = 0x80001000
	frame := &Frame{}
	got := d.Dispatch(epc, 0, Cause(InterruptMachineExternal | causeInterruptBit), 0, 0, frame)

	if got != epc {
		t.Fatalf("Dispatch returned %#x, want unchanged %#x", got, epc)
	}
	if string(uart.Out) != "\r\n" {
		t.Fatalf("uart.Out = %q, want %q", uart.Out, "\r\n")
	}
	if len(plic.completes) != 1 || plic.completes[0] != 10 {
		t.Fatalf("plic.completes = %v, want [10]", plic.completes)
	}
}

func TestDispatchMachineExternalUARTBackspace(t *testing.T) {
	uart := &devio.FakeUart{In: []byte{8}}
	plic := &recordingPLIC{claims: []uint32{10}}
	d := &Dispatcher{UART: uart, PLIC: plic}

	d.Dispatch(0, 0, Cause(InterruptMachineExternal | causeInterruptBit), 0, 0, &Frame{})

	if string(uart.Out) != "\x08 \x08" {
		t.Fatalf("uart.Out = %q, want BS-SPACE-BS", uart.Out)
	}
}

func TestDispatchMachineExternalUARTOrdinaryByte(t *testing.T) {
	uart := &devio.FakeUart{In: []byte{'x'}}
	plic := &recordingPLIC{claims: []uint32{10}}
	d := &Dispatcher{UART: uart, PLIC: plic}

	d.Dispatch(0, 0, Cause(InterruptMachineExternal | causeInterruptBit), 0, 0, &Frame{})

	if string(uart.Out) != "x" {
		t.Fatalf("uart.Out = %q, want %q", uart.Out, "x")
	}
}

// S6: a breakpoint exception advances epc by exactly 4.
func TestDispatchBreakpointAdvancesEPC(t *testing.T) {
	d := &Dispatcher{}
	got := d.Dispatch(0x80001234, 0, Cause(ExceptionBreakpoint), 0, 0, &Frame{})
	if want := uint64(0x80001238); got != want {
		t.Fatalf("Dispatch = %#x, want %#x", got, want)
	}
}

func TestDispatchEnvironmentCallAdvancesEPC(t *testing.T) {
	d := &Dispatcher{}
	for _, cause := range []Cause{ExceptionEnvironmentCallFromU, ExceptionEnvironmentCallFromS, ExceptionEnvironmentCallFromM} {
		got := d.Dispatch(0x1000, 0, cause, 0, 0, &Frame{})
		if got != 0x1004 {
			t.Fatalf("Dispatch(cause=%d) = %#x, want 0x1004", cause, got)
		}
	}
}

func TestDispatchMachineSoftwareAndTimerDoNotAdvance(t *testing.T) {
	d := &Dispatcher{}
	for _, code := range []uint64{InterruptMachineSoftware, InterruptMachineTimer} {
		cause := Cause(code | causeInterruptBit)
		got := d.Dispatch(0x2000, 0, cause, 0, 0, &Frame{})
		if got != 0x2000 {
			t.Fatalf("Dispatch(cause=%#x) = %#x, want unchanged 0x2000", uint64(cause), got)
		}
	}
}

func TestDispatchUnexpectedTrapPanics(t *testing.T) {
	d := &Dispatcher{}
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on unexpected synchronous trap")
		}
	}()
	d.Dispatch(0x3000, 0x40, Cause(ExceptionLoadAccessFault), 0, 0, &Frame{})
}

func TestCauseDecoding(t *testing.T) {
	c := Cause(InterruptMachineExternal | causeInterruptBit)
	if !c.IsInterrupt() {
		t.Fatal("expected interrupt")
	}
	if c.Code() != InterruptMachineExternal {
		t.Fatalf("Code() = %d, want %d", c.Code(), InterruptMachineExternal)
	}

	e := Cause(ExceptionBreakpoint)
	if e.IsInterrupt() {
		t.Fatal("expected exception, not interrupt")
	}
}

func TestFrameInit(t *testing.T) {
	var f Frame
	f.Init(2, 0x9000_1000, 0x8000_0000_0000_1234)
	if f.HartID != 2 || f.TrapStack != 0x9000_1000 || f.Satp != 0x8000_0000_0000_1234 {
		t.Fatalf("Init produced unexpected frame: %+v", f)
	}
}
