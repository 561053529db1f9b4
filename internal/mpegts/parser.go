package mpegts

import "sort"

// accumulator collects the payload of one PID until a unit is complete.
type accumulator struct {
	pid          uint16
	buf          []byte
	lastCC       uint8
	started      bool
	randomAccess bool
}

// Parser reassembles PSI sections and PES packets from transport packets.
type Parser struct {
	pmtPIDs map[uint16]bool
	accs    map[uint16]*accumulator

	// Discontinuities counts continuity counter gaps that dropped data.
	Discontinuities int
}

// NewParser returns a parser with an empty program map.
func NewParser() *Parser {
	return &Parser{
		pmtPIDs: make(map[uint16]bool),
		accs:    make(map[uint16]*accumulator),
	}
}

func (p *Parser) isPSI(pid uint16) bool {
	return pid == pidPAT || p.pmtPIDs[pid]
}

// Feed parses one 188-byte packet and returns the units it completed.
// Corrupt packets return an error and leave earlier state intact.
func (p *Parser) Feed(buf []byte) ([]*Data, error) {
	pkt, err := ParsePacket(buf)
	if err != nil {
		return nil, err
	}
	h := pkt.Header

	a := p.accs[h.PID]
	if a == nil {
		a = &accumulator{pid: h.PID}
		p.accs[h.PID] = a
	}

	// Skip packets with transport errors.
	if h.TransportErrorIndicator {
		a.buf, a.started = a.buf[:0], false
		return nil, nil
	}
	// Skip adaptation-only packets (no payload).
	if !h.HasPayload {
		return nil, nil
	}

	if a.started && !h.DiscontinuityIndicator {
		expected := (a.lastCC + 1) & 0x0F
		if h.ContinuityCounter != expected {
			if h.ContinuityCounter == a.lastCC {
				return nil, nil // duplicate packet, drop
			}
			// Unsignaled discontinuity, drop the partial unit.
			p.Discontinuities++
			a.buf, a.started = a.buf[:0], false
		}
	}
	a.lastCC = h.ContinuityCounter

	var out []*Data
	if h.PayloadUnitStartIndicator {
		if a.started && len(a.buf) > 0 {
			out = append(out, p.complete(a)...)
		}
		a.buf = append(a.buf[:0], pkt.Payload...)
		a.started = true
		a.randomAccess = h.RandomAccessIndicator
	} else if a.started {
		a.buf = append(a.buf, pkt.Payload...)
	} else {
		// Continuation without a start, nothing to attach it to.
		return nil, nil
	}

	if p.isPSI(h.PID) {
		if isPSIComplete(a.buf) {
			out = append(out, p.complete(a)...)
		}
	} else if n := pesLength(a.buf); n > 0 && len(a.buf) >= n {
		out = append(out, p.complete(a)...)
	}
	return out, nil
}

// complete parses and resets the accumulator.
func (p *Parser) complete(a *accumulator) []*Data {
	payload := append([]byte(nil), a.buf...)
	randomAccess := a.randomAccess
	a.buf, a.started = a.buf[:0], false

	if p.isPSI(a.pid) {
		results, err := parsePSI(payload, a.pid)
		if err != nil {
			return results
		}
		for _, r := range results {
			if r.PAT != nil {
				for _, prog := range r.PAT.Programs {
					p.pmtPIDs[prog.PMTPID] = true
				}
			}
		}
		return results
	}

	if !isPESPayload(payload) {
		return nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		return nil
	}
	pes.RandomAccess = randomAccess
	return []*Data{{PID: a.pid, PES: pes}}
}

// Flush completes every partial unit, in PID order. Used at end of input.
func (p *Parser) Flush() []*Data {
	pids := make([]int, 0, len(p.accs))
	for pid, a := range p.accs {
		if a.started && len(a.buf) > 0 {
			pids = append(pids, int(pid))
		}
	}
	sort.Ints(pids)

	var out []*Data
	for _, pid := range pids {
		out = append(out, p.complete(p.accs[uint16(pid)])...)
	}
	return out
}

// Reset drops partial units but keeps the program map, e.g. after a seek.
func (p *Parser) Reset() {
	for _, a := range p.accs {
		a.buf, a.started = a.buf[:0], false
	}
}
