// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package telnet

// Telnet commands (RFC 854).
const (
	cmdSE   byte = 240
	cmdNOP  byte = 241
	cmdGA   byte = 249
	cmdSB   byte = 250
	cmdWILL byte = 251
	cmdWONT byte = 252
	cmdDO   byte = 253
	cmdDONT byte = 254
	cmdIAC  byte = 255
)

// Options the server may enable on its side. Everything else is refused.
const (
	optEcho            byte = 1
	optSuppressGoAhead byte = 3
)

type decoderState int

const (
	stateData decoderState = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

// decoder strips telnet commands from the server's byte stream and produces
// the negotiation replies. It keeps its state between calls so sequences may
// be split across reads.
type decoder struct {
	state  decoderState
	verb   byte
	remote map[byte]bool
	// afterCR is set when the last data byte was CR. A NUL after it is the
	// bare CR padding of RFC 854 and is dropped.
	afterCR bool
}

func (d *decoder) decode(in []byte) (data, replies []byte) {
	data = make([]byte, 0, len(in))
	for _, c := range in {
		switch d.state {
		case stateData:
			switch {
			case c == cmdIAC:
				d.state = stateIAC
			case c == 0 && d.afterCR:
				d.afterCR = false
			default:
				data = append(data, c)
				d.afterCR = c == '\r'
			}
		case stateIAC:
			switch c {
			case cmdIAC:
				data = append(data, cmdIAC)
				d.afterCR = false
				d.state = stateData
			case cmdWILL, cmdWONT, cmdDO, cmdDONT:
				d.verb = c
				d.state = stateOption
			case cmdSB:
				d.state = stateSub
			default:
				// NOP, GA, AYT and friends carry no data.
				d.state = stateData
			}
		case stateOption:
			replies = append(replies, d.negotiate(d.verb, c)...)
			d.state = stateData
		case stateSub:
			if c == cmdIAC {
				d.state = stateSubIAC
			}
		case stateSubIAC:
			switch c {
			case cmdSE:
				d.state = stateData
			default:
				d.state = stateSub
			}
		}
	}
	return data, replies
}

// negotiate answers one option request. Replies are only sent when the
// option state changes, so a polite server never loops.
func (d *decoder) negotiate(verb, opt byte) []byte {
	if d.remote == nil {
		d.remote = make(map[byte]bool)
	}
	switch verb {
	case cmdWILL:
		if !acceptRemote(opt) {
			return []byte{cmdIAC, cmdDONT, opt}
		}
		if d.remote[opt] {
			return nil
		}
		d.remote[opt] = true
		return []byte{cmdIAC, cmdDO, opt}
	case cmdWONT:
		if !d.remote[opt] {
			return nil
		}
		d.remote[opt] = false
		return []byte{cmdIAC, cmdDONT, opt}
	case cmdDO:
		return []byte{cmdIAC, cmdWONT, opt}
	default:
		return nil
	}
}

func acceptRemote(opt byte) bool {
	return opt == optEcho || opt == optSuppressGoAhead
}
