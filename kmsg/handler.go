// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kmsg

import (
	"encoding/binary"
	"fmt"
)

const maxStringSize = 4096

// Fault represents a fatal exception reported by the kernel CPU.
type Fault struct {
	PC      uint32
	Message string
	Stamp   int64
	// Err is set when the fault message could not be read
	Err error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("kernel fault pc:%#.8x stamp:%d %s (%v)", f.PC, f.Stamp, f.Message, f.Err)
	}

	return fmt.Sprintf("kernel fault pc:%#.8x stamp:%d %s", f.PC, f.Stamp, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// DefaultHandler services essential messages:
//
//	now_init_request: replied with the current timestamp
//	log:              {addr, len} string appended to the kernel log
//	log_flush:        kernel log flushed
//	watchdog_set:     {ms} arms a watchdog, replied with its id (-1 if none)
//	watchdog_clear:   {id} disarms a watchdog
//	exception:        {pc, addr, len} reported as *Fault
func DefaultHandler(s *Service, m *Message) (err error) {
	switch m.Kind {
	case KindNowInitRequest:
		reply := make([]byte, 8)
		binary.LittleEndian.PutUint64(reply, uint64(s.Clock.Now()))

		return s.Channel.Send(Message{Kind: KindNowInitReply, Payload: reply})
	case KindLog:
		var arg []uint32
		var str string

		if arg, err = words(m, 2); err != nil {
			return
		}

		if str, err = s.ReadString(arg[0], arg[1]); err != nil {
			return
		}

		_, err = s.Log.Write([]byte(str))
	case KindLogFlush:
		err = s.Log.Flush()
	case KindWatchdogSet:
		var arg []uint32

		if arg, err = words(m, 1); err != nil {
			return
		}

		id, e := s.Watchdogs.Set(s.Clock.Now(), arg[0])

		if err = s.Channel.Send(Message{Kind: KindWatchdogSetReply, Payload: Words(uint32(int32(id)))}); err != nil {
			return
		}

		err = e
	case KindWatchdogClear:
		var arg []uint32

		if arg, err = words(m, 1); err != nil {
			return
		}

		s.Watchdogs.Clear(int(int32(arg[0])))
	case KindException:
		var arg []uint32
		var str string

		if arg, err = words(m, 3); err != nil {
			return
		}

		fault := &Fault{
			PC:    arg[0],
			Stamp: m.Stamp,
		}

		if str, err = s.ReadString(arg[1], arg[2]); err != nil {
			fault.Message = "<unreadable message>"
			fault.Err = err
		} else {
			fault.Message = str
		}

		if e := s.Log.Flush(); e != nil {
			s.warnf("kloader could not flush kernel log, %v", e)
		}

		return fault
	default:
		return fmt.Errorf("unexpected message %s", m)
	}

	return
}
