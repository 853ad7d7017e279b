// Package kfmt is the core's console formatter: a zero-allocation, minimal
// Printf implementation that every subsystem uses to report diagnostics
// (spec.md §6's kprintf contract) and which doubles as the sink for
// kernel.Panic's final halt message. It is modelled directly on the
// teacher's kernel/kfmt package, extended with the %p/%u verbs the kprintf
// contract requires.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize bounds the scratch buffer used while formatting integers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	nullValue       = []byte("(null)")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// singleByte is a shared one-byte scratch buffer so that writing
	// literal format-string bytes never allocates.
	singleByte = []byte{0}

	// earlyPrintBuffer captures Printf output produced before a console
	// sink is attached via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends output. A nil sink redirects to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for Printf to w and flushes any output
// accumulated in earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently configured output sink, or nil if
// output is still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf implements the kprintf contract from spec.md §6:
//
//	%s   string or []byte; a nil value renders as "(null)"
//	%d   signed decimal
//	%ld  signed decimal (long; no width difference in this implementation)
//	%u   unsigned decimal
//	%lu  unsigned decimal (long)
//	%x   hex, lower-case
//	%lx  hex, lower-case (long)
//	%p   pointer: "0x" followed by exactly 16 lower-case hex digits
//	%t   "true" or "false"
//	%%   a literal percent sign
//
// An optional decimal width may precede any verb; strings and base-10
// integers are left-padded with spaces, base-8/16 integers with zeroes.
// Unknown verbs print literally, matching spec.md's external-collaborator
// contract for kprintf.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to the supplied io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		long                         bool
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			for i := blockStart; i < blockEnd; i++ {
				singleByte[0] = format[i]
				doWrite(w, singleByte)
			}
		}

		padLen, long = 0, false
		verbStart := blockEnd
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				singleByte[0] = '%'
				doWrite(w, singleByte)
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'l':
				long = true
				continue
			case nextCh == 'd' || nextCh == 'u' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't' || nextCh == 'p':
				if nextArgIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen, false)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen, false)
				case 'u':
					fmtInt(w, args[nextArgIndex], 10, padLen, true)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen, true)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				case 'p':
					fmtPointer(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				for i := verbStart; i <= blockEnd; i++ {
					singleByte[0] = format[i]
					doWrite(w, singleByte)
				}
				break parseFmt
			}
		}
		_ = long
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart != blockEnd {
		for i := blockStart; i < blockEnd; i++ {
			singleByte[0] = format[i]
			doWrite(w, singleByte)
		}
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	switch bVal := v.(type) {
	case bool:
		if bVal {
			doWrite(w, trueValue)
		} else {
			doWrite(w, falseValue)
		}
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtPointer renders v as "0x" followed by exactly 16 lower-case hex digits,
// per spec.md §6. A nil pointer still renders as 0x0000000000000000, not
// "(null)" -- the null-rendering rule applies to %s only.
func fmtPointer(w io.Writer, v interface{}) {
	var addr uint64
	switch pv := v.(type) {
	case uintptr:
		addr = uint64(pv)
	case unsafe.Pointer:
		addr = uint64(uintptr(pv))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	doWrite(w, []byte("0x"))
	for shift := 60; shift >= 0; shift -= 4 {
		nibble := byte((addr >> uint(shift)) & 0xf)
		if nibble < 10 {
			singleByte[0] = '0' + nibble
		} else {
			singleByte[0] = 'a' + (nibble - 10)
		}
		doWrite(w, singleByte)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		for i := 0; i < len(castedVal); i++ {
			singleByte[0] = castedVal[i]
			doWrite(w, singleByte)
		}
	case []byte:
		if castedVal == nil {
			fmtRepeat(w, ' ', padLen-len(nullValue))
			doWrite(w, nullValue)
			return
		}
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	case nil:
		fmtRepeat(w, ' ', padLen-len(nullValue))
		doWrite(w, nullValue)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for i := 0; i < count; i++ {
		doWrite(w, singleByte)
	}
}

// fmtInt prints v in the requested base applying padLen padding. unsignedOut
// forces the value to be interpreted/rendered without a sign, for %u/%x.
func fmtInt(w io.Writer, v interface{}, base, padLen int, unsignedOut bool) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	switch base {
	case 8:
		divider, padCh = 8, '0'
	case 10:
		divider, padCh = 10, ' '
	case 16:
		divider, padCh = 16, '0'
	}

	switch tv := v.(type) {
	case uint8:
		uval = uint64(tv)
	case uint16:
		uval = uint64(tv)
	case uint32:
		uval = uint64(tv)
	case uint64:
		uval = tv
	case uintptr:
		uval = uint64(tv)
	case int8:
		sval = int64(tv)
	case int16:
		sval = int64(tv)
	case int32:
		sval = int64(tv)
	case int64:
		sval = tv
	case int:
		sval = int64(tv)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if unsignedOut {
		if sval != 0 {
			uval = uint64(sval)
		}
		sval = 0
	} else if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	if sval < 0 {
		for end = right - 1; numFmtBuf[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		numFmtBuf[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[0:end])
}

// doWrite hides p from escape analysis so that Printf calls made before a
// heap exists do not trigger an allocation; see noEscape.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
