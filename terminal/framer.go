package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize ограничивает размер одного собираемого сообщения
const MaxFrameSize = 64 * 1024

var (
	ErrMalformedFrame = errors.New("malformed terminal frame")
	ErrFrameTooLarge  = errors.New("terminal frame too large")
)

// FramingMode определяет, как определяется граница сообщения в потоке
type FramingMode string

const (
	// FramingScan отслеживает вложенность скобок и строк и закрывает кадр
	// ровно на закрывающей скобке верхнего уровня
	FramingScan FramingMode = "scan"
	// FramingSuffix - совместимый режим: буфер считается кадром, когда
	// оканчивается на '}' и разбирается как JSON
	FramingSuffix FramingMode = "suffix"
)

// ParseFramingMode разбирает значение из конфигурации
func ParseFramingMode(s string) (FramingMode, error) {
	switch FramingMode(s) {
	case FramingScan, "":
		return FramingScan, nil
	case FramingSuffix:
		return FramingSuffix, nil
	}
	return "", fmt.Errorf("unknown framing mode %q", s)
}

// FrameHandler получает либо завершённый кадр, либо ошибку кадрирования
type FrameHandler func(frame []byte, err error)

// Framer собирает JSON-объекты из потока байт без разделителей.
// В буфере находится не больше одного незавершённого сообщения.
// Не потокобезопасен: им владеет цикл чтения транспорта.
type Framer struct {
	mode     FramingMode
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	// discarding: сообщение превысило MaxFrameSize, байты до его закрывающей
	// скобки пропускаются без буферизации
	discarding bool
}

// NewFramer создаёт сборщик кадров
func NewFramer(mode FramingMode) *Framer {
	if mode == "" {
		mode = FramingScan
	}
	return &Framer{mode: mode, buf: make([]byte, 0, 4096)}
}

// Pending возвращает число байт незавершённого сообщения
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset сбрасывает незавершённое сообщение
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.depth = 0
	f.inString = false
	f.escaped = false
	f.discarding = false
}

// Feed добавляет очередную порцию байт и вызывает emit для каждого завершённого кадра
func (f *Framer) Feed(p []byte, emit FrameHandler) {
	if f.mode == FramingSuffix {
		f.feedSuffix(p, emit)
		return
	}
	f.feedScan(p, emit)
}

func (f *Framer) feedScan(p []byte, emit FrameHandler) {
	for _, b := range p {
		if f.depth == 0 {
			// Между сообщениями допускаются только пробелы; мусор до '{' отбрасывается
			if b == '{' {
				f.buf = append(f.buf[:0], b)
				f.depth = 1
			}
			continue
		}

		if !f.discarding {
			f.buf = append(f.buf, b)
			if len(f.buf) > MaxFrameSize {
				f.buf = f.buf[:0]
				f.discarding = true
				emit(nil, ErrFrameTooLarge)
			}
		}

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}

		switch b {
		case '"':
			f.inString = true
		case '{', '[':
			f.depth++
		case '}', ']':
			f.depth--
			if f.depth == 0 {
				if f.discarding {
					f.Reset()
					continue
				}
				frame := bytes.Clone(f.buf)
				f.Reset()
				if !json.Valid(frame) {
					emit(nil, fmt.Errorf("%w: %q", ErrMalformedFrame, truncate(frame)))
					continue
				}
				emit(frame, nil)
			}
		}
	}
}

func (f *Framer) feedSuffix(p []byte, emit FrameHandler) {
	f.buf = append(f.buf, p...)
	if len(f.buf) > MaxFrameSize {
		f.Reset()
		emit(nil, ErrFrameTooLarge)
		return
	}
	trimmed := bytes.TrimSpace(f.buf)
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != '}' {
		return
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		// Возможно, '}' оказалась внутри ещё не дочитанного сообщения
		return
	}
	frame := bytes.Clone(trimmed)
	f.Reset()
	emit(frame, nil)
}

func truncate(b []byte) []byte {
	const limit = 64
	if len(b) <= limit {
		return b
	}
	return b[:limit]
}
