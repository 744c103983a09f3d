package telemetry

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Segment is a telemetry region: heap memory or a shared mapping of a file.
type Segment struct {
	data  []byte
	unmap func() error
}

// New allocates an 8-byte aligned segment of size bytes on the heap.
func New(size int) (*Segment, error) {
	if size < OffsetUserData {
		return nil, fmt.Errorf("telemetry segment of %d bytes is smaller than the header", size)
	}
	words := make([]uint64, (size+7)/8)
	data := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &Segment{data: data}, nil
}

// Open maps path as a shared segment, creating and sizing the file when
// needed. Other processes mapping the same file see the same counters.
func Open(path string, size int) (*Segment, error) {
	if size < OffsetUserData {
		return nil, fmt.Errorf("telemetry segment of %d bytes is smaller than the header", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat telemetry file: %w", err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("size telemetry file: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map telemetry file: %w", err)
	}
	return &Segment{data: data, unmap: func() error { return unix.Munmap(data) }}, nil
}

// Close releases a mapped segment. It is a no-op for heap segments.
func (s *Segment) Close() error {
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	return err
}

// Size returns the segment length in bytes.
func (s *Segment) Size() int { return len(s.data) }

// Bytes exposes the raw region for zero-copy readers.
func (s *Segment) Bytes() []byte { return s.data }

func (s *Segment) u32(off int) *uint32 { return (*uint32)(unsafe.Pointer(&s.data[off])) }
func (s *Segment) i32(off int) *int32  { return (*int32)(unsafe.Pointer(&s.data[off])) }
func (s *Segment) u64(off int) *uint64 { return (*uint64)(unsafe.Pointer(&s.data[off])) }

// Publish stamps the segment with now and bumps the sequence number.
func (s *Segment) Publish(now time.Time) int32 {
	secs := float64(now.UnixNano()) / float64(time.Second)
	atomic.StoreUint64(s.u64(OffsetTimestamp), math.Float64bits(secs))
	return atomic.AddInt32(s.i32(OffsetSequence), 1)
}

// Timestamp returns the time of the last publish in seconds.
func (s *Segment) Timestamp() float64 {
	return math.Float64frombits(atomic.LoadUint64(s.u64(OffsetTimestamp)))
}

// Sequence returns the publish counter.
func (s *Segment) Sequence() int32 {
	return atomic.LoadInt32(s.i32(OffsetSequence))
}

// SetFloat stores a float slot.
func (s *Segment) SetFloat(m Metric, v float32) {
	atomic.StoreUint32(s.u32(slots[m].offset), math.Float32bits(v))
}

// SetInt stores an int slot.
func (s *Segment) SetInt(m Metric, v int32) {
	atomic.StoreInt32(s.i32(slots[m].offset), v)
}

// Add increments a counter and returns the new value.
func (s *Segment) Add(m Metric, n int32) int32 {
	return atomic.AddInt32(s.i32(slots[m].offset), n)
}

// Value reads any metric as a float64.
func (s *Segment) Value(m Metric) float64 {
	sl := slots[m]
	if sl.float {
		return float64(math.Float32frombits(atomic.LoadUint32(s.u32(sl.offset))))
	}
	return float64(atomic.LoadInt32(s.i32(sl.offset)))
}

// CountMessages adds to the message counter.
func (s *Segment) CountMessages(n int) { s.Add(MessageCount, int32(n)) }

// CountInstructions adds to the instruction counter.
func (s *Segment) CountInstructions(n int) { s.Add(InstructionCount, int32(n)) }

// CountDropout records one late or failed audio block.
func (s *Segment) CountDropout() { s.Add(AudioDropoutCount, 1) }

// SetAudioConfig records the block size and sample rate of the renderer.
func (s *Segment) SetAudioConfig(blockSize, sampleRate int) {
	s.SetInt(AudioBufferSize, int32(blockSize))
	s.SetInt(AudioSampleRate, int32(sampleRate))
}

// ErrUserSlot is returned for user slots outside the segment.
var ErrUserSlot = errors.New("user slot out of range")

// UserSlots returns how many float32 user slots the segment holds.
func (s *Segment) UserSlots() int { return (len(s.data) - OffsetUserData) / 4 }

// SetUser stores a node-specific value in user slot i.
func (s *Segment) SetUser(i int, v float32) error {
	if i < 0 || i >= s.UserSlots() {
		return fmt.Errorf("set user slot %d: %w", i, ErrUserSlot)
	}
	atomic.StoreUint32(s.u32(OffsetUserData+4*i), math.Float32bits(v))
	return nil
}

// User reads user slot i.
func (s *Segment) User(i int) (float32, error) {
	if i < 0 || i >= s.UserSlots() {
		return 0, fmt.Errorf("read user slot %d: %w", i, ErrUserSlot)
	}
	return math.Float32frombits(atomic.LoadUint32(s.u32(OffsetUserData + 4*i))), nil
}
