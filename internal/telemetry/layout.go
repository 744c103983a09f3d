// Package telemetry implements the shared metrics segment read by every
// execution context without copying.
//
// The segment has a fixed layout. A header holds a timestamp and a sequence
// number, a metrics block holds one 4-byte slot per metric, and a user
// region from OffsetUserData holds float32 slots for node-specific values.
// Every field is accessed atomically in host byte order, which is
// little-endian on all supported targets. Counters are only ever added to;
// the other slots have a single writer.
package telemetry

// Byte offsets of the fixed fields.
const (
	OffsetTimestamp         = 0
	OffsetSequence          = 8
	OffsetMainThreadLoad    = 64
	OffsetWorkerThreadLoad  = 68
	OffsetMemoryUsageMB     = 72
	OffsetAudioBufferSize   = 76
	OffsetAudioSampleRate   = 80
	OffsetAudioDropoutCount = 84
	OffsetActiveNodeCount   = 88
	OffsetMessageCount      = 92
	OffsetInstructionCount  = 96
	OffsetUserData          = 1024
)

// DefaultSize leaves room for 1792 user slots.
const DefaultSize = 8192

// Metric names one slot of the metrics block.
type Metric int

const (
	MainThreadLoad Metric = iota
	WorkerThreadLoad
	MemoryUsageMB
	AudioBufferSize
	AudioSampleRate
	AudioDropoutCount
	ActiveNodeCount
	MessageCount
	InstructionCount

	metricCount
)

type slot struct {
	name   string
	offset int
	float  bool
}

var slots = [metricCount]slot{
	MainThreadLoad:    {"main_thread_load", OffsetMainThreadLoad, true},
	WorkerThreadLoad:  {"worker_thread_load", OffsetWorkerThreadLoad, true},
	MemoryUsageMB:     {"memory_usage_mb", OffsetMemoryUsageMB, true},
	AudioBufferSize:   {"audio_buffer_size", OffsetAudioBufferSize, false},
	AudioSampleRate:   {"audio_sample_rate", OffsetAudioSampleRate, false},
	AudioDropoutCount: {"audio_dropout_count", OffsetAudioDropoutCount, false},
	ActiveNodeCount:   {"active_node_count", OffsetActiveNodeCount, false},
	MessageCount:      {"message_count", OffsetMessageCount, false},
	InstructionCount:  {"instruction_count", OffsetInstructionCount, false},
}

func (m Metric) String() string {
	if m < 0 || m >= metricCount {
		return "unknown"
	}
	return slots[m].name
}

// Metrics returns every metric in slot order.
func Metrics() []Metric {
	out := make([]Metric, metricCount)
	for i := range out {
		out[i] = Metric(i)
	}
	return out
}
