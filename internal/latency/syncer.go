// Package latency measures round-trip time against the authority and turns
// it into frame counts for scheduling and history sizing.
package latency

import (
	"math"
	"time"

	"crateclash/internal/sim"
)

// Config tunes ping cadence and the latency estimate.
type Config struct {
	PingsUntilSynced    int
	PingsToStore        int
	PingsToIgnore       int
	PingInterval        time.Duration
	InitialPingInterval time.Duration
	// LowerBoundWeight in [0,1] pulls the estimate from the sample mean (0)
	// toward the minimum sample (1).
	LowerBoundWeight float64
	ExtraFrameBuffer int
}

func DefaultConfig() Config {
	return Config{
		PingsUntilSynced:    6,
		PingsToStore:        20,
		PingsToIgnore:       1,
		PingInterval:        500 * time.Millisecond,
		InitialPingInterval: 100 * time.Millisecond,
		LowerBoundWeight:    0.47,
		ExtraFrameBuffer:    2,
	}
}

// Ping is sent by the client.
type Ping struct {
	Sequence  uint64
	Timestamp int64
}

// Pong echoes a ping and carries the authority's frame when it answered.
type Pong struct {
	Sequence  uint64
	Timestamp int64
	Frame     sim.Frame
}

// Sender transmits a ping immediately, outside the per-tick message buffer.
type Sender func(Ping)

type sample struct {
	rtt    time.Duration
	offset float64
}

// Syncer collects RTT samples and reports calibration exactly once per
// Start. Stop discards everything so a reconnect recalibrates from scratch.
type Syncer struct {
	cfg    Config
	period time.Duration
	send   Sender

	running     bool
	nextSeq     uint64
	outstanding map[uint64]time.Time
	nextPing    time.Time
	received    int

	samples []sample
	head    int

	calibrated   bool
	latency      sim.Frame
	inputLatency sim.Frame
	offset       sim.Frame
	rtt          time.Duration
}

func New(cfg Config, period time.Duration, send Sender) *Syncer {
	if cfg.PingsToStore < 1 {
		cfg.PingsToStore = 1
	}
	if cfg.PingsUntilSynced < 1 {
		cfg.PingsUntilSynced = 1
	}
	if cfg.PingsUntilSynced > cfg.PingsToStore {
		cfg.PingsUntilSynced = cfg.PingsToStore
	}
	cfg.LowerBoundWeight = math.Max(0, math.Min(1, cfg.LowerBoundWeight))
	if period <= 0 {
		period = time.Second / 60
	}
	return &Syncer{cfg: cfg, period: period, send: send}
}

// Start begins pinging; the first ping goes out on the next Poll.
func (s *Syncer) Start(now time.Time) {
	s.Stop()
	s.running = true
	s.nextPing = now
}

// Stop halts pinging and forgets all samples and calibration.
func (s *Syncer) Stop() {
	s.running = false
	s.outstanding = make(map[uint64]time.Time)
	s.received = 0
	s.samples = s.samples[:0]
	s.head = 0
	s.calibrated = false
	s.latency = 0
	s.inputLatency = 0
	s.offset = 0
	s.rtt = 0
}

func (s *Syncer) Running() bool { return s.running }

// Poll sends a ping when one is due.
func (s *Syncer) Poll(now time.Time) {
	if !s.running || now.Before(s.nextPing) {
		return
	}
	seq := s.nextSeq
	s.nextSeq++
	s.outstanding[seq] = now
	interval := s.cfg.InitialPingInterval
	if s.calibrated {
		interval = s.cfg.PingInterval
	}
	s.nextPing = now.Add(interval)
	s.pruneOutstanding()
	if s.send != nil {
		s.send(Ping{Sequence: seq, Timestamp: now.UnixMilli()})
	}
}

func (s *Syncer) pruneOutstanding() {
	limit := uint64(2 * s.cfg.PingsToStore)
	if s.nextSeq <= limit {
		return
	}
	floor := s.nextSeq - limit
	for seq := range s.outstanding {
		if seq < floor {
			delete(s.outstanding, seq)
		}
	}
}

// HandlePong records a sample. localFrame is the client frame when the pong
// was received. Unknown or repeated sequences are ignored.
func (s *Syncer) HandlePong(pong Pong, receivedAt time.Time, localFrame sim.Frame) {
	if !s.running {
		return
	}
	sentAt, ok := s.outstanding[pong.Sequence]
	if !ok {
		return
	}
	delete(s.outstanding, pong.Sequence)
	s.received++
	if s.received <= s.cfg.PingsToIgnore {
		return
	}
	rtt := receivedAt.Sub(sentAt)
	if rtt < 0 {
		rtt = 0
	}
	oneWay := float64(rtt) / 2 / float64(s.period)
	smp := sample{rtt: rtt, offset: float64(pong.Frame) + oneWay - float64(localFrame)}
	if len(s.samples) < s.cfg.PingsToStore {
		s.samples = append(s.samples, smp)
		return
	}
	s.samples[s.head] = smp
	s.head = (s.head + 1) % len(s.samples)
}

// CalibrateNetwork sends any due ping and returns true exactly once, on the
// tick where enough samples have been gathered.
func (s *Syncer) CalibrateNetwork(now time.Time) bool {
	s.Poll(now)
	if !s.running || s.calibrated || len(s.samples) < s.cfg.PingsUntilSynced {
		return false
	}
	rtts := make([]time.Duration, len(s.samples))
	var offsetSum float64
	for i, smp := range s.samples {
		rtts[i] = smp.rtt
		offsetSum += smp.offset
	}
	s.rtt = WeightedRTT(rtts, s.cfg.LowerBoundWeight)
	s.latency = sim.Frame(math.Round(float64(s.rtt)/float64(s.period))) + sim.Frame(s.cfg.ExtraFrameBuffer)
	s.inputLatency = sim.Frame(math.Round(float64(s.rtt) / 2 / float64(s.period)))
	s.offset = sim.Frame(math.Round(offsetSum / float64(len(s.samples))))
	s.calibrated = true
	return true
}

func (s *Syncer) Calibrated() bool { return s.calibrated }

// Latency is the number of frames before a message reaches the other side
// plus the configured safety buffer.
func (s *Syncer) Latency() sim.Frame { return s.latency }

// InputLatency is the one-way lead a local input is scheduled ahead by.
func (s *Syncer) InputLatency() sim.Frame { return s.inputLatency }

// ClockOffset is how far the authority's frame is ahead of the local frame.
func (s *Syncer) ClockOffset() sim.Frame { return s.offset }

// RTT is the weighted round-trip estimate used at calibration.
func (s *Syncer) RTT() time.Duration { return s.rtt }

func (s *Syncer) Samples() int { return len(s.samples) }

// HistoryFrames sizes the runners' history window for the calibrated latency.
func (s *Syncer) HistoryFrames() int {
	return HistoryFrames(s.latency, s.inputLatency)
}

// HistoryFrames is max(2, ceil(1.5*(latency-inputLatency))).
func HistoryFrames(latency, inputLatency sim.Frame) int {
	frames := int(math.Ceil(1.5 * float64(latency-inputLatency)))
	if frames < 2 {
		return 2
	}
	return frames
}

// WeightedRTT blends the minimum and the mean of samples:
// weight*min + (1-weight)*mean.
func WeightedRTT(samples []time.Duration, weight float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	weight = math.Max(0, math.Min(1, weight))
	lowest := samples[0]
	var sum float64
	for _, rtt := range samples {
		if rtt < lowest {
			lowest = rtt
		}
		sum += float64(rtt)
	}
	mean := sum / float64(len(samples))
	return time.Duration(math.Round(weight*float64(lowest) + (1-weight)*mean))
}
