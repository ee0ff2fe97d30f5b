package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-lullaby/internal/audio"
)

func ones(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func TestMixer_oneShotEnds(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer(ones(100)), WithGain(0.5))

	var ended atomic.Int32
	n.OnEnded(func() { ended.Add(1) })

	if err := m.Start(n); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dst := make([]float32, 64)
	m.Render(dst)
	if dst[0] != 0.5 {
		t.Fatalf("dst[0] = %f, want 0.5", dst[0])
	}

	m.Render(dst)
	if dst[35] != 0.5 || dst[36] != 0 {
		t.Fatalf("tail: dst[35]=%f dst[36]=%f, want 0.5 and 0", dst[35], dst[36])
	}

	select {
	case <-n.Done():
	default:
		t.Fatal("Done not closed after buffer exhausted")
	}

	if got := ended.Load(); got != 1 {
		t.Fatalf("OnEnded ran %d times, want 1", got)
	}

	if m.Active() != 0 {
		t.Fatalf("Active = %d, want 0", m.Active())
	}
}

func TestMixer_loopWraps(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer([]float32{0.1, 0.2, 0.3}), Looping())
	if err := m.Start(n); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 7)
	m.Render(dst)

	want := []float32{0.1, 0.2, 0.3, 0.1, 0.2, 0.3, 0.1}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d] = %f, want %f", i, dst[i], want[i])
		}
	}

	if n.Position() != 7 {
		t.Fatalf("Position = %d, want 7", n.Position())
	}

	select {
	case <-n.Done():
		t.Fatal("looping node ended")
	default:
	}
}

func TestNode_setGainKeepsPosition(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer(ones(1000)), Looping(), WithGain(0.2))
	_ = m.Start(n)

	dst := make([]float32, 300)
	m.Render(dst)
	before := n.Position()

	n.SetGain(0.8)
	if n.Position() != before {
		t.Fatalf("position moved on SetGain: %d -> %d", before, n.Position())
	}

	m.Render(dst)
	if math.Abs(float64(dst[0])-0.8) > 1e-6 {
		t.Fatalf("new gain not applied: %f", dst[0])
	}

	if n.Position() != before+300 {
		t.Fatalf("position = %d, want %d", n.Position(), before+300)
	}
}

func TestMixer_sumsAndClamps(t *testing.T) {
	m := NewMixer(24000)
	_ = m.Start(NewNode(NewBuffer(ones(10)), WithGain(0.7)))
	_ = m.Start(NewNode(NewBuffer(ones(10)), WithGain(0.7)))
	_ = m.Start(NewNode(NewBuffer([]float32{-1, -1}), WithGain(0.1)))

	dst := make([]float32, 4)
	m.Render(dst)

	if dst[0] != 1 {
		t.Errorf("dst[0] = %f, want clamped 1", dst[0])
	}
	if math.Abs(float64(dst[3])-1) > 1e-6 {
		t.Errorf("dst[3] = %f, want 1", dst[3])
	}
}

func TestMixer_filtersApplied(t *testing.T) {
	lp, err := audio.NewBiquad(audio.LowPass, 24000, 100, 0)
	if err != nil {
		t.Fatal(err)
	}

	alt := make([]float32, 2400)
	for i := range alt {
		if i%2 == 0 {
			alt[i] = 1
		} else {
			alt[i] = -1
		}
	}

	m := NewMixer(24000)
	_ = m.Start(NewNode(NewBuffer(alt), WithFilters(lp)))

	dst := make([]float32, 2400)
	m.Render(dst)

	var peak float32
	for _, s := range dst[1200:] {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	if peak > 0.01 {
		t.Fatalf("low-pass left Nyquist energy: peak %f", peak)
	}
}

func TestNode_stopIdempotent(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer(ones(10)), Looping())
	_ = m.Start(n)

	var ended atomic.Int32
	n.OnEnded(func() { ended.Add(1) })

	n.Stop()
	n.Stop()

	if ended.Load() != 1 {
		t.Fatalf("OnEnded ran %d times, want 1", ended.Load())
	}

	dst := make([]float32, 4)
	m.Render(dst)
	if dst[0] != 0 || m.Active() != 0 {
		t.Fatalf("stopped node still rendering: %f, active %d", dst[0], m.Active())
	}

	late := false
	n.OnEnded(func() { late = true })
	if !late {
		t.Error("OnEnded after end should run immediately")
	}
}

func TestMixer_close(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer(ones(10)), Looping())
	_ = m.Start(n)

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-n.Done():
	default:
		t.Fatal("Close did not stop node")
	}

	if err := m.Start(NewNode(NewBuffer(ones(1)))); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}

	if _, err := m.Read(make([]byte, 8)); !errors.Is(err, io.EOF) {
		t.Fatalf("Read after Close = %v, want EOF", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMixer_startTwice(t *testing.T) {
	m := NewMixer(24000)
	n := NewNode(NewBuffer(ones(10)))
	_ = m.Start(n)

	if err := m.Start(n); !errors.Is(err, ErrNodeStarted) {
		t.Fatalf("err = %v, want ErrNodeStarted", err)
	}
}

func TestMixer_readFloat32LE(t *testing.T) {
	m := NewMixer(24000)
	_ = m.Start(NewNode(NewBuffer([]float32{0.25, -0.5})))

	p := make([]byte, 10)
	n, err := m.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}

	if got := math.Float32frombits(binary.LittleEndian.Uint32(p[4:])); got != -0.5 {
		t.Fatalf("second sample = %f, want -0.5", got)
	}
}

func TestMixer_runEmitsFrames(t *testing.T) {
	m := NewMixer(24000, WithFrameDuration(5*time.Millisecond))
	_ = m.Start(NewNode(NewBuffer(ones(10)), Looping(), WithGain(0.5)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []float32, 4)
	go m.Run(ctx, out)

	select {
	case frame := <-out:
		if len(frame) != m.FrameSamples() || len(frame) != 120 {
			t.Fatalf("frame len = %d, want 120", len(frame))
		}
		if frame[0] != 0.5 {
			t.Fatalf("frame[0] = %f, want 0.5", frame[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from Run")
	}
}
