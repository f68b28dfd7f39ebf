package motion_test

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

func grayFrame(seq uint64, fill uint8, block image.Rectangle, blockFill uint8) types.Frame {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	for y := block.Min.Y; y < block.Max.Y; y++ {
		for x := block.Min.X; x < block.Max.X; x++ {
			img.Pix[y*img.Stride+x] = blockFill
		}
	}
	return types.Frame{Seq: seq, CaptureTime: time.Unix(int64(seq), 0), Image: img}
}

func TestGate_FirstFrameSeedsOnly(t *testing.T) {
	g := motion.New(motion.Config{})
	if r := g.Detect(grayFrame(1, 100, image.Rect(0, 0, 160, 120), 255)); r.Triggered {
		t.Error("first frame must not trigger")
	}
}

func TestGate_StaticSceneDoesNotTrigger(t *testing.T) {
	g := motion.New(motion.Config{})
	for i := uint64(1); i <= 20; i++ {
		if r := g.Detect(grayFrame(i, 100, image.Rectangle{}, 0)); r.Triggered {
			t.Fatalf("frame %d: static scene triggered with score %v", i, r.Score)
		}
	}
}

func TestGate_ForegroundBlockTriggersWithScore(t *testing.T) {
	g := motion.New(motion.Config{Threshold: 0.1})
	g.Detect(grayFrame(1, 100, image.Rectangle{}, 0))

	// 80x72 block = 30% of 160x120.
	r := g.Detect(grayFrame(2, 100, image.Rect(0, 0, 80, 72), 250))
	if !r.Triggered {
		t.Fatal("expected motion")
	}
	if math.Abs(r.Score-0.3) > 1e-9 {
		t.Errorf("expected score 0.3, got %v", r.Score)
	}
	if st := g.Stats(); st.Frames != 2 || st.Triggered != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestGate_BelowThresholdDoesNotTrigger(t *testing.T) {
	g := motion.New(motion.Config{Threshold: 0.5})
	g.Detect(grayFrame(1, 100, image.Rectangle{}, 0))

	r := g.Detect(grayFrame(2, 100, image.Rect(0, 0, 80, 72), 250))
	if r.Triggered {
		t.Errorf("score %v should not reach threshold 0.5", r.Score)
	}
	if r.Score <= 0 || r.Score > 1 {
		t.Errorf("score out of range: %v", r.Score)
	}
}

func TestGate_AdaptsToPersistentChange(t *testing.T) {
	g := motion.New(motion.Config{LearningRate: 0.5})
	g.Detect(grayFrame(1, 100, image.Rectangle{}, 0))

	// A new, constant lighting level is absorbed into the background.
	var last motion.Result
	for i := uint64(2); i < 20; i++ {
		last = g.Detect(grayFrame(i, 160, image.Rectangle{}, 0))
	}
	if last.Triggered {
		t.Errorf("expected background to adapt, still triggered with score %v", last.Score)
	}
}

func TestGate_ResetReseeds(t *testing.T) {
	g := motion.New(motion.Config{})
	g.Detect(grayFrame(1, 100, image.Rectangle{}, 0))
	g.Reset()

	if r := g.Detect(grayFrame(2, 250, image.Rectangle{}, 0)); r.Triggered {
		t.Error("frame after Reset must only seed the model")
	}
	if r := g.Detect(grayFrame(3, 250, image.Rectangle{}, 0)); r.Triggered {
		t.Error("scene equal to the reseeded background must not trigger")
	}
}
