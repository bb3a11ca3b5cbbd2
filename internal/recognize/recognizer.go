// Package recognize matches detected faces in video frames against the face
// template store and optionally annotates frames for display.
package recognize

import (
	"context"
	"image"
	stddraw "image/draw"
	"log/slog"
	"sort"

	xdraw "golang.org/x/image/draw"

	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/vision"
)

// Result is one recognized (or unknown) face in a frame.
type Result struct {
	Name       string     `json:"name"`
	Box        vision.Box `json:"box"`
	Confidence float64    `json:"confidence"`
}

// Recognizer runs detection and matching on single frames.
type Recognizer struct {
	engine vision.Engine
	db     *facedb.Database
	cfg    config.RecognitionConfig
	log    *slog.Logger
}

// New creates a Recognizer over the given engine and template store.
func New(engine vision.Engine, db *facedb.Database, cfg config.RecognitionConfig, log *slog.Logger) *Recognizer {
	if log == nil {
		log = slog.Default()
	}
	return &Recognizer{engine: engine, db: db, cfg: cfg, log: log}
}

// Unknown reports whether a result carries the unknown-face label.
func (r *Recognizer) Unknown(res Result) bool {
	return res.Name == r.cfg.UnknownLabel
}

// Process detects and recognizes faces in the frame. When draw is true it
// also returns an annotated copy of the frame; the input is never mutated.
//
// Identities are matched in sorted name order and each identity's embeddings
// in load order, so ties resolve deterministically (first strictly better
// candidate wins). Detection or embedding failures yield an empty result for
// this frame, never an error that would kill the processing loop.
func (r *Recognizer) Process(ctx context.Context, frame image.Image, draw bool) ([]Result, *image.RGBA) {
	var annotated *image.RGBA
	if draw {
		annotated = copyImage(frame)
	}

	small := r.downscale(frame)

	boxes, err := r.engine.Detect(ctx, small)
	if err != nil {
		r.log.Error("face detection failed", "error", err)
		return nil, annotated
	}
	if len(boxes) == 0 {
		return nil, annotated
	}

	embeddings, err := r.engine.Embed(ctx, small, boxes)
	if err != nil {
		r.log.Error("face embedding failed", "error", err)
		return nil, annotated
	}

	known := r.db.Snapshot()
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)

	frameHeight := frame.Bounds().Dy()
	minConfidence := 1.0 - r.cfg.Tolerance

	var results []Result
	for i, emb := range embeddings {
		box := boxes[i]
		if r.cfg.DownscaleFactor > 1 {
			box = box.Scale(r.cfg.DownscaleFactor)
		}

		// Filter out spurious small detections.
		if frameHeight > 0 && float64(box.Height())/float64(frameHeight) < r.cfg.MinFaceSize {
			r.log.Debug("skipping small face",
				"fraction", float64(box.Height())/float64(frameHeight))
			continue
		}

		bestName := ""
		bestConfidence := 0.0
		for _, name := range names {
			for _, ref := range known[name] {
				d := vision.Distance(ref, emb)
				confidence := 1.0 - min(1.0, d)
				if confidence > bestConfidence && confidence >= minConfidence {
					bestName = name
					bestConfidence = confidence
				}
			}
		}

		if bestName == "" {
			if r.cfg.LogUnknown {
				results = append(results, Result{Name: r.cfg.UnknownLabel, Box: box})
			}
		} else {
			results = append(results, Result{Name: bestName, Box: box, Confidence: bestConfidence})
		}

		if annotated != nil {
			label := bestName
			if label == "" {
				label = r.cfg.UnknownLabel
			}
			annotate(annotated, box, label, bestConfidence, label != r.cfg.UnknownLabel)
		}
	}
	return results, annotated
}

// downscale shrinks the frame by the configured integer factor before
// detection; bounding boxes are scaled back up afterwards.
func (r *Recognizer) downscale(frame image.Image) image.Image {
	f := r.cfg.DownscaleFactor
	if f <= 1 {
		return frame
	}
	bounds := frame.Bounds()
	small := image.NewRGBA(image.Rect(0, 0, bounds.Dx()/f, bounds.Dy()/f))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), frame, bounds, xdraw.Src, nil)
	return small
}

func copyImage(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	stddraw.Draw(dst, dst.Bounds(), src, bounds.Min, stddraw.Src)
	return dst
}
