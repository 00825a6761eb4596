package preview

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/reference"
	"github.com/andresmejia3/mirage/internal/safety"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourcePath = "/faces/me.png"
	videoPath  = "/clips/target.mp4"
	otherPath  = "/clips/other.mp4"
	imagePath  = "/stills/target.jpg"
)

// fakeMedia encodes the frame number into the first two pixels' red channel so
// the fake locator can tell frames apart.
type fakeMedia struct {
	mu      sync.Mutex
	refs    map[string]media.Reference
	reads   map[int]int
	blocked map[int]chan struct{}
	entered chan int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		refs: map[string]media.Reference{
			sourcePath: {Path: sourcePath, Kind: media.Image, TotalFrames: 1},
			videoPath:  {Path: videoPath, Kind: media.Video, TotalFrames: 300},
			otherPath:  {Path: otherPath, Kind: media.Video, TotalFrames: 120},
			imagePath:  {Path: imagePath, Kind: media.Image, TotalFrames: 1},
		},
		reads:   make(map[int]int),
		blocked: make(map[int]chan struct{}),
	}
}

func (m *fakeMedia) Describe(_ context.Context, path string) (media.Reference, error) {
	ref, ok := m.refs[path]
	if !ok {
		return media.Reference{}, &media.ValidationError{Path: path, Reason: "no such file"}
	}
	return ref, nil
}

func (m *fakeMedia) Frame(ctx context.Context, path string, n int) (*image.RGBA, error) {
	ref, ok := m.refs[path]
	if !ok {
		return nil, &media.DecodeError{Path: path, Frame: n, Err: errors.New("missing")}
	}
	if ref.Kind == media.Image {
		n = 0
	}
	if n < 0 || n >= ref.TotalFrames {
		return nil, &media.DecodeError{Path: path, Frame: n, Err: errors.New("end of stream")}
	}

	m.mu.Lock()
	if path != sourcePath {
		m.reads[n]++
	}
	wait := m.blocked[n]
	m.mu.Unlock()
	if wait != nil && path != sourcePath {
		m.entered <- n
		<-wait
	}

	return testFrame(path, n), nil
}

func (m *fakeMedia) Thumbnail(_ context.Context, ref media.Reference, size media.Size) (*image.NRGBA, error) {
	if _, ok := m.refs[ref.Path]; !ok {
		return nil, errors.New("missing")
	}
	return image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height)), nil
}

func (m *fakeMedia) block(n int) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.blocked[n] = ch
	m.entered = make(chan int, 1)
	return ch
}

func testFrame(path string, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 255
	}
	img.Pix[0] = uint8(n >> 8)
	img.Pix[4] = uint8(n)
	if path == sourcePath {
		img.Pix[1] = 1
	}
	return img
}

func frameNumber(img *image.RGBA) int {
	return int(img.Pix[0])<<8 | int(img.Pix[4])
}

// fakeLocator reports facesPerFrame faces in every target frame, each with a
// Score of frame*10+position, and a single face with Score -1 in the source.
type fakeLocator struct {
	mu            sync.Mutex
	facesPerFrame int
	calls         []reference.Anchor
}

func (l *fakeLocator) Locate(_ context.Context, frame *image.RGBA, position int) (*types.Face, error) {
	if frame.Pix[1] == 1 {
		if position != 0 {
			return nil, nil
		}
		return &types.Face{Score: -1}, nil
	}
	n := frameNumber(frame)
	l.mu.Lock()
	l.calls = append(l.calls, reference.Anchor{FrameNumber: n, Position: position})
	count := l.facesPerFrame
	l.mu.Unlock()
	if position < 0 || position >= count {
		return nil, nil
	}
	return &types.Face{Box: [4]int{0, 0, 2, 2}, Score: float64(n*10 + position)}, nil
}

func (l *fakeLocator) LocateAll(context.Context, *image.RGBA) ([]types.Face, error) {
	return nil, nil
}

func (l *fakeLocator) referenceLookups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type fakeGate struct {
	mu      sync.Mutex
	flagged map[int]bool
	resets  int
	err     error
}

func (g *fakeGate) Check(_ context.Context, frame *image.RGBA) (safety.Verdict, float64, error) {
	if g.err != nil {
		return safety.Clean, 0, g.err
	}
	if g.flagged[frameNumber(frame)] {
		return safety.Flagged, 0.99, nil
	}
	return safety.Clean, 0.01, nil
}

func (g *fakeGate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets++
	return nil
}

// markStage records the faces it is given and paints pixel (7,3) white when it
// has both a source and a reference face.
type markStage struct {
	mu   sync.Mutex
	refs []*types.Face
	srcs []*types.Face
	err  error
}

func (s *markStage) Name() string { return "mark" }

func (s *markStage) Apply(_ context.Context, source, ref *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	s.mu.Lock()
	s.srcs = append(s.srcs, source)
	s.refs = append(s.refs, ref)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if source != nil && ref != nil {
		frame.SetRGBA(7, 3, color.RGBA{255, 255, 255, 255})
	}
	return frame, nil
}

func (s *markStage) lastReference() *types.Face {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refs) == 0 {
		return nil
	}
	return s.refs[len(s.refs)-1]
}

type recordingDisplay struct {
	frames     []int
	ranges     [][2]int
	hidRange   int
	statuses   []string
	visibility []Visibility
}

func (d *recordingDisplay) ShowPreview(n int, _ image.Image) { d.frames = append(d.frames, n) }
func (d *recordingDisplay) ShowRange(min, max int)           { d.ranges = append(d.ranges, [2]int{min, max}) }
func (d *recordingDisplay) HideRange()                       { d.hidRange++ }
func (d *recordingDisplay) ShowStatus(text string)           { d.statuses = append(d.statuses, text) }
func (d *recordingDisplay) ShowVisibility(v Visibility)      { d.visibility = append(d.visibility, v) }

type harness struct {
	ctrl    *Controller
	media   *fakeMedia
	faces   *fakeLocator
	gate    *fakeGate
	stage   *markStage
	display *recordingDisplay
	killed  []error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		media:   newFakeMedia(),
		faces:   &fakeLocator{facesPerFrame: 2},
		gate:    &fakeGate{flagged: map[int]bool{}},
		stage:   &markStage{},
		display: &recordingDisplay{},
	}
	if opts.PreviewSize == (media.Size{}) {
		opts.PreviewSize = media.Size{Width: 8, Height: 4}
	}
	if opts.Terminate == nil {
		opts.Terminate = func(err error) { h.killed = append(h.killed, err) }
	}
	h.ctrl = NewController(h.media, h.faces, h.gate, processor.Pipeline{h.stage}, h.display, opts)
	return h
}

func (h *harness) selectBoth(t *testing.T, target string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ctrl.SelectSource(ctx, sourcePath)
	require.NoError(t, err)
	_, err = h.ctrl.SelectTarget(ctx, target)
	require.NoError(t, err)
}

func TestToggleWithoutSelectionsIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, Hidden, h.ctrl.State().Visibility)

	_, err := h.ctrl.SelectSource(ctx, sourcePath)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, Hidden, h.ctrl.State().Visibility)
	assert.Empty(t, h.display.frames)
	assert.Empty(t, h.display.visibility)
}

func TestVideoScrubbingScenario(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	require.NoError(t, h.ctrl.Toggle(ctx))
	s := h.ctrl.State()
	assert.Equal(t, Visible, s.Visibility)
	assert.Equal(t, [][2]int{{0, 300}}, h.display.ranges)
	assert.Equal(t, []int{0}, h.display.frames)
	first := h.ctrl.ReferenceFace()
	require.NotNil(t, first)
	assert.Equal(t, 0.0, first.Score, "reference computed at (frame 0, position 0)")
	assert.Equal(t, -1.0, h.stage.srcs[0].Score)

	require.NoError(t, h.ctrl.StepFrame(ctx, 10))
	assert.Equal(t, 10, h.ctrl.State().CurrentFrame)
	assert.Equal(t, []int{0, 10}, h.display.frames)
	assert.Same(t, first, h.ctrl.ReferenceFace(), "scrubbing must not touch the reference")
	assert.Same(t, first, h.stage.lastReference())

	require.NoError(t, h.ctrl.StepReferenceFace(ctx, 1))
	s = h.ctrl.State()
	assert.Equal(t, reference.Anchor{FrameNumber: 10, Position: 1}, s.Anchor)
	assert.Equal(t, []int{0, 10, 10}, h.display.frames)
	second := h.ctrl.ReferenceFace()
	require.NotNil(t, second)
	assert.Equal(t, 101.0, second.Score)
	assert.Same(t, second, h.stage.lastReference())

	// The new anchor is reused on later frames.
	require.NoError(t, h.ctrl.StepFrame(ctx, 5))
	assert.Same(t, second, h.stage.lastReference())
}

func TestReferenceCachedAfterFirstCompute(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)
	assert.Nil(t, h.ctrl.ReferenceFace())

	require.NoError(t, h.ctrl.Toggle(ctx))
	ref := h.ctrl.ReferenceFace()
	require.NotNil(t, ref)
	lookups := h.faces.referenceLookups()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.ctrl.StepFrame(ctx, 3))
	}
	assert.Same(t, ref, h.ctrl.ReferenceFace())
	assert.Equal(t, lookups, h.faces.referenceLookups(), "cached reference must not be located again")
	assert.Equal(t, []int{0, 3, 6, 9, 12, 15}, h.display.frames)
}

func TestStepFrameClamps(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	tests := []struct {
		delta int
		want  int
	}{
		{-5, 0},
		{120, 120},
		{1000, 300},
		{1, 300},
		{-299, 1},
		{-2, 0},
	}
	for _, tt := range tests {
		_ = h.ctrl.StepFrame(ctx, tt.delta)
		assert.Equal(t, tt.want, h.ctrl.State().CurrentFrame, "delta %d", tt.delta)
	}

	require.NoError(t, h.ctrl.SetFrameNumber(ctx, 42))
	assert.Equal(t, 42, h.ctrl.State().CurrentFrame)
	_ = h.ctrl.SetFrameNumber(ctx, -7)
	assert.Equal(t, 0, h.ctrl.State().CurrentFrame)
}

func TestToggleTwiceKeepsReference(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	require.NoError(t, h.ctrl.Toggle(ctx))
	ref := h.ctrl.ReferenceFace()
	require.NotNil(t, ref)

	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, Hidden, h.ctrl.State().Visibility)
	assert.Equal(t, 1, h.gate.resets)
	assert.Same(t, ref, h.ctrl.ReferenceFace())
	assert.Equal(t, []Visibility{Visible, Hidden}, h.display.visibility)
}

func TestImageTargetHasNoRange(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, imagePath)

	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Empty(t, h.display.ranges)
	assert.Equal(t, 1, h.display.hidRange)
	assert.Equal(t, []int{0}, h.display.frames)
}

func TestReselectTargetResetsReference(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	require.NoError(t, h.ctrl.Toggle(ctx))
	require.NoError(t, h.ctrl.StepFrame(ctx, 20))
	require.NoError(t, h.ctrl.StepReferenceFace(ctx, 1))
	require.NotNil(t, h.ctrl.ReferenceFace())

	// A failing reselection still drops the reference.
	_, err := h.ctrl.SelectTarget(ctx, "/nope.mov")
	var verr *media.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, h.ctrl.ReferenceFace())
	assert.Equal(t, reference.Anchor{}, h.ctrl.State().Anchor)
	assert.Equal(t, "", h.ctrl.State().Target)
	assert.Contains(t, h.display.statuses, StatusInvalidTarget)

	_, err = h.ctrl.SelectTarget(ctx, videoPath)
	require.NoError(t, err)
	s := h.ctrl.State()
	assert.Equal(t, reference.Anchor{}, s.Anchor)
	assert.Equal(t, 0, s.CurrentFrame)
	// The preview stayed open, so it was re-rendered from the new anchor.
	assert.Equal(t, Visible, s.Visibility)
	require.NotNil(t, h.ctrl.ReferenceFace())
	assert.Equal(t, 0.0, h.ctrl.ReferenceFace().Score)
}

func TestReferenceNotFoundIsNotCached(t *testing.T) {
	h := newHarness(t, Options{})
	h.faces.facesPerFrame = 0
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	img, err := h.ctrl.ComputePreview(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, h.ctrl.ReferenceFace())
	assert.Nil(t, h.stage.lastReference())
	// No reference face: the frame is rendered unmodified.
	out := img.(*image.NRGBA)
	assert.Equal(t, uint8(10), out.Pix[out.PixOffset(7, 3)])

	before := h.faces.referenceLookups()
	_, err = h.ctrl.ComputePreview(ctx, 5)
	require.NoError(t, err)
	assert.Greater(t, h.faces.referenceLookups(), before, "NotFound must be retried on the next request")
}

func TestDecodeErrorKeepsPreviousImage(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	prev, err := h.ctrl.ComputePreview(ctx, 10)
	require.NoError(t, err)

	// 300 is a valid slider position but past the last decodable frame.
	_, err = h.ctrl.ComputePreview(ctx, 300)
	var derr *media.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Same(t, prev, h.ctrl.Rendered())
	assert.Equal(t, 10, h.ctrl.State().RenderedFrame)
	assert.NotEmpty(t, h.display.statuses)
}

func TestProcessingErrorFallsBackToOriginalFrame(t *testing.T) {
	h := newHarness(t, Options{})
	h.stage.err = errors.New("no face to operate on")
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	img, err := h.ctrl.ComputePreview(ctx, 3)
	require.NoError(t, err)
	out := img.(*image.NRGBA)
	assert.Equal(t, uint8(3), out.Pix[4], "original frame 3 is displayed")
	assert.Equal(t, 3, h.ctrl.State().RenderedFrame)
}

func TestPolicyViolation(t *testing.T) {
	t.Run("terminate", func(t *testing.T) {
		h := newHarness(t, Options{OnViolation: Terminate})
		h.gate.flagged[7] = true
		h.selectBoth(t, videoPath)

		_, err := h.ctrl.ComputePreview(context.Background(), 7)
		var v *safety.PolicyViolation
		require.ErrorAs(t, err, &v)
		assert.Equal(t, 7, v.Frame)
		require.Len(t, h.killed, 1)
		assert.Empty(t, h.display.frames)
	})

	t.Run("block", func(t *testing.T) {
		h := newHarness(t, Options{OnViolation: Block})
		h.gate.flagged[7] = true
		ctx := context.Background()
		h.selectBoth(t, videoPath)

		_, err := h.ctrl.ComputePreview(ctx, 7)
		var v *safety.PolicyViolation
		require.ErrorAs(t, err, &v)
		assert.Empty(t, h.killed)
		assert.NotEmpty(t, h.display.statuses)

		// The session stays usable.
		_, err = h.ctrl.ComputePreview(ctx, 8)
		require.NoError(t, err)
		assert.Equal(t, []int{8}, h.display.frames)
	})

	t.Run("classifier error", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.gate.err = errors.New("worker died")
		h.selectBoth(t, videoPath)

		_, err := h.ctrl.ComputePreview(context.Background(), 1)
		assert.Error(t, err)
		assert.Empty(t, h.killed)
		assert.Nil(t, h.ctrl.Rendered())
	})
}

func TestLastRequestWins(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)
	release := h.media.block(5)

	type result struct {
		img image.Image
		err error
	}
	slow := make(chan result, 1)
	go func() {
		img, err := h.ctrl.ComputePreview(ctx, 5)
		slow <- result{img, err}
	}()
	<-h.media.entered

	_, err := h.ctrl.ComputePreview(ctx, 7)
	require.NoError(t, err)

	close(release)
	r := <-slow
	assert.ErrorIs(t, r.err, ErrSuperseded)
	assert.Nil(t, r.img)
	assert.Equal(t, 7, h.ctrl.State().RenderedFrame)
	assert.Equal(t, []int{7}, h.display.frames)
}

func TestComputeWithoutSelections(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.ctrl.ComputePreview(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NoError(t, h.ctrl.StepFrame(context.Background(), 1))
	assert.NoError(t, h.ctrl.StepReferenceFace(context.Background(), 1))
	assert.Equal(t, reference.Anchor{}, h.ctrl.State().Anchor)
}

func TestSelectSource(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	thumb, err := h.ctrl.SelectSource(ctx, sourcePath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 200), thumb.Bounds())
	assert.Equal(t, sourcePath, h.ctrl.State().Source)

	// A video is not a valid source.
	_, err = h.ctrl.SelectSource(ctx, videoPath)
	require.Error(t, err)
	assert.Equal(t, "", h.ctrl.State().Source)
	assert.Equal(t, []string{StatusInvalidImage}, h.display.statuses)
}

func TestSelectOutput(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled dialog", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.selectBoth(t, videoPath)
		called := false
		require.NoError(t, h.ctrl.SelectOutput(ctx, "", func(context.Context, Selection) error {
			called = true
			return nil
		}))
		assert.False(t, called)
	})

	t.Run("default extensions", func(t *testing.T) {
		for target, want := range map[string]string{videoPath: "/out/result.mp4", imagePath: "/out/result.png"} {
			h := newHarness(t, Options{Settings: Settings{KeepFPS: true, Processors: []string{"swapper"}}})
			h.selectBoth(t, target)
			var got Selection
			require.NoError(t, h.ctrl.SelectOutput(ctx, "/out/result", func(_ context.Context, sel Selection) error {
				got = sel
				return nil
			}))
			assert.Equal(t, want, got.Output)
			assert.Equal(t, sourcePath, got.Source)
			assert.Equal(t, target, got.Target)
			assert.True(t, got.Settings.KeepFPS)
			assert.Equal(t, want, h.ctrl.State().Output)
		}
	})

	t.Run("explicit extension kept", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.selectBoth(t, videoPath)
		var got Selection
		require.NoError(t, h.ctrl.SelectOutput(ctx, "/out/clip.mkv", func(_ context.Context, sel Selection) error {
			got = sel
			return nil
		}))
		assert.Equal(t, "/out/clip.mkv", got.Output)
	})

	t.Run("start error is returned", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.selectBoth(t, videoPath)
		boom := errors.New("ffmpeg missing")
		err := h.ctrl.SelectOutput(ctx, "/out/x.mp4", func(context.Context, Selection) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestRecentDirectories(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	assert.Equal(t, "/faces", h.ctrl.RecentDirectory(ctx, SlotSource))
	assert.Equal(t, "/clips", h.ctrl.RecentDirectory(ctx, SlotTarget))
	assert.Equal(t, "", h.ctrl.RecentDirectory(ctx, SlotOutput))
}

func TestParseViolationPolicy(t *testing.T) {
	p, err := ParseViolationPolicy("block")
	require.NoError(t, err)
	assert.Equal(t, Block, p)

	p, err = ParseViolationPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Terminate, p)

	_, err = ParseViolationPolicy("ignore")
	assert.Error(t, err)
}

func TestReselectTargetDiscardsInFlightRender(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)
	release := h.media.block(5)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.ComputePreview(ctx, 5)
		done <- err
	}()
	<-h.media.entered

	_, err := h.ctrl.SelectTarget(ctx, otherPath)
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Nil(t, h.ctrl.ReferenceFace(), "a face from the previous target must not be cached")
	s := h.ctrl.State()
	assert.Equal(t, otherPath, s.Target)
	assert.Equal(t, -1, s.RenderedFrame)
	assert.Empty(t, h.display.frames)
}

func TestHideDiscardsInFlightRender(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)
	require.NoError(t, h.ctrl.Toggle(ctx))
	release := h.media.block(5)

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.SetFrameNumber(ctx, 5)
	}()
	<-h.media.entered

	require.NoError(t, h.ctrl.Toggle(ctx))
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, []int{0}, h.display.frames)
	assert.Equal(t, 0, h.ctrl.State().RenderedFrame)
}

func TestNavigationWhileHiddenOnlyUpdatesState(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.selectBoth(t, videoPath)

	require.NoError(t, h.ctrl.StepFrame(ctx, 12))
	require.NoError(t, h.ctrl.StepReferenceFace(ctx, 1))
	require.NoError(t, h.ctrl.SetFrameNumber(ctx, 40))

	s := h.ctrl.State()
	assert.Equal(t, 40, s.CurrentFrame)
	assert.Equal(t, reference.Anchor{FrameNumber: 12, Position: 1}, s.Anchor)
	assert.Empty(t, h.display.frames)
	assert.Zero(t, h.faces.referenceLookups())

	// Showing the preview renders the anchor frame with the moved reference.
	require.NoError(t, h.ctrl.Toggle(ctx))
	assert.Equal(t, []int{12}, h.display.frames)
	require.NotNil(t, h.ctrl.ReferenceFace())
	assert.Equal(t, 121.0, h.ctrl.ReferenceFace().Score)
}
