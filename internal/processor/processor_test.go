package processor

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLocator is a testify mock of face.Locator.
type MockLocator struct {
	mock.Mock
}

func (m *MockLocator) Locate(ctx context.Context, frame *image.RGBA, position int) (*types.Face, error) {
	args := m.Called(frame, position)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Face), args.Error(1)
}

func (m *MockLocator) LocateAll(ctx context.Context, frame *image.RGBA) ([]types.Face, error) {
	args := m.Called(frame)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Face), args.Error(1)
}

// MockSwapModel paints the target box white so swaps are visible in the output.
type MockSwapModel struct {
	mock.Mock
}

func (m *MockSwapModel) Swap(ctx context.Context, source, target *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	args := m.Called(source, target)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	fillRect(frame, target.Rect().Intersect(frame.Bounds()), 255, 255, 255)
	return frame, nil
}

// tintStage adds delta to the red channel of the first pixel.
type tintStage struct {
	name  string
	delta uint8
	err   error
	seen  []*types.Face
}

func (s *tintStage) Name() string { return s.name }

func (s *tintStage) Apply(ctx context.Context, source, reference *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	s.seen = append(s.seen, source, reference)
	if s.err != nil {
		return nil, s.err
	}
	frame.Pix[0] += s.delta
	return frame, nil
}

func mkFace(x int, emb ...float64) types.Face {
	return types.Face{Box: [4]int{x, 0, x + 4, 4}, Embedding: emb}
}

func TestEmptyPipelineIsIdentity(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	out, err := Pipeline{}.Apply(context.Background(), nil, nil, frame)
	require.NoError(t, err)
	assert.Same(t, frame, out)
}

func TestPipelineOrderAndFaces(t *testing.T) {
	src, ref := &types.Face{Score: 1}, &types.Face{Score: 2}
	a := &tintStage{name: "a", delta: 1}
	b := &tintStage{name: "b", delta: 10}
	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))

	out, err := Pipeline{a, b}.Apply(context.Background(), src, ref, frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(11), out.Pix[0])
	assert.Equal(t, uint8(0), frame.Pix[0], "input frame must stay untouched")
	assert.Equal(t, []*types.Face{src, ref}, a.seen)
	assert.Equal(t, []*types.Face{src, ref}, b.seen)
	assert.Equal(t, []string{"a", "b"}, Pipeline{a, b}.Names())
}

func TestPipelineStageFailure(t *testing.T) {
	boom := errors.New("cannot operate")
	p := Pipeline{&tintStage{name: "ok", delta: 1}, &tintStage{name: "bad", err: boom}}

	_, err := p.Apply(context.Background(), nil, nil, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bad", perr.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Pipeline{&tintStage{name: "a"}}.Apply(ctx, nil, nil, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSwapperSwapsSimilarFaceOnly(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 20, 4))
	faces := []types.Face{mkFace(0, 0, 1), mkFace(10, 1, 0)}

	loc := new(MockLocator)
	loc.On("LocateAll", frame).Return(faces, nil)
	model := new(MockSwapModel)
	model.On("Swap", mock.Anything, &faces[1]).Return(nil)

	s := &Swapper{Faces: loc, Model: model}
	ref := mkFace(10, 2, 0) // same direction as faces[1]
	out, err := s.Apply(context.Background(), &types.Face{}, &ref, frame)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), out.Pix[out.PixOffset(0, 0)])
	assert.Equal(t, uint8(255), out.Pix[out.PixOffset(10, 0)])
	model.AssertNumberOfCalls(t, "Swap", 1)
}

func TestSwapperManyFaces(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 20, 4))
	loc := new(MockLocator)
	loc.On("LocateAll", frame).Return([]types.Face{mkFace(0, 1), mkFace(10, 1)}, nil)
	model := new(MockSwapModel)
	model.On("Swap", mock.Anything, mock.Anything).Return(nil)

	s := &Swapper{Faces: loc, Model: model, ManyFaces: true}
	_, err := s.Apply(context.Background(), &types.Face{}, nil, frame)
	require.NoError(t, err)
	model.AssertNumberOfCalls(t, "Swap", 2)
}

func TestSwapperWithoutReferencePassesThrough(t *testing.T) {
	loc := new(MockLocator)
	model := new(MockSwapModel)
	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))

	out, err := (&Swapper{Faces: loc, Model: model}).Apply(context.Background(), &types.Face{}, nil, frame)
	require.NoError(t, err)
	assert.Same(t, frame, out)
	loc.AssertNotCalled(t, "LocateAll", mock.Anything)
}

func TestSwapperWithoutSourceFails(t *testing.T) {
	_, err := (&Swapper{}).Apply(context.Background(), nil, &types.Face{}, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, ErrNoSourceFace)
}

func TestRedactorObscuresReferenceFace(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 20, 4))
	for i := range frame.Pix {
		frame.Pix[i] = 100
	}
	loc := new(MockLocator)
	loc.On("LocateAll", frame).Return([]types.Face{mkFace(0, 1, 0), mkFace(10, 0, 1)}, nil)

	ref := mkFace(0, 3, 0)
	r := &Redactor{Faces: loc, Style: StyleBlack}
	out, err := r.Apply(context.Background(), nil, &ref, frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.Pix[out.PixOffset(1, 1)])
	assert.Equal(t, uint8(100), out.Pix[out.PixOffset(11, 1)])
}

func TestObscureStyles(t *testing.T) {
	for _, style := range []Style{StylePixel, StyleBlack, StyleGauss, StyleSecure} {
		t.Run(string(style), func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, 16, 16))
			for i := range img.Pix {
				img.Pix[i] = uint8(i)
			}
			before := append([]uint8(nil), img.Pix...)
			Obscure(img, image.Rect(4, 4, 12, 12), style, 3)
			assert.NotEqual(t, before, img.Pix)
			// Outside the rect nothing changes.
			assert.Equal(t, before[:img.PixOffset(0, 4)], img.Pix[:img.PixOffset(0, 4)])
		})
	}

	// Rect outside the image must not panic.
	Obscure(image.NewRGBA(image.Rect(0, 0, 4, 4)), image.Rect(10, 10, 20, 20), StyleGauss, 5)
}

func TestBuild(t *testing.T) {
	deps := Deps{Faces: new(MockLocator), Swap: new(MockSwapModel)}

	p, err := Build([]string{"swapper", " Redactor ", ""}, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"swapper", "redactor"}, p.Names())

	_, err = Build([]string{"face_debugger"}, deps)
	assert.Error(t, err)

	_, err = Build([]string{"enhancer"}, deps)
	assert.Error(t, err, "enhancer without a model must fail at build time")

	_, err = ParseStyle("sparkle")
	assert.Error(t, err)
}
