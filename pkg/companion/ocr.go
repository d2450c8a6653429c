package companion

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// recognitionCharset is the CTC label set of the recognition model. Index 0
// is the blank symbol.
const recognitionCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// recognitionHeight is the fixed input height of the recognition model; line
// crops are scaled to it, preserving aspect ratio.
const recognitionHeight = 32

// ONNXRecognizer finds text in screenshots with a CTC text-recognition model.
// Line regions are segmented from the image, each is recognized
// independently, and the best line containing the requested pattern wins.
type ONNXRecognizer struct {
	modelPath string
	session   *ort.DynamicAdvancedSession
	logger    types.Logger
	loaded    bool
	mu        sync.Mutex
}

func NewONNXRecognizer(modelPath string, logger types.Logger) *ONNXRecognizer {
	return &ONNXRecognizer{modelPath: modelPath, logger: logger}
}

// Load initializes the ONNX Runtime session. Safe to call more than once.
func (r *ONNXRecognizer) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}

	if _, err := os.Stat(r.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("recognition model not found at %s", r.modelPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()
	if err := options.SetIntraOpNumThreads(2); err != nil {
		return fmt.Errorf("failed to set threads: %w", err)
	}

	// Input width varies with line length, so the session is dynamic.
	session, err := ort.NewDynamicAdvancedSession(
		r.modelPath,
		[]string{"input"},
		[]string{"logits"},
		options,
	)
	if err != nil {
		return fmt.Errorf("failed to create recognition session: %w", err)
	}

	r.session = session
	r.loaded = true
	return nil
}

func (r *ONNXRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil
	}
	r.loaded = false
	return r.session.Destroy()
}

// FindText implements TextRecognizer. The returned coordinates are in the
// same pixel space as the screenshot, offset by the region if one was given.
func (r *ONNXRecognizer) FindText(pngBytes []byte, pattern string, region *Region) (Match, error) {
	if err := r.Load(); err != nil {
		return Match{}, err
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return Match{}, fmt.Errorf("decoding screenshot: %w", err)
	}
	gray := toGray(img)

	offsetX, offsetY := 0, 0
	if region != nil {
		cropped, err := cropGray(gray, *region)
		if err != nil {
			return Match{}, err
		}
		gray = cropped
		offsetX, offsetY = region.Left, region.Top
	}

	want := normalizeText(pattern)
	if want == "" {
		return Match{}, fmt.Errorf("empty text pattern")
	}

	best := Match{}
	for _, line := range segmentLines(gray) {
		text, confidence, err := r.recognizeLine(gray, line)
		if err != nil {
			return Match{}, err
		}
		if !strings.Contains(normalizeText(text), want) {
			continue
		}
		if !best.Found || confidence > best.Confidence {
			best = Match{
				Found:      true,
				Confidence: confidence,
				CenterX:    float64(offsetX) + float64(line.left+line.right)/2,
				CenterY:    float64(offsetY) + float64(line.top+line.bottom)/2,
			}
		}
	}

	if best.Found {
		r.logger.Debug().
			Str("pattern", pattern).
			Float64("confidence", best.Confidence).
			Msg("Recognized text on screen")
	}
	return best, nil
}

// recognizeLine runs the CTC model over one line crop and greedy-decodes the
// output. Confidence is the mean softmax probability of the emitted symbols.
func (r *ONNXRecognizer) recognizeLine(img *image.Gray, line lineBox) (string, float64, error) {
	input, width := lineTensorData(img, line)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 1, recognitionHeight, int64(width)), input)
	if err != nil {
		return "", 0, fmt.Errorf("creating input tensor: %w", err)
	}
	defer func() { _ = inputTensor.Destroy() }()

	outputs := []ort.Value{nil}
	r.mu.Lock()
	err = r.session.Run([]ort.Value{inputTensor}, outputs)
	r.mu.Unlock()
	if err != nil {
		return "", 0, fmt.Errorf("running recognition session: %w", err)
	}
	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return "", 0, fmt.Errorf("unexpected recognition output type %T", outputs[0])
	}
	defer func() { _ = logits.Destroy() }()

	shape := logits.GetShape()
	if len(shape) != 3 {
		return "", 0, fmt.Errorf("unexpected recognition output rank %d", len(shape))
	}
	steps, classes := int(shape[1]), int(shape[2])
	text, confidence := ctcGreedyDecode(logits.GetData(), steps, classes)
	return text, confidence, nil
}

// ctcGreedyDecode collapses repeated argmax symbols and drops blanks
// (class 0).
func ctcGreedyDecode(data []float32, steps, classes int) (string, float64) {
	var sb strings.Builder
	var probSum float64
	var emitted int
	prev := -1
	for t := 0; t < steps; t++ {
		row := data[t*classes : (t+1)*classes]
		bestIdx, bestProb := softmaxArgmax(row)
		if bestIdx != 0 && bestIdx != prev {
			if bestIdx <= len(recognitionCharset) {
				sb.WriteByte(recognitionCharset[bestIdx-1])
				probSum += bestProb
				emitted++
			}
		}
		prev = bestIdx
	}
	if emitted == 0 {
		return "", 0
	}
	return sb.String(), probSum / float64(emitted)
}

func softmaxArgmax(row []float32) (int, float64) {
	maxVal := row[0]
	maxIdx := 0
	for i, v := range row {
		if v > maxVal {
			maxVal, maxIdx = v, i
		}
	}
	var denom float64
	for _, v := range row {
		denom += math.Exp(float64(v - maxVal))
	}
	return maxIdx, 1 / denom
}

type lineBox struct {
	left, top, right, bottom int
}

// inkThreshold separates text pixels from background in the binarized image.
const inkThreshold = 128

// segmentLines finds horizontal bands of ink via row projection, then trims
// each band to its ink columns.
func segmentLines(img *image.Gray) []lineBox {
	b := img.Bounds()
	rowInk := make([]int, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.GrayAt(x, y).Y < inkThreshold {
				rowInk[y-b.Min.Y]++
			}
		}
	}

	var lines []lineBox
	inBand := false
	start := 0
	for y := 0; y <= len(rowInk); y++ {
		hasInk := y < len(rowInk) && rowInk[y] > 0
		switch {
		case hasInk && !inBand:
			inBand = true
			start = y
		case !hasInk && inBand:
			inBand = false
			if box, ok := trimLine(img, b.Min.Y+start, b.Min.Y+y); ok {
				lines = append(lines, box)
			}
		}
	}
	return lines
}

func trimLine(img *image.Gray, top, bottom int) (lineBox, bool) {
	b := img.Bounds()
	left, right := -1, -1
	for x := b.Min.X; x < b.Max.X; x++ {
		for y := top; y < bottom; y++ {
			if img.GrayAt(x, y).Y < inkThreshold {
				if left == -1 {
					left = x
				}
				right = x + 1
				break
			}
		}
	}
	if left == -1 || bottom-top < 4 {
		return lineBox{}, false
	}
	return lineBox{left: left, top: top, right: right, bottom: bottom}, true
}

// lineTensorData scales a line crop to the model's input height and returns
// normalized NCHW float data plus the scaled width.
func lineTensorData(img *image.Gray, line lineBox) ([]float32, int) {
	srcW := line.right - line.left
	srcH := line.bottom - line.top
	width := srcW * recognitionHeight / srcH
	if width < recognitionHeight {
		width = recognitionHeight
	}

	data := make([]float32, recognitionHeight*width)
	for y := 0; y < recognitionHeight; y++ {
		sy := line.top + y*srcH/recognitionHeight
		for x := 0; x < width; x++ {
			sx := line.left + x*srcW/width
			v := float32(img.GrayAt(sx, sy).Y)
			data[y*width+x] = (v/255 - 0.5) / 0.5
		}
	}
	return data, width
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, img.At(x, y))
		}
	}
	return g
}

func cropGray(img *image.Gray, region Region) (*image.Gray, error) {
	rect := image.Rect(region.Left, region.Top, region.Left+region.Width, region.Top+region.Height)
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region %+v is outside the screenshot", region)
	}
	return img.SubImage(rect).(*image.Gray), nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
