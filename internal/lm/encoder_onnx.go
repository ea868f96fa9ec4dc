//go:build onnx
// +build onnx

package lm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	envMu   sync.Mutex
	envRefs int
)

var hiddenStateOutput = regexp.MustCompile(`^(?:all_)?hidden_states[._]?(\d+)$`)

// OnnxEncoder implements Encoder using ONNX Runtime (via yalue/onnxruntime_go).
// The graph must expose last_hidden_state (or a single 3D output) and may
// expose pooler_output and hidden_states.N outputs.
type OnnxEncoder struct {
	session       *ort.DynamicAdvancedSession
	hiddenSession *ort.DynamicAdvancedSession
	inputNames    []string
	lastName      string
	pooledName    string
	hiddenNames   []string
	vocabSize     int
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewOnnxEncoder opens an ONNX export of a transformer. Requires build tag 'onnx'.
func NewOnnxEncoder(weightsPath string, cfg *ModelConfig, logger *zap.Logger) (Encoder, error) {
	if err := acquireEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(weightsPath)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to inspect ONNX model %s: %w", weightsPath, err)
	}

	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]string{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if declared, ok := available[name]; ok {
			inputNames = append(inputNames, declared)
		}
	}
	if len(inputNames) == 0 {
		for _, ii := range inputsInfo {
			inputNames = append(inputNames, ii.Name)
		}
		sort.Strings(inputNames)
	}

	e := &OnnxEncoder{inputNames: inputNames, logger: logger, vocabSize: cfg.nativeVocabSize()}
	type indexed struct {
		name  string
		index int
	}
	var hidden []indexed
	for _, oi := range outputsInfo {
		name := strings.ToLower(oi.Name)
		switch {
		case name == "last_hidden_state":
			e.lastName = oi.Name
		case name == "pooler_output" || name == "pooled_output":
			e.pooledName = oi.Name
		default:
			if m := hiddenStateOutput.FindStringSubmatch(name); m != nil {
				idx, _ := strconv.Atoi(m[1])
				hidden = append(hidden, indexed{name: oi.Name, index: idx})
				continue
			}
			if e.lastName == "" && len(oi.Dimensions) == 3 {
				e.lastName = oi.Name
			}
		}
	}
	if e.lastName == "" {
		releaseEnvironment()
		return nil, fmt.Errorf("%w: ONNX model %s has no last_hidden_state output", ErrConfigError, weightsPath)
	}
	sort.Slice(hidden, func(i, j int) bool { return hidden[i].index < hidden[j].index })
	for _, h := range hidden {
		e.hiddenNames = append(e.hiddenNames, h.name)
	}

	outputs := []string{e.lastName}
	if e.pooledName != "" {
		outputs = append(outputs, e.pooledName)
	}
	e.session, err = ort.NewDynamicAdvancedSession(weightsPath, inputNames, outputs, nil)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("ONNX Runtime session creation failed: %w", err)
	}
	if len(e.hiddenNames) > 0 {
		e.hiddenSession, err = ort.NewDynamicAdvancedSession(weightsPath, inputNames, append(outputs, e.hiddenNames...), nil)
		if err != nil {
			_ = e.session.Destroy()
			releaseEnvironment()
			return nil, fmt.Errorf("ONNX Runtime session creation failed: %w", err)
		}
	}

	logger.Info("ONNX Runtime encoder ready",
		zap.String("model", weightsPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", e.lastName),
		zap.Bool("pooled", e.pooledName != ""),
		zap.Int("hidden_states", len(e.hiddenNames)))
	return e, nil
}

func acquireEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return err
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// VocabSize returns the vocabulary size declared next to the export.
func (e *OnnxEncoder) VocabSize() int {
	return e.vocabSize
}

// HasPooledOutput reports whether the export carries pooler_output.
func (e *OnnxEncoder) HasPooledOutput() bool {
	return e.pooledName != ""
}

// Close releases the sessions and, with the last encoder, the environment.
func (e *OnnxEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	_ = e.session.Destroy()
	e.session = nil
	if e.hiddenSession != nil {
		_ = e.hiddenSession.Destroy()
		e.hiddenSession = nil
	}
	releaseEnvironment()
	return nil
}

// Encode runs the session over the batch.
func (e *OnnxEncoder) Encode(ctx context.Context, batch *Batch, opts EncodeOptions) (*EncoderOutput, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: encoder closed", ErrModelNotLoaded)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.HiddenStates && e.hiddenSession == nil {
		return nil, fmt.Errorf("%w: ONNX export has no hidden_states outputs", ErrInferenceFailed)
	}

	n, seqLen := batch.Size(), batch.SeqLen()
	ids := make([]int64, 0, n*seqLen)
	mask := make([]int64, 0, n*seqLen)
	types := make([]int64, 0, n*seqLen)
	for i := 0; i < n; i++ {
		for j := 0; j < seqLen; j++ {
			ids = append(ids, int64(batch.InputIDs[i][j]))
			mask = append(mask, int64(batch.PaddingMask[i][j]))
			if opts.UseSegmentIDs && batch.SegmentIDs != nil {
				types = append(types, int64(batch.SegmentIDs[i][j]))
			} else {
				types = append(types, 0)
			}
		}
	}

	shape := ort.NewShape(int64(n), int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, types)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(e.inputNames))
	for _, rawName := range e.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "mask") || strings.Contains(name, "attention"):
			inputs = append(inputs, maskTensor)
		case strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
			inputs = append(inputs, typeTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	session := e.session
	numOut := 1
	if e.pooledName != "" {
		numOut++
	}
	if opts.HiddenStates {
		session = e.hiddenSession
		numOut += len(e.hiddenNames)
	}
	outputs := make([]ort.Value, numOut)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("%w: onnx run failed: %v", ErrInferenceFailed, err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	out := &EncoderOutput{}
	idx := 0
	if out.LastHidden, err = toSequence(outputs[idx]); err != nil {
		return nil, err
	}
	idx++
	if e.pooledName != "" {
		if out.Pooled, err = toVectors(outputs[idx]); err != nil {
			return nil, err
		}
		idx++
	}
	if opts.HiddenStates {
		for ; idx < len(outputs); idx++ {
			layer, err := toSequence(outputs[idx])
			if err != nil {
				return nil, err
			}
			out.HiddenStates = append(out.HiddenStates, layer)
		}
	}
	return out, nil
}

func toSequence(v ort.Value) ([][][]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type (want float32 tensor)", ErrInferenceFailed)
	}
	shape := t.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: unexpected output shape %v (want [batch, seq, hidden])", ErrInferenceFailed, shape)
	}
	data := t.GetData()
	batch, seq, dims := int(shape[0]), int(shape[1]), int(shape[2])
	if len(data) != batch*seq*dims {
		return nil, fmt.Errorf("%w: unexpected flat data length %d for shape %v", ErrInferenceFailed, len(data), shape)
	}
	res := make([][][]float32, batch)
	for b := 0; b < batch; b++ {
		res[b] = make([][]float32, seq)
		for s := 0; s < seq; s++ {
			start := (b*seq + s) * dims
			res[b][s] = append([]float32(nil), data[start:start+dims]...)
		}
	}
	return res, nil
}

func toVectors(v ort.Value) ([][]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type (want float32 tensor)", ErrInferenceFailed)
	}
	shape := t.GetShape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: unexpected pooled shape %v (want [batch, hidden])", ErrInferenceFailed, shape)
	}
	data := t.GetData()
	batch, dims := int(shape[0]), int(shape[1])
	if len(data) != batch*dims {
		return nil, fmt.Errorf("%w: unexpected flat data length %d for shape %v", ErrInferenceFailed, len(data), shape)
	}
	res := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		res[b] = append([]float32(nil), data[b*dims:(b+1)*dims]...)
	}
	return res, nil
}
