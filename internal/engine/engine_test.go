package engine

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/autodiff"
	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/models"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/npy"
	"github.com/kiln-ml/kiln/internal/tensor"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

func testModelConfig() config.Model {
	return config.Model{
		Name:       "testnet",
		Classes:    2,
		InChannels: 1,
		ImageSize:  8,
		Channels:   []int{2},
		KernelSize: 3,
		Hidden:     8,
	}
}

// writeIDXDataset writes a two-class dataset of constant-valued 8x8
// images: class 0 samples are dark, class 1 samples are bright, labels
// alternate.
func writeIDXDataset(t *testing.T, dir string, n, rows, cols int) (string, string) {
	t.Helper()
	pixels := make([]byte, 0, n*rows*cols)
	labels := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		label := byte(i % 2)
		value := byte(40)
		if label == 1 {
			value = 215
		}
		for p := 0; p < rows*cols; p++ {
			pixels = append(pixels, value)
		}
		labels = append(labels, label)
	}

	imgPath := filepath.Join(dir, "images-idx3-ubyte")
	img := binary.BigEndian.AppendUint32(nil, 0x00000803)
	img = binary.BigEndian.AppendUint32(img, uint32(n))
	img = binary.BigEndian.AppendUint32(img, uint32(rows))
	img = binary.BigEndian.AppendUint32(img, uint32(cols))
	img = append(img, pixels...)
	require.NoError(t, os.WriteFile(imgPath, img, 0o644))

	lblPath := filepath.Join(dir, "labels-idx1-ubyte")
	lbl := binary.BigEndian.AppendUint32(nil, 0x00000801)
	lbl = binary.BigEndian.AppendUint32(lbl, uint32(n))
	lbl = append(lbl, labels...)
	require.NoError(t, os.WriteFile(lblPath, lbl, 0o644))

	return imgPath, lblPath
}

func newTestClassifier(t *testing.T, loaders []config.Loader, valSplit float64) (*Classifier[testBackend], string) {
	t.Helper()
	dir := t.TempDir()
	imgPath, lblPath := writeIDXDataset(t, dir, 12, 8, 8)

	backend := autodiff.New(cpu.New())
	nn.Seed(11)
	model, err := models.NewConvNet(testModelConfig(), backend)
	require.NoError(t, err)

	dump := filepath.Join(dir, "dump")
	c, err := New[testBackend](model, backend, Options{DumpDir: dump, Seed: 5})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.ConfigureOptimizer(config.Optimizer{Kind: "sgd", LR: 0.05}))
	require.NoError(t, c.ConfigureDataLoaders(
		config.Data{Format: "idx", Images: imgPath, Labels: lblPath, ValSplit: valSplit},
		loaders, 5))
	return c, dump
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestTrainEndToEnd(t *testing.T) {
	loaders := []config.Loader{
		{Name: "train", BatchSize: 3, Shuffle: true},
		{Name: "validation", BatchSize: 3},
	}
	c, dump := newTestClassifier(t, loaders, 0.25)
	require.NoError(t, c.ConfigureScheduler(config.Scheduler{Kind: "steplr", StepSize: 1, Gamma: 0.5}))

	err := c.Train(context.Background(), TrainConfig{
		Epochs:         2,
		ReportInterval: 1,
		ValInterval:    2,
		NumValBatches:  1,
		Checkpointing:  true,
		SaveInterval:   2,
	})
	require.NoError(t, err)

	// 9 training samples in batches of 3 over 2 epochs.
	assert.Equal(t, int64(6), c.Iteration())
	assert.InDelta(t, 0.05*0.5*0.5, float64(c.optimizer.GetLR()), 1e-7)

	assert.FileExists(t, filepath.Join(dump, "testnetBEST.kiln"))
	assert.FileExists(t, filepath.Join(dump, "testnet.kiln"))
	assert.FileExists(t, filepath.Join(dump, "testnet_epoch_2.kiln"))
	assert.NoFileExists(t, filepath.Join(dump, "testnet_epoch_1.kiln"))

	trainRows := readCSV(t, filepath.Join(dump, "log_train_0.csv"))
	require.Len(t, trainRows, 7)
	assert.Equal(t, []string{"iteration", "epoch", "loss", "accuracy"}, trainRows[0])
	assert.Equal(t, "1", trainRows[1][0])
	assert.Equal(t, "0", trainRows[1][1])
	assert.Equal(t, "6", trainRows[6][0])
	assert.Equal(t, "1", trainRows[6][1])

	// Validation fires before iterations 0, 2 and 4.
	valRows := readCSV(t, filepath.Join(dump, "log_val.csv"))
	require.Len(t, valRows, 4)
	assert.Equal(t, []string{"iteration", "epoch", "loss", "accuracy", "saved_best"}, valRows[0])
	assert.Equal(t, "0", valRows[1][0])
	assert.Equal(t, "1", valRows[1][4])
	assert.Equal(t, "2", valRows[2][0])
	assert.Equal(t, "4", valRows[3][0])
}

func TestTrainLossDecreasesOnFixedBatch(t *testing.T) {
	c, _ := newTestClassifier(t, []config.Loader{{Name: "train", BatchSize: 4}}, 0)
	loader, err := c.loader("train")
	require.NoError(t, err)
	batch, err := loader.Next()
	require.NoError(t, err)

	c.model.SetTraining(true)
	res := c.Forward(batch, true)
	first := res.Loss
	require.NoError(t, c.Backward())

	require.Len(t, res.Softmax.AsFloat32(), 8)
	sm := res.Softmax.AsFloat32()
	assert.InDelta(t, 1.0, float64(sm[0]+sm[1]), 1e-5)
	require.Len(t, res.PredictedLabels.AsInt32(), 4)

	last := first
	for i := 0; i < 29; i++ {
		r := c.Forward(batch, true)
		last = r.Loss
		require.NoError(t, c.Backward())
	}
	assert.Less(t, last, first, "loss should drop on a fixed separable batch")
}

func TestValidateTracksBestAndRewinds(t *testing.T) {
	loaders := []config.Loader{
		{Name: "train", BatchSize: 3, Shuffle: true},
		{Name: "validation", BatchSize: 3},
	}
	c, dump := newTestClassifier(t, loaders, 0.25)
	val, err := c.loader("validation")
	require.NoError(t, err)

	// 3 validation samples in one batch; asking for 4 forces a rewind.
	require.NoError(t, c.Validate(context.Background(), val, 4, false))

	assert.Less(t, c.BestValidationLoss(), bestLossCeiling)
	assert.FileExists(t, filepath.Join(dump, "testnetBEST.kiln"))
	assert.NoFileExists(t, filepath.Join(dump, "testnet.kiln"))

	valRows := readCSV(t, filepath.Join(dump, "log_val.csv"))
	require.Len(t, valRows, 2)
	assert.Equal(t, "1", valRows[1][4])
}

func stateBytes(t *testing.T, state map[string]*tensor.RawTensor) map[string]string {
	t.Helper()
	out := make(map[string]string, len(state))
	for name, raw := range state {
		out[name] = string(raw.Data())
	}
	return out
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	c, _ := newTestClassifier(t, []config.Loader{{Name: "train", BatchSize: 4}}, 0)
	loader, err := c.loader("train")
	require.NoError(t, err)
	batch, err := loader.Next()
	require.NoError(t, err)

	c.model.SetTraining(true)
	c.Forward(batch, true)
	require.NoError(t, c.Backward())
	c.iteration = 7
	c.epoch = 3

	path, err := c.SaveState("")
	require.NoError(t, err)
	assert.Equal(t, "testnet.kiln", filepath.Base(path))

	backend2 := autodiff.New(cpu.New())
	nn.Seed(99)
	model2, err := models.NewConvNet(testModelConfig(), backend2)
	require.NoError(t, err)
	c2, err := New[testBackend](model2, backend2, Options{DumpDir: t.TempDir(), Seed: 5})
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.ConfigureOptimizer(config.Optimizer{Kind: "sgd", LR: 0.05}))

	require.NotEqual(t, stateBytes(t, c.model.StateDict()), stateBytes(t, c2.model.StateDict()))

	require.NoError(t, c2.RestoreState(path))
	assert.Equal(t, int64(7), c2.Iteration())
	assert.Equal(t, stateBytes(t, c.model.StateDict()), stateBytes(t, c2.model.StateDict()))
	assert.Equal(t, stateBytes(t, c.optimizer.StateDict()), stateBytes(t, c2.optimizer.StateDict()))

	assert.Error(t, c2.RestoreBestState(), "no BEST checkpoint in a fresh dump directory")
}

func TestEvaluateWritesArrays(t *testing.T) {
	loaders := []config.Loader{
		{Name: "train", BatchSize: 4},
		{Name: "test", BatchSize: 4},
	}
	c, dump := newTestClassifier(t, loaders, 0)

	err := c.Evaluate(context.Background(), EvalConfig{Composite: "epsilon_plus_flat", NumClasses: 2})
	require.NoError(t, err)

	indices, err := npy.Read(filepath.Join(dump, "indices.npy"))
	require.NoError(t, err)
	assert.True(t, indices.Shape().Equal(tensor.Shape{12}))
	assert.Equal(t, tensor.Int64, indices.DType())
	got := indices.AsInt64()
	for i := int64(0); i < 12; i++ {
		assert.Equal(t, i, got[i], "sequential sampler keeps dataset order")
	}

	labels, err := npy.Read(filepath.Join(dump, "labels.npy"))
	require.NoError(t, err)
	require.True(t, labels.Shape().Equal(tensor.Shape{12}))
	for i, l := range labels.AsInt64() {
		assert.Equal(t, int64(i%2), l)
	}

	predictions, err := npy.Read(filepath.Join(dump, "predictions.npy"))
	require.NoError(t, err)
	assert.True(t, predictions.Shape().Equal(tensor.Shape{12}))
	assert.Equal(t, tensor.Int64, predictions.DType())

	softmax, err := npy.Read(filepath.Join(dump, "softmax.npy"))
	require.NoError(t, err)
	require.True(t, softmax.Shape().Equal(tensor.Shape{12, 2}))
	sm := softmax.AsFloat32()
	for i := 0; i < 12; i++ {
		assert.InDelta(t, 1.0, float64(sm[2*i]+sm[2*i+1]), 1e-4, "softmax row %d", i)
	}

	lrpOutput, err := npy.Read(filepath.Join(dump, "lrp_output.npy"))
	require.NoError(t, err)
	assert.True(t, lrpOutput.Shape().Equal(tensor.Shape{12, 2, 2}))

	relevance, err := npy.Read(filepath.Join(dump, "relevance.npy"))
	require.NoError(t, err)
	// 3 test batches, 2 class passes, one 1x8x8 map each.
	assert.True(t, relevance.Shape().Equal(tensor.Shape{3, 2, 1, 8, 8}))
}

func TestConfigureAndLoaderErrors(t *testing.T) {
	backend := autodiff.New(cpu.New())
	nn.Seed(11)
	model, err := models.NewConvNet(testModelConfig(), backend)
	require.NoError(t, err)

	_, err = New[testBackend](model, backend, Options{})
	assert.ErrorContains(t, err, "dump directory")

	c, err := New[testBackend](model, backend, Options{DumpDir: t.TempDir()})
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorContains(t, c.ConfigureScheduler(config.Scheduler{Kind: "steplr", StepSize: 1, Gamma: 0.5}),
		"before the scheduler")
	assert.ErrorContains(t, c.ConfigureOptimizer(config.Optimizer{Kind: "lbfgs"}), "not supported")
	require.NoError(t, c.ConfigureOptimizer(config.Optimizer{Kind: "adam", LR: 0.001}))
	assert.ErrorContains(t, c.ConfigureScheduler(config.Scheduler{Kind: "warmup"}), "not supported")

	assert.ErrorContains(t, c.Backward(), "recorded forward pass")

	dir := t.TempDir()
	imgPath, lblPath := writeIDXDataset(t, dir, 4, 8, 8)
	assert.ErrorContains(t, c.ConfigureDataLoaders(
		config.Data{Format: "hdf5", Images: imgPath, Labels: lblPath},
		[]config.Loader{{Name: "train", BatchSize: 2}}, 1), "not supported")
	assert.ErrorContains(t, c.ConfigureDataLoaders(
		config.Data{Format: "idx", Images: imgPath, Labels: lblPath},
		[]config.Loader{{Name: "validation", BatchSize: 2}}, 1), "val_split")

	err = c.Train(context.Background(), TrainConfig{
		Epochs: 1, ReportInterval: 1, ValInterval: 1, NumValBatches: 1,
	})
	assert.ErrorContains(t, err, `loader "train" not configured`)

	err = c.Evaluate(context.Background(), EvalConfig{Composite: "epsilon_plus_flat", NumClasses: 2})
	assert.ErrorContains(t, err, `loader "test" not configured`)

	err = c.Evaluate(context.Background(), EvalConfig{Composite: "epsilon_plus_flat"})
	assert.ErrorContains(t, err, "class count")
}

func TestLabelSetRemapsBeforeSplit(t *testing.T) {
	dir := t.TempDir()

	// Labels 3 and 5 instead of 0 and 1.
	pixels := make([]byte, 0, 8*8*8)
	rawLabels := make([]byte, 0, 8)
	for i := 0; i < 8; i++ {
		value := byte(40)
		label := byte(3)
		if i%2 == 1 {
			value = 215
			label = 5
		}
		for p := 0; p < 64; p++ {
			pixels = append(pixels, value)
		}
		rawLabels = append(rawLabels, label)
	}
	imgPath := filepath.Join(dir, "images-idx3-ubyte")
	img := binary.BigEndian.AppendUint32(nil, 0x00000803)
	img = binary.BigEndian.AppendUint32(img, 8)
	img = binary.BigEndian.AppendUint32(img, 8)
	img = binary.BigEndian.AppendUint32(img, 8)
	img = append(img, pixels...)
	require.NoError(t, os.WriteFile(imgPath, img, 0o644))
	lblPath := filepath.Join(dir, "labels-idx1-ubyte")
	lbl := binary.BigEndian.AppendUint32(nil, 0x00000801)
	lbl = binary.BigEndian.AppendUint32(lbl, 8)
	lbl = append(lbl, rawLabels...)
	require.NoError(t, os.WriteFile(lblPath, lbl, 0o644))

	backend := autodiff.New(cpu.New())
	nn.Seed(11)
	model, err := models.NewConvNet(testModelConfig(), backend)
	require.NoError(t, err)
	c, err := New[testBackend](model, backend, Options{
		DumpDir:  filepath.Join(dir, "dump"),
		LabelSet: []int32{3, 5},
		Seed:     5,
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.ConfigureDataLoaders(
		config.Data{Format: "idx", Images: imgPath, Labels: lblPath},
		[]config.Loader{{Name: "test", BatchSize: 8}}, 5))

	loader, err := c.loader("test")
	require.NoError(t, err)
	batch, err := loader.Next()
	require.NoError(t, err)
	for i, l := range batch.Labels.AsInt32() {
		assert.Equal(t, int32(i%2), l)
	}
}
