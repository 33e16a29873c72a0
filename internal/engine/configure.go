package engine

import (
	"errors"
	"fmt"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/optim"
)

// ConfigureOptimizer builds the optimizer over the model's parameters.
func (c *Classifier[B]) ConfigureOptimizer(cfg config.Optimizer) error {
	params := c.model.Parameters()
	switch cfg.Kind {
	case "sgd":
		c.optimizer = optim.NewSGD(params, optim.SGDConfig{
			LR:          float32(cfg.LR),
			Momentum:    float32(cfg.Momentum),
			WeightDecay: float32(cfg.WeightDecay),
		})
	case "adam":
		c.optimizer = optim.NewAdam(params, optim.AdamConfig{
			LR:          float32(cfg.LR),
			Beta1:       float32(cfg.Beta1),
			Beta2:       float32(cfg.Beta2),
			Eps:         float32(cfg.Eps),
			WeightDecay: float32(cfg.WeightDecay),
		})
	default:
		return fmt.Errorf("engine: optimizer kind %q is not supported", cfg.Kind)
	}
	return nil
}

// ConfigureScheduler attaches a learning-rate scheduler to the already
// configured optimizer. The scheduler steps once per epoch.
func (c *Classifier[B]) ConfigureScheduler(cfg config.Scheduler) error {
	if c.optimizer == nil {
		return errors.New("engine: configure the optimizer before the scheduler")
	}
	var err error
	switch cfg.Kind {
	case "steplr":
		c.scheduler, err = optim.NewStepLR(c.optimizer, cfg.StepSize, float32(cfg.Gamma))
	case "exponential":
		c.scheduler, err = optim.NewExponentialLR(c.optimizer, float32(cfg.Gamma))
	case "cosine":
		c.scheduler, err = optim.NewCosineAnnealingLR(c.optimizer, cfg.TMax, float32(cfg.EtaMin))
	default:
		err = fmt.Errorf("engine: scheduler kind %q is not supported", cfg.Kind)
	}
	return err
}

// ConfigureDataLoaders loads the dataset, remaps labels when a label set
// is configured, splits off a validation part when a validation loader is
// requested, and builds one loader per configured block.
//
// The "train" and "validation" loaders see the two sides of the split;
// every other loader (typically "test") sees the whole dataset. In a
// multi-process group each loader samples a rank-strided shard.
func (c *Classifier[B]) ConfigureDataLoaders(dataCfg config.Data, loaderCfgs []config.Loader, seed int64) error {
	if dataCfg.Format != "idx" {
		return fmt.Errorf("engine: data format %q is not supported", dataCfg.Format)
	}
	dataset, err := data.LoadIDX(dataCfg.Images, dataCfg.Labels)
	if err != nil {
		return err
	}
	if len(c.labelSet) > 0 {
		if err := dataset.MapLabels(c.labelSet); err != nil {
			return err
		}
	}

	trainSet := data.Dataset(dataset)
	var valSet data.Dataset
	if hasLoader(loaderCfgs, "validation") {
		if dataCfg.ValSplit <= 0 {
			return errors.New("engine: a validation loader needs data.val_split > 0")
		}
		trainSet, valSet, err = data.Split(dataset, dataCfg.ValSplit, seed)
		if err != nil {
			return err
		}
	}

	for _, lc := range loaderCfgs {
		var ds data.Dataset
		switch lc.Name {
		case "train":
			ds = trainSet
		case "validation":
			ds = valSet
		default:
			ds = dataset
		}
		loader, err := data.NewLoader(ds, c.samplerFor(ds.Len(), seed, lc.Shuffle), lc.BatchSize)
		if err != nil {
			return fmt.Errorf("engine: loader %q: %w", lc.Name, err)
		}
		c.loaders[lc.Name] = loader
	}
	return nil
}

func (c *Classifier[B]) samplerFor(n int, seed int64, shuffle bool) data.Sampler {
	if c.group.WorldSize() > 1 {
		return data.NewDistributedSampler(n, c.group.WorldSize(), c.group.Rank(), seed, shuffle)
	}
	if shuffle {
		return data.NewRandomSampler(n, seed)
	}
	return data.NewSequentialSampler(n)
}

func hasLoader(cfgs []config.Loader, name string) bool {
	for _, lc := range cfgs {
		if lc.Name == name {
			return true
		}
	}
	return false
}
