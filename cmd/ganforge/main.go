package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ganforge/internal/config"
	"ganforge/internal/dataset"
	"ganforge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	imgSize := flag.Int("img_size", 0, "Spatial size of the training images")
	rootFolder := flag.String("root_folder", "", "Root folder of the image dataset")
	batchSize := flag.Int("batch_size", 0, "Batch size")
	nc := flag.Int("nc", 0, "Number of image channels")
	ngf := flag.Int("ngf", 0, "Base feature maps in the generator")
	ndf := flag.Int("ndf", 0, "Base feature maps in the discriminator")
	nz := flag.Int("nz", 0, "Latent vector dimension")
	lr := flag.Float64("lr", 0, "Adam learning rate")
	numEpochs := flag.Int("num_epochs", 0, "Number of training epochs")
	logDir := flag.String("log_dir", "", "Directory for run artifacts")
	comment := flag.String("comment", "", "Run comment appended to the model name")
	modelName := flag.String("model_name", "", "Model name for the run directory")
	seed := flag.Int64("seed", 0, "PRNG seed")
	numWorkers := flag.Int("num_workers", 0, "Number of data loader workers")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(config.Overrides{
		ImgSize:      *imgSize,
		RootFolder:   *rootFolder,
		BatchSize:    *batchSize,
		Channels:     *nc,
		GenFeatures:  *ngf,
		DiscFeatures: *ndf,
		LatentDim:    *nz,
		LearningRate: *lr,
		NumEpochs:    *numEpochs,
		LogDir:       *logDir,
		Comment:      *comment,
		ModelName:    *modelName,
		Seed:         *seed,
		NumWorkers:   *numWorkers,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	entries, classes, err := dataset.Discover(cfg.RootFolder)
	if err != nil {
		log.Fatalf("discover dataset under %s: %v", cfg.RootFolder, err)
	}
	log.Printf("root=%s classes=%d images=%d", cfg.RootFolder, len(classes), len(entries))

	loader, err := dataset.NewLoader(dataset.LoaderOptions{
		Entries:    entries,
		ImageSize:  cfg.ImgSize,
		Channels:   cfg.Channels,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
	})
	if err != nil {
		log.Fatalf("build loader: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Loader:       loader,
		ImgSize:      cfg.ImgSize,
		Channels:     cfg.Channels,
		LatentDim:    cfg.LatentDim,
		GenFeatures:  cfg.GenFeatures,
		DiscFeatures: cfg.DiscFeatures,
		BatchSize:    cfg.BatchSize,
		NumEpochs:    cfg.NumEpochs,
		LearningRate: cfg.LearningRate,
		LogDir:       cfg.LogDir,
		RunName:      cfg.RunName(),
		LogEvery:     cfg.LogEvery,
		VizEvery:     cfg.VizEvery,
		Seed:         cfg.Seed,
	}

	if err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
