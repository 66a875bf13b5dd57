package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	ImgSize      int     `yaml:"img_size"`
	RootFolder   string  `yaml:"root_folder"`
	BatchSize    int     `yaml:"batch_size"`
	Channels     int     `yaml:"nc"`
	GenFeatures  int     `yaml:"ngf"`
	DiscFeatures int     `yaml:"ndf"`
	LatentDim    int     `yaml:"nz"`
	LearningRate float64 `yaml:"lr"`
	NumEpochs    int     `yaml:"num_epochs"`
	LogDir       string  `yaml:"log_dir"`
	Comment      string  `yaml:"comment"`
	ModelName    string  `yaml:"model_name"`
	Seed         int64   `yaml:"seed"`
	NumWorkers   int     `yaml:"num_workers"`
	LogEvery     int     `yaml:"log_every"`
	VizEvery     int     `yaml:"viz_every"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ImgSize      int
	RootFolder   string
	BatchSize    int
	Channels     int
	GenFeatures  int
	DiscFeatures int
	LatentDim    int
	LearningRate float64
	NumEpochs    int
	LogDir       string
	Comment      string
	ModelName    string
	Seed         int64
	NumWorkers   int
	LogEvery     int
	VizEvery     int
}

// Default returns the baseline configuration before file or flag
// overrides are applied.
func Default() *Config {
	return &Config{
		ImgSize:      64,
		BatchSize:    128,
		Channels:     3,
		GenFeatures:  64,
		DiscFeatures: 64,
		LatentDim:    100,
		LearningRate: 0.0002,
		NumEpochs:    100,
		LogDir:       "log",
		Comment:      time.Now().Format("02_15-04-05"),
		ModelName:    "anime_small",
		Seed:         42,
		NumWorkers:   4,
		LogEvery:     50,
		VizEvery:     1000,
	}
}

// Load reads a Config from YAML on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ImgSize > 0 {
		c.ImgSize = o.ImgSize
	}
	if o.RootFolder != "" {
		c.RootFolder = o.RootFolder
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Channels > 0 {
		c.Channels = o.Channels
	}
	if o.GenFeatures > 0 {
		c.GenFeatures = o.GenFeatures
	}
	if o.DiscFeatures > 0 {
		c.DiscFeatures = o.DiscFeatures
	}
	if o.LatentDim > 0 {
		c.LatentDim = o.LatentDim
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumEpochs > 0 {
		c.NumEpochs = o.NumEpochs
	}
	if o.LogDir != "" {
		c.LogDir = o.LogDir
	}
	if o.Comment != "" {
		c.Comment = o.Comment
	}
	if o.ModelName != "" {
		c.ModelName = o.ModelName
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.VizEvery > 0 {
		c.VizEvery = o.VizEvery
	}
}

// RunName identifies the run in log output paths.
func (c *Config) RunName() string {
	return c.ModelName + "-" + c.Comment
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.RootFolder == "" {
		return errors.New("root_folder must be set")
	}
	if c.ImgSize < 16 || bits.OnesCount(uint(c.ImgSize)) != 1 {
		return fmt.Errorf("img_size must be a power of two >= 16 (got %d)", c.ImgSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("nc must be 1 or 3 (got %d)", c.Channels)
	}
	if c.GenFeatures <= 0 {
		return fmt.Errorf("ngf must be > 0 (got %d)", c.GenFeatures)
	}
	if c.DiscFeatures <= 0 {
		return fmt.Errorf("ndf must be > 0 (got %d)", c.DiscFeatures)
	}
	if c.LatentDim <= 0 {
		return fmt.Errorf("nz must be > 0 (got %d)", c.LatentDim)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", c.LearningRate)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("num_epochs must be > 0 (got %d)", c.NumEpochs)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.VizEvery <= 0 {
		c.VizEvery = 1000
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: missing ':'", lineNo)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")
		var err error
		switch key {
		case "img_size":
			cfg.ImgSize, err = strconv.Atoi(value)
		case "root_folder":
			cfg.RootFolder = value
		case "batch_size":
			cfg.BatchSize, err = strconv.Atoi(value)
		case "nc":
			cfg.Channels, err = strconv.Atoi(value)
		case "ngf":
			cfg.GenFeatures, err = strconv.Atoi(value)
		case "ndf":
			cfg.DiscFeatures, err = strconv.Atoi(value)
		case "nz":
			cfg.LatentDim, err = strconv.Atoi(value)
		case "lr":
			cfg.LearningRate, err = strconv.ParseFloat(value, 64)
		case "num_epochs":
			cfg.NumEpochs, err = strconv.Atoi(value)
		case "log_dir":
			cfg.LogDir = value
		case "comment":
			cfg.Comment = value
		case "model_name":
			cfg.ModelName = value
		case "seed":
			cfg.Seed, err = strconv.ParseInt(value, 10, 64)
		case "num_workers":
			cfg.NumWorkers, err = strconv.Atoi(value)
		case "log_every":
			cfg.LogEvery, err = strconv.Atoi(value)
		case "viz_every":
			cfg.VizEvery, err = strconv.Atoi(value)
		default:
			return nil, fmt.Errorf("line %d: unknown key %s", lineNo, key)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
