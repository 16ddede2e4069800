package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"voxface/internal/models"
	"voxface/pkg/config"
	"voxface/pkg/deface"
	"voxface/pkg/nifti"
	"voxface/pkg/qc"
)

func main() {
	// Parse command line arguments
	inFile := flag.String("i", "", "Structural MRI with intact face (.nii or .nii.gz)")
	outFile := flag.String("o", "", "Defaced image filename (default: <input>_defaced.nii.gz)")
	configPath := flag.String("config", "voxface.yaml", "Configuration file (YAML)")
	factorFlag := flag.String("factor", "", "Voxelation block size: one integer or x,y,z triple")
	orderFlag := flag.Int("order", -1, "Spline order for the downsample pass (0-5)")
	anteriorFlag := flag.Float64("anterior", 0, "Anterior face fraction in (0,1]")
	inferiorFlag := flag.Float64("inferior", 0, "Inferior face fraction in (0,1]")
	marginFlag := flag.Int("margin", -1, "Blend margin width in voxels")
	saveIntermediates := flag.Bool("save-intermediates", false, "Save the blend mask and voxelated volume")
	intermediateDir := flag.String("intermediate-dir", "", "Directory for intermediate volumes")
	qcDir := flag.String("qc-dir", "", "Directory for tri-planar QC snapshots")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config file: %v", err)
		}
		log.Infof("Wrote default configuration to %s", *configPath)
		return
	}

	// Validate inputs
	if *inFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	verboseSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "verbose" {
			verboseSet = true
		}
	})
	if resolveVerbose(cfg.Output.Verbose, verboseSet, *verbose) {
		log.SetLevel(log.DebugLevel)
	}

	applyFlagOverrides(cfg, *factorFlag, *orderFlag, *anteriorFlag, *inferiorFlag,
		*marginFlag, *saveIntermediates, *intermediateDir, *qcDir)

	params, err := cfg.Params()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	inPath, err := filepath.Abs(*inFile)
	if err != nil {
		log.Fatalf("Failed to resolve input path: %v", err)
	}
	outPath := *outFile
	if outPath == "" {
		outPath = defaultOutputName(inPath)
	}

	log.Infof("Faced image   : %s", inPath)
	log.Infof("Defaced image : %s", outPath)

	// Load the faced image
	log.Info("Loading faced image")
	vol, err := nifti.Read(inPath)
	if err != nil {
		log.Fatalf("Failed to read input volume: %v", err)
	}

	if params.SaveIntermediates {
		dir := cfg.Output.IntermediateDir
		params.IntermediateWriter = func(name string, v *models.Volume) error {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			path := filepath.Join(dir, name+".nii.gz")
			log.Infof("Saving intermediate volume: %s", path)
			return nifti.Write(path, v)
		}
	}

	// Run the voxelation pipeline
	log.Infof("Voxelating facial region (factor %v, spline order %d)",
		params.ReductionFactor, params.SplineOrder)
	defacer := deface.NewDefacer(params)
	startTime := time.Now()
	out, err := defacer.Run(vol)
	if err != nil {
		log.Fatalf("Defacing failed: %v", err)
	}
	elapsed := time.Since(startTime)

	log.Info("Saving defaced image")
	if err := nifti.Write(outPath, out); err != nil {
		log.Fatalf("Failed to write output volume: %v", err)
	}

	metrics := defacer.GetMetrics()
	fmt.Printf("\nDefacing completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Voxels changed   : %d (%.1f%% of volume)\n",
		metrics.VoxelsChanged, metrics.FractionChanged*100)
	fmt.Printf("Mean abs change  : %.3f (inside face box)\n", metrics.MeanAbsDiff)
	fmt.Printf("RMS change       : %.3f (inside face box)\n", metrics.RMSE)

	if cfg.Output.QCDir != "" {
		log.Infof("Rendering QC snapshots to %s", cfg.Output.QCDir)
		renderer := qc.NewRenderer(out)
		if err := renderer.SaveTriplanar(cfg.Output.QCDir, defacer.FaceBox()); err != nil {
			log.Warnf("Failed to save QC snapshots: %v", err)
		}
	}
}

// resolveVerbose picks the effective verbosity: the -verbose flag
// overrides the config value only when it was given on the command line.
func resolveVerbose(cfgVerbose, flagSet, flagValue bool) bool {
	if flagSet {
		return flagValue
	}
	return cfgVerbose
}

// applyFlagOverrides lets command line flags take precedence over the
// configuration file. Unset flags keep their sentinel values and leave
// the config untouched.
func applyFlagOverrides(cfg *config.Config, factor string, order int,
	anterior, inferior float64, margin int, saveIntermediates bool,
	intermediateDir, qcDir string) {

	if factor != "" {
		parts := strings.Split(factor, ",")
		factors := make([]int, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				log.Fatalf("Invalid -factor value %q: %v", factor, err)
			}
			factors = append(factors, f)
		}
		cfg.Deface.ReductionFactor = factors
	}
	if order >= 0 {
		cfg.Deface.SplineOrder = order
	}
	if anterior > 0 {
		cfg.Deface.FaceFractionAnterior = anterior
	}
	if inferior > 0 {
		cfg.Deface.FaceFractionInferior = inferior
	}
	if margin >= 0 {
		cfg.Deface.BlendMarginVoxels = margin
	}
	if saveIntermediates {
		cfg.Output.SaveIntermediates = true
	}
	if intermediateDir != "" {
		cfg.Output.IntermediateDir = intermediateDir
	}
	if qcDir != "" {
		cfg.Output.QCDir = qcDir
	}
}

// defaultOutputName derives the defaced filename from the input path,
// inserting _defaced before the NIfTI extension.
func defaultOutputName(inPath string) string {
	switch {
	case strings.HasSuffix(inPath, ".nii.gz"):
		return strings.TrimSuffix(inPath, ".nii.gz") + "_defaced.nii.gz"
	case strings.HasSuffix(inPath, ".nii"):
		return strings.TrimSuffix(inPath, ".nii") + "_defaced.nii"
	default:
		return inPath + "_defaced.nii.gz"
	}
}
