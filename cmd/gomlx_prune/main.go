// gomlx_prune prunes the channels of a model saved in a directory (program.json and values.bin), following
// a YAML prune plan, and saves the pruned model into another directory.
//
// Usage:
//
//	gomlx_prune -plan=plan.yaml -output=<pruned_dir> <model_dir>
package main

import (
	"flag"
	"os"
	"path"

	"github.com/gomlx/prune/internal/plan"
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/ml/scope"
	"github.com/gomlx/prune/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagPlan   = flag.String("plan", "", "YAML file with the prune plan: the parameters to prune and the options.")
	flagOutput = flag.String("output", "", "Directory where to save the pruned model. "+
		"Defaults to the model directory with a \"_pruned\" suffix.")
	flagReport = flag.Bool("report", true, "Display the table of shape changes and a summary of the model sizes.")
	flagDryRun = flag.Bool("dry_run", false, "Prune and report, but don't save the pruned model.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one model directory to prune. See 'gomlx_prune -help'.")
		os.Exit(1)
	}
	if *flagPlan == "" {
		klog.Errorf("Missing -plan. See 'gomlx_prune -help'.")
		os.Exit(1)
	}
	modelDir := path.Clean(fsutil.MustReplaceTildeInDir(args[0]))
	outputDir := fsutil.MustReplaceTildeInDir(*flagOutput)
	if outputDir == "" {
		outputDir = modelDir + "_pruned"
	}
	if err := run(fsutil.MustReplaceTildeInDir(*flagPlan), modelDir, outputDir); err != nil {
		klog.Errorf("Failed to prune %q: %+v", modelDir, err)
		os.Exit(1)
	}
}

func run(planPath, modelDir, outputDir string) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	required := []string{program.ProgramFileName}
	if !p.OnlyGraph {
		required = append(required, scope.ValuesFileName)
	}
	if err = fsutil.RequireFiles(modelDir, required...); err != nil {
		return err
	}
	prog, err := program.Load(path.Join(modelDir, program.ProgramFileName))
	if err != nil {
		return err
	}
	values := scope.New()
	if !p.OnlyGraph {
		values, err = scope.Load(path.Join(modelDir, scope.ValuesFileName))
		if err != nil {
			return err
		}
	}
	config, err := p.Config(prog, values)
	if err != nil {
		return err
	}
	result, err := config.BackupShapes().Done()
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		klog.Warningf("%d pruning request(s) abandoned", len(result.Failed))
	}
	if *flagReport {
		report(prog, result)
	}
	if *flagDryRun {
		return nil
	}
	return save(outputDir, result.Program, values, p.OnlyGraph)
}

func save(outputDir string, prog *program.Program, values *scope.Scope, onlyGraph bool) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %q", outputDir)
	}
	if err := prog.Save(path.Join(outputDir, program.ProgramFileName)); err != nil {
		return err
	}
	if !onlyGraph {
		if err := values.Save(path.Join(outputDir, scope.ValuesFileName)); err != nil {
			return err
		}
	}
	klog.Infof("Pruned model saved to %q", outputDir)
	return nil
}
