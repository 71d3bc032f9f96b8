package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/ml/prune"
	"github.com/gomlx/prune/pkg/support/xslices"
)

type modelSize struct {
	numVars, numParams int
	memory             uintptr
}

func sizeOf(prog *program.Program) (size modelSize) {
	for _, v := range prog.Vars() {
		if !v.Persistable {
			continue
		}
		size.numVars++
		size.numParams += v.Shape.Size()
		size.memory += v.Shape.Memory()
	}
	return
}

// report prints the shape changes of the pruned variables and the sizes of the model before and after pruning.
func report(original *program.Program, result *prune.Result) {
	fmt.Println(titleStyle.Render("Pruned variables"))
	table := newPlainTableWithReds(true, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Table.Headers("Name", "Before", "After", "Removed")
	for _, name := range xslices.SortedKeys(result.ShapeBackup) {
		v, _ := result.Program.Var(name)
		before, _ := original.Var(name)
		table.Row(false, name, fmt.Sprintf("%v", result.ShapeBackup[name]), fmt.Sprintf("%v", v.Shape.Dimensions),
			humanize.Comma(int64(before.Shape.Size()-v.Shape.Size())))
	}
	for _, name := range xslices.SortedKeys(result.Failed) {
		table.Row(true, name, "failed", result.Failed[name].Error(), "")
	}
	fmt.Println(table.Table.Render())

	fmt.Println(titleStyle.Render("Summary"))
	summary := newPlainTable(true, lipgloss.Right, lipgloss.Right, lipgloss.Right)
	summary.Headers("", "Before", "After")
	sizeBefore, sizeAfter := sizeOf(original), sizeOf(result.Program)
	summary.Row("# variables", humanize.Comma(int64(sizeBefore.numVars)), humanize.Comma(int64(sizeAfter.numVars)))
	summary.Row("# parameters", humanize.Comma(int64(sizeBefore.numParams)), humanize.Comma(int64(sizeAfter.numParams)))
	summary.Row("# bytes", humanize.Bytes(uint64(sizeBefore.memory)), humanize.Bytes(uint64(sizeAfter.memory)))
	fmt.Println(summary.Render())
}
