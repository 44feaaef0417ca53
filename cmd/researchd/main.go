package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "researchd"}

	root.AddCommand(serveCMD(), migrateCMD(), askCMD(), historyCMD())
	_ = root.Execute()
}
