package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Camera-based classroom attendance",
	Long: `Rollcall takes attendance during a scheduled lesson. While a session is live
it captures camera frames, matches detected faces against the reference
photos of the enrolled students and marks them present. The instructor can
override any status by hand; ending the session marks everyone still unseen
absent and stores the result.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
